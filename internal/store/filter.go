package store

import (
	"container/heap"
	"fmt"
	"sort"
	"time"

	"example.com/eventstore/internal/domain"
)

// matcher evaluates a GetEvents filter against one topic's events. Filters
// compose conjunctively.
type matcher struct {
	// floor excludes events with sequence <= floor; -1 keeps everything.
	floor int64
	// none short-circuits the whole scan when the since id sorts after the
	// topic.
	none bool
	date string
	loc  *time.Location
}

func newMatcher(topic string, filter domain.EventFilter, loc *time.Location) (matcher, error) {
	m := matcher{floor: -1, loc: loc}
	if filter.SinceEventID != nil {
		since := *filter.SinceEventID
		switch {
		case since.Topic == topic:
			m.floor = since.Sequence
		case since.Topic > topic:
			// Every event on this topic compares <= since.
			m.none = true
		}
	}
	if filter.Date != "" {
		if _, err := time.Parse("2006-01-02", filter.Date); err != nil {
			return matcher{}, fmt.Errorf("%w: date filter %q is not an ISO date", domain.ErrInvalidArgument, filter.Date)
		}
		m.date = filter.Date
	}
	return m, nil
}

func (m matcher) matchSequence(sequence int64) bool {
	return sequence > m.floor
}

func (m matcher) matchDate(ts time.Time) bool {
	if m.date == "" {
		return true
	}
	return ts.In(m.loc).Format("2006-01-02") == m.date
}

func (m matcher) matches(event domain.Event) bool {
	return m.matchSequence(event.ID.Sequence) && m.matchDate(event.Timestamp)
}

// dateWindow returns the [start, end) instants of the filter's local date, for
// backends that can range-scan on time.
func (m matcher) dateWindow() (time.Time, time.Time, bool) {
	if m.date == "" {
		return time.Time{}, time.Time{}, false
	}
	day, _ := time.ParseInLocation("2006-01-02", m.date, m.loc)
	return day, day.AddDate(0, 0, 1), true
}

// collector gathers filtered events without retaining every match when a
// limit is set. Traversal feeds events in ascending sequence order; with a
// date filter the survivors still need the final sort, so a bounded max-heap
// keeps only the limit smallest sequences.
type collector struct {
	limit  int
	sorted bool
	heap   maxSeqHeap
	events []domain.Event
}

func newCollector(filter domain.EventFilter) *collector {
	c := &collector{sorted: filter.Date != ""}
	if filter.Limit > 0 {
		c.limit = filter.Limit
	}
	return c
}

// add records one matching event. It returns true once the caller can stop
// traversing, which only happens for limited scans without a date filter.
func (c *collector) add(event domain.Event) (done bool) {
	if c.limit > 0 && c.sorted {
		heap.Push(&c.heap, event)
		if c.heap.Len() > c.limit {
			heap.Pop(&c.heap)
		}
		return false
	}
	c.events = append(c.events, event)
	return c.limit > 0 && len(c.events) >= c.limit
}

// result returns the collected events in ascending sequence order. The slice
// is never nil so callers can hand it straight to a JSON encoder.
func (c *collector) result() []domain.Event {
	if c.limit > 0 && c.sorted {
		c.events = append(c.events[:0], c.heap...)
	}
	if c.events == nil {
		c.events = []domain.Event{}
	}
	if c.sorted {
		sort.Slice(c.events, func(i, j int) bool {
			return c.events[i].ID.Sequence < c.events[j].ID.Sequence
		})
	}
	return c.events
}

// maxSeqHeap is a max-heap of events keyed by sequence.
type maxSeqHeap []domain.Event

func (h maxSeqHeap) Len() int           { return len(h) }
func (h maxSeqHeap) Less(i, j int) bool { return h[i].ID.Sequence > h[j].ID.Sequence }
func (h maxSeqHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxSeqHeap) Push(x any)        { *h = append(*h, x.(domain.Event)) }
func (h *maxSeqHeap) Pop() any {
	old := *h
	n := len(old)
	event := old[n-1]
	*h = old[:n-1]
	return event
}
