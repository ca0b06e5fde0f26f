package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"example.com/eventstore/internal/domain"
)

// MemoryStore keeps events in per-topic slices ordered by sequence. It backs
// tests and the "memory" backend, where durability is explicitly not wanted.
type MemoryStore struct {
	mu       sync.RWMutex
	topics   map[string][]domain.Event
	settings settings
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		topics:   make(map[string][]domain.Event),
		settings: applyOptions(opts),
	}
}

// StoreEvent persists a single event.
func (s *MemoryStore) StoreEvent(ctx context.Context, scope domain.Scope, event domain.Event) error {
	return s.StoreEvents(ctx, scope, []domain.Event{event})
}

// StoreEvents persists a batch atomically: the batch is checked against the
// stored streams before anything is inserted.
func (s *MemoryStore) StoreEvents(ctx context.Context, scope domain.Scope, events []domain.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: empty event batch", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]map[int64]bool)
	for _, event := range events {
		key := scope.Qualify(event.ID.Topic)
		if s.hasSequenceLocked(key, event.ID.Sequence) || seen[key][event.ID.Sequence] {
			recordWriteFailure("memory")
			return fmt.Errorf("%w: %s already stored", domain.ErrEventStorage, event.ID.Value())
		}
		if seen[key] == nil {
			seen[key] = make(map[int64]bool)
		}
		seen[key][event.ID.Sequence] = true
	}
	for _, event := range events {
		key := scope.Qualify(event.ID.Topic)
		s.topics[key] = insertBySequence(s.topics[key], event)
		recordWrite("memory")
	}
	return nil
}

// GetEvent returns the event with the given id, or nil when absent.
func (s *MemoryStore) GetEvent(ctx context.Context, scope domain.Scope, id domain.EventID) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.topics[scope.Qualify(id.Topic)]
	i := searchSequence(events, id.Sequence)
	if i >= len(events) || events[i].ID.Sequence != id.Sequence {
		return nil, nil
	}
	event := events[i]
	event.ID.Tenant = scope.Tenant
	event.ID.Namespace = scope.Namespace
	return &event, nil
}

// GetEvents returns the topic's events matching the filter in ascending
// sequence order.
func (s *MemoryStore) GetEvents(ctx context.Context, scope domain.Scope, topic string, filter domain.EventFilter) ([]domain.Event, error) {
	m, err := newMatcher(topic, filter, s.settings.loc)
	if err != nil {
		return nil, err
	}
	if m.none {
		return []domain.Event{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.topics[scope.Qualify(topic)]
	c := newCollector(filter)
	for _, event := range events[searchSequence(events, m.floor+1):] {
		if !m.matchDate(event.Timestamp) {
			continue
		}
		event.ID.Tenant = scope.Tenant
		event.ID.Namespace = scope.Namespace
		if c.add(event) {
			break
		}
	}
	return c.result(), nil
}

// GetLatestEventID returns the id of the newest stored event, or nil for an
// empty stream.
func (s *MemoryStore) GetLatestEventID(ctx context.Context, scope domain.Scope, topic string) (*domain.EventID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.topics[scope.Qualify(topic)]
	if len(events) == 0 {
		return nil, nil
	}
	id := events[len(events)-1].ID
	id.Tenant = scope.Tenant
	id.Namespace = scope.Namespace
	return &id, nil
}

func (s *MemoryStore) hasSequenceLocked(key string, sequence int64) bool {
	events := s.topics[key]
	i := searchSequence(events, sequence)
	return i < len(events) && events[i].ID.Sequence == sequence
}

func insertBySequence(events []domain.Event, event domain.Event) []domain.Event {
	i := searchSequence(events, event.ID.Sequence)
	events = append(events, domain.Event{})
	copy(events[i+1:], events[i:])
	events[i] = event
	return events
}

func searchSequence(events []domain.Event, sequence int64) int {
	return sort.Search(len(events), func(i int) bool {
		return events[i].ID.Sequence >= sequence
	})
}
