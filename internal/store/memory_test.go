package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/eventstore/internal/domain"
)

func TestMemoryStoreReturnsEventsInSequenceOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Stored out of order; reads must come back ordered.
	for _, seq := range []int64{3, 1, 2} {
		require.NoError(t, s.StoreEvent(ctx, domain.Scope{}, makeEvent(domain.Scope{}, "orders", seq, baseTime)))
	}

	events, err := s.GetEvents(ctx, domain.Scope{}, "orders", domain.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, sequences(events))
}

func TestMemoryStoreSinceFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	storeRange(t, s, domain.Scope{}, "orders", 1, 5)

	since := domain.EventID{Topic: "orders", Sequence: 3}
	events, err := s.GetEvents(ctx, domain.Scope{}, "orders", domain.EventFilter{SinceEventID: &since})
	require.NoError(t, err)
	require.Equal(t, []int64{4, 5}, sequences(events))
}

func TestMemoryStoreSinceFilterAcrossTopics(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	storeRange(t, s, domain.Scope{}, "orders", 1, 3)

	// An id on a lexicographically smaller topic sorts before every event.
	before := domain.EventID{Topic: "alerts", Sequence: 99}
	events, err := s.GetEvents(ctx, domain.Scope{}, "orders", domain.EventFilter{SinceEventID: &before})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, sequences(events))

	// An id on a larger topic sorts after every event.
	after := domain.EventID{Topic: "shipments", Sequence: 0}
	events, err = s.GetEvents(ctx, domain.Scope{}, "orders", domain.EventFilter{SinceEventID: &after})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestMemoryStoreDateFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	scope := domain.Scope{}

	day1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.StoreEvent(ctx, scope, makeEvent(scope, "orders", 1, day1)))
	require.NoError(t, s.StoreEvent(ctx, scope, makeEvent(scope, "orders", 2, day2)))
	require.NoError(t, s.StoreEvent(ctx, scope, makeEvent(scope, "orders", 3, day1)))

	events, err := s.GetEvents(ctx, scope, "orders", domain.EventFilter{Date: "2026-01-01"})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, sequences(events))
}

func TestMemoryStoreDateFilterUsesConfiguredLocation(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	s := NewMemoryStore(WithLocation(est))
	ctx := context.Background()
	scope := domain.Scope{}

	// 00:30 UTC on Jan 2 is still Jan 1 in EST.
	ts := time.Date(2026, 1, 2, 0, 30, 0, 0, time.UTC)
	require.NoError(t, s.StoreEvent(ctx, scope, makeEvent(scope, "orders", 1, ts)))

	events, err := s.GetEvents(ctx, scope, "orders", domain.EventFilter{Date: "2026-01-01"})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, sequences(events))

	events, err = s.GetEvents(ctx, scope, "orders", domain.EventFilter{Date: "2026-01-02"})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestMemoryStoreRejectsMalformedDateFilter(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetEvents(context.Background(), domain.Scope{}, "orders", domain.EventFilter{Date: "01/02/2026"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestMemoryStoreLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	storeRange(t, s, domain.Scope{}, "orders", 1, 10)

	events, err := s.GetEvents(ctx, domain.Scope{}, "orders", domain.EventFilter{Limit: 3})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, sequences(events))
}

func TestMemoryStoreLimitWithDateKeepsEarliestMatches(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	scope := domain.Scope{}

	match := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	other := match.AddDate(0, 0, 1)
	for seq := int64(1); seq <= 8; seq++ {
		ts := match
		if seq%2 == 0 {
			ts = other
		}
		require.NoError(t, s.StoreEvent(ctx, scope, makeEvent(scope, "orders", seq, ts)))
	}

	events, err := s.GetEvents(ctx, scope, "orders", domain.EventFilter{Date: "2026-03-14", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, sequences(events))
}

func TestMemoryStoreCombinedFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	scope := domain.Scope{}

	match := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for seq := int64(1); seq <= 9; seq++ {
		require.NoError(t, s.StoreEvent(ctx, scope, makeEvent(scope, "orders", seq, match)))
	}

	since := domain.EventID{Topic: "orders", Sequence: 2}
	events, err := s.GetEvents(ctx, scope, "orders", domain.EventFilter{
		SinceEventID: &since,
		Date:         "2026-03-14",
		Limit:        3,
	})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 4, 5}, sequences(events))
}

func TestMemoryStoreRejectsEmptyBatch(t *testing.T) {
	s := NewMemoryStore()
	err := s.StoreEvents(context.Background(), domain.Scope{}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestMemoryStoreBatchIsAtomicOnDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	scope := domain.Scope{}
	require.NoError(t, s.StoreEvent(ctx, scope, makeEvent(scope, "orders", 2, baseTime)))

	err := s.StoreEvents(ctx, scope, []domain.Event{
		makeEvent(scope, "orders", 3, baseTime),
		makeEvent(scope, "orders", 2, baseTime),
	})
	require.ErrorIs(t, err, domain.ErrEventStorage)

	events, err := s.GetEvents(ctx, scope, "orders", domain.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, sequences(events))
}

func TestMemoryStoreScopeIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tenant := domain.Scope{Tenant: "acme", Namespace: "prod"}

	require.NoError(t, s.StoreEvent(ctx, domain.Scope{}, makeEvent(domain.Scope{}, "orders", 1, baseTime)))
	require.NoError(t, s.StoreEvent(ctx, tenant, makeEvent(tenant, "orders", 1, baseTime)))
	require.NoError(t, s.StoreEvent(ctx, tenant, makeEvent(tenant, "orders", 2, baseTime)))

	defaults, err := s.GetEvents(ctx, domain.Scope{}, "orders", domain.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, sequences(defaults))

	scoped, err := s.GetEvents(ctx, tenant, "orders", domain.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, sequences(scoped))
	require.Equal(t, "acme/prod/orders-1", scoped[0].ID.String())
}

func TestMemoryStoreGetEvent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	scope := domain.Scope{}
	require.NoError(t, s.StoreEvent(ctx, scope, makeEvent(scope, "orders", 7, baseTime)))

	event, err := s.GetEvent(ctx, scope, domain.EventID{Topic: "orders", Sequence: 7})
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, "orders-7", event.ID.Value())

	missing, err := s.GetEvent(ctx, scope, domain.EventID{Topic: "orders", Sequence: 8})
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMemoryStoreLatestEventID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	scope := domain.Scope{}

	latest, err := s.GetLatestEventID(ctx, scope, "orders")
	require.NoError(t, err)
	require.Nil(t, latest)

	storeRange(t, s, scope, "orders", 1, 4)
	latest, err = s.GetLatestEventID(ctx, scope, "orders")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(4), latest.Sequence)

	// Property: the latest id equals the last element of an unfiltered read.
	events, err := s.GetEvents(ctx, scope, "orders", domain.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, *latest, events[len(events)-1].ID)
}

var baseTime = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func makeEvent(scope domain.Scope, topic string, sequence int64, ts time.Time) domain.Event {
	return domain.Event{
		ID:        domain.NewEventID(scope, topic, sequence),
		Timestamp: ts,
		Type:      "test.recorded",
		Payload:   map[string]any{"sequence": sequence},
	}
}

func storeRange(t *testing.T, s domain.EventStore, scope domain.Scope, topic string, from, to int64) {
	t.Helper()
	for seq := from; seq <= to; seq++ {
		require.NoError(t, s.StoreEvent(context.Background(), scope, makeEvent(scope, topic, seq, baseTime)))
	}
}

func sequences(events []domain.Event) []int64 {
	out := make([]int64, 0, len(events))
	for _, event := range events {
		out = append(out, event.ID.Sequence)
	}
	return out
}
