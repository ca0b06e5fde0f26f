package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/eventstore/internal/consumers"
	"example.com/eventstore/internal/domain"
	"example.com/eventstore/internal/store"
)

func TestDeliverTickAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	registry := newRegistry(t)
	seedEvents(t, events, "orders", 1, 3)
	require.NoError(t, registry.Save(ctx, webhookConsumer("c1", "orders")))

	sink := &stubSink{}
	m := NewManager(events, registry, Config{}, WithWebhookSink(sink))

	m.deliverTick(ctx, "orders", map[string]*retryState{})

	require.Len(t, sink.batches, 1)
	require.Equal(t, []int64{1, 2, 3}, batchSequences(sink.batches[0]))

	found, err := registry.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, found.Topics["orders"])
	require.Equal(t, int64(3), found.Topics["orders"].Sequence)
}

func TestDeliverTickStartsAfterInitialCursor(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	registry := newRegistry(t)
	seedEvents(t, events, "orders", 1, 5)

	consumer := webhookConsumer("c1", "orders")
	consumer.Topics["orders"] = &domain.EventID{Topic: "orders", Sequence: 3}
	require.NoError(t, registry.Save(ctx, consumer))

	sink := &stubSink{}
	m := NewManager(events, registry, Config{}, WithWebhookSink(sink))
	m.deliverTick(ctx, "orders", map[string]*retryState{})

	require.Len(t, sink.batches, 1)
	require.Equal(t, []int64{4, 5}, batchSequences(sink.batches[0]))
}

func TestDeliverCatchesUpInBatches(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	registry := newRegistry(t)
	seedEvents(t, events, "orders", 1, 5)
	require.NoError(t, registry.Save(ctx, webhookConsumer("c1", "orders")))

	sink := &stubSink{}
	m := NewManager(events, registry, Config{BatchSize: 2}, WithWebhookSink(sink))
	m.deliverTick(ctx, "orders", map[string]*retryState{})

	require.Len(t, sink.batches, 3)
	require.Equal(t, []int64{1, 2}, batchSequences(sink.batches[0]))
	require.Equal(t, []int64{3, 4}, batchSequences(sink.batches[1]))
	require.Equal(t, []int64{5}, batchSequences(sink.batches[2]))

	found, err := registry.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(5), found.Topics["orders"].Sequence)
}

func TestDeliveryFailureKeepsCursorAndBacksOff(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	registry := newRegistry(t)
	seedEvents(t, events, "orders", 1, 2)
	require.NoError(t, registry.Save(ctx, webhookConsumer("c1", "orders")))

	sink := &stubSink{err: domain.ErrRemoteDelivery}
	m := NewManager(events, registry, Config{}, WithWebhookSink(sink))
	retries := map[string]*retryState{}

	m.deliverTick(ctx, "orders", retries)
	require.Len(t, sink.batches, 1)

	found, err := registry.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.Nil(t, found.Topics["orders"], "cursor must not move on failure")
	require.Equal(t, 1, retries["c1"].attempts)
	require.True(t, retries["c1"].next.After(time.Now()))

	// Within the backoff window the consumer is skipped entirely.
	m.deliverTick(ctx, "orders", retries)
	require.Len(t, sink.batches, 1)

	// Once the endpoint recovers and the backoff elapses, the same events
	// are redelivered in order.
	sink.setErr(nil)
	retries["c1"].next = time.Now().Add(-time.Millisecond)
	m.deliverTick(ctx, "orders", retries)
	require.Len(t, sink.batches, 2)
	require.Equal(t, []int64{1, 2}, batchSequences(sink.batches[1]))
	require.Zero(t, retries["c1"].attempts)
}

func TestRetryDelaysGrowExponentially(t *testing.T) {
	state := newRetryState()
	require.Equal(t, time.Second, state.backoff.NextBackOff())
	require.Equal(t, 2*time.Second, state.backoff.NextBackOff())
	require.Equal(t, 4*time.Second, state.backoff.NextBackOff())
	for i := 0; i < 10; i++ {
		require.LessOrEqual(t, state.backoff.NextBackOff(), time.Minute)
	}
}

func TestConsumerParkedAfterExhaustingRetries(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	registry := newRegistry(t)
	seedEvents(t, events, "orders", 1, 1)
	require.NoError(t, registry.Save(ctx, webhookConsumer("c1", "orders")))

	sink := &stubSink{err: domain.ErrRemoteDelivery}
	m := NewManager(events, registry, Config{MaxAttempts: 2}, WithWebhookSink(sink))
	retries := map[string]*retryState{}

	m.deliverTick(ctx, "orders", retries)
	retries["c1"].next = time.Now().Add(-time.Millisecond)
	m.deliverTick(ctx, "orders", retries)

	found, err := registry.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, domain.ConsumerStatusFailing, found.Status)

	// Parked consumers are skipped on later ticks.
	sink.setErr(nil)
	retries["c1"].next = time.Time{}
	m.deliverTick(ctx, "orders", retries)
	require.Len(t, sink.batches, 2)
}

func TestConsumerRemovedUnderDeletePolicy(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	registry := newRegistry(t)
	seedEvents(t, events, "orders", 1, 1)
	require.NoError(t, registry.Save(ctx, webhookConsumer("c1", "orders")))

	sink := &stubSink{err: domain.ErrRemoteDelivery}
	m := NewManager(events, registry, Config{MaxAttempts: 1, DeleteOnExhaust: true}, WithWebhookSink(sink))

	m.deliverTick(ctx, "orders", map[string]*retryState{})

	found, err := registry.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestScopedTopicDelivery(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	registry := newRegistry(t)
	scope := domain.Scope{Tenant: "acme", Namespace: "prod"}
	require.NoError(t, events.StoreEvent(ctx, scope, domain.Event{
		ID:        domain.NewEventID(scope, "orders", 1),
		Timestamp: time.Now().UTC(),
		Type:      "order.created",
	}))
	require.NoError(t, registry.Save(ctx, webhookConsumer("c1", "acme/prod/orders")))

	sink := &stubSink{}
	m := NewManager(events, registry, Config{}, WithWebhookSink(sink))
	m.deliverTick(ctx, "acme/prod/orders", map[string]*retryState{})

	require.Len(t, sink.batches, 1)
	require.Equal(t, "acme/prod/orders-1", sink.batches[0][0].ID.String())

	found, err := registry.FindByID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(1), found.Topics["acme/prod/orders"].Sequence)
}

func TestWebhookSinkPostsBatch(t *testing.T) {
	var (
		mu       sync.Mutex
		received deliveryBody
		status   = http.StatusOK
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(status)
	}))
	defer server.Close()

	consumer := webhookConsumer("c1", "orders")
	consumer.Callback = server.URL

	sink := NewWebhookSink(time.Second)
	events := []domain.Event{{
		ID:        domain.EventID{Topic: "orders", Sequence: 1},
		Timestamp: time.Now().UTC(),
		Type:      "order.created",
		Payload:   map[string]any{"total": 12.5},
	}}
	require.NoError(t, sink.Deliver(context.Background(), consumer, events))

	mu.Lock()
	require.Equal(t, "c1", received.ConsumerID)
	require.Len(t, received.Events, 1)
	require.Equal(t, "orders-1", received.Events[0].ID.Value())
	status = http.StatusInternalServerError
	mu.Unlock()

	err := sink.Deliver(context.Background(), consumer, events)
	require.ErrorIs(t, err, domain.ErrRemoteDelivery)
}

func TestWebhookSinkUnreachableEndpoint(t *testing.T) {
	consumer := webhookConsumer("c1", "orders")
	consumer.Callback = "http://127.0.0.1:1/hook"

	sink := NewWebhookSink(200 * time.Millisecond)
	err := sink.Deliver(context.Background(), consumer, []domain.Event{{ID: domain.EventID{Topic: "orders", Sequence: 1}}})
	require.ErrorIs(t, err, domain.ErrRemoteDelivery)
}

func TestKafkaSinkWritesOneMessagePerEvent(t *testing.T) {
	writer := &stubWriter{}
	sink := &KafkaSink{
		writers:   make(map[string]messageWriter),
		newWriter: func(string) messageWriter { return writer },
	}

	consumer := domain.Consumer{ID: "c1", Type: domain.ConsumerTypeKafka, Target: "mirror"}
	scope := domain.Scope{Tenant: "acme", Namespace: "prod"}
	events := []domain.Event{
		{ID: domain.NewEventID(scope, "orders", 1), Timestamp: time.Now().UTC(), Type: "order.created"},
		{ID: domain.NewEventID(scope, "orders", 2), Timestamp: time.Now().UTC(), Type: "order.created"},
	}
	require.NoError(t, sink.Deliver(context.Background(), consumer, events))

	require.Len(t, writer.messages, 2)
	require.Equal(t, "acme/prod/orders-1", string(writer.messages[0].Key))
	require.Equal(t, "acme/prod/orders-2", string(writer.messages[1].Key))

	// The writer is reused per target topic.
	require.NoError(t, sink.Deliver(context.Background(), consumer, events[:1]))
	require.Len(t, sink.writers, 1)
}

func TestManagerLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := store.NewMemoryStore()
	registry := newRegistry(t)
	seedEvents(t, events, "orders", 1, 2)
	require.NoError(t, registry.Save(context.Background(), webhookConsumer("c1", "orders")))

	sink := &stubSink{}
	m := NewManager(events, registry, Config{TickInterval: 10 * time.Millisecond}, WithWebhookSink(sink))

	// Workers requested before Run start once Run provides the context.
	m.EnsureWorker("orders")
	require.Empty(t, m.Running())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		found, err := registry.FindByID(context.Background(), "c1")
		if err != nil || found == nil || found.Topics["orders"] == nil {
			return false
		}
		return found.Topics["orders"].Sequence == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"orders"}, m.Running())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

type stubSink struct {
	mu      sync.Mutex
	err     error
	batches [][]domain.Event
}

func (s *stubSink) Deliver(ctx context.Context, consumer domain.Consumer, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]domain.Event, len(events))
	copy(copied, events)
	s.batches = append(s.batches, copied)
	return s.err
}

func (s *stubSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type stubWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (w *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *stubWriter) Close() error { return nil }

func newRegistry(t *testing.T) *consumers.Registry {
	t.Helper()
	r, err := consumers.NewRegistry(filepath.Join(t.TempDir(), "consumers.json"))
	require.NoError(t, err)
	return r
}

func webhookConsumer(id string, topics ...string) domain.Consumer {
	subs := make(map[string]*domain.EventID, len(topics))
	for _, topic := range topics {
		subs[topic] = nil
	}
	return domain.Consumer{
		ID:           id,
		Type:         domain.ConsumerTypeWebhook,
		Callback:     "http://localhost:9000/hook",
		Status:       domain.ConsumerStatusActive,
		Topics:       subs,
		RegisteredAt: time.Now().UTC(),
	}
}

func seedEvents(t *testing.T, s *store.MemoryStore, topic string, from, to int64) {
	t.Helper()
	for seq := from; seq <= to; seq++ {
		require.NoError(t, s.StoreEvent(context.Background(), domain.Scope{}, domain.Event{
			ID:        domain.EventID{Topic: topic, Sequence: seq},
			Timestamp: time.Now().UTC(),
			Type:      "order.created",
			Payload:   map[string]any{"sequence": seq},
		}))
	}
}

func batchSequences(events []domain.Event) []int64 {
	out := make([]int64, 0, len(events))
	for _, event := range events {
		out = append(out, event.ID.Sequence)
	}
	return out
}
