// Package dispatch runs the at-least-once delivery loop: one worker per
// qualified topic, woken by a ticker and by publish nudges, delivering event
// batches to each subscribed consumer in cursor order.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"example.com/eventstore/internal/domain"
)

// CursorStore is the consumer registry surface the dispatcher needs: lookups
// plus the per-topic cursor and status updates that must not lose concurrent
// writes from other workers.
type CursorStore interface {
	domain.ConsumerRegistry
	AdvanceCursor(ctx context.Context, id, qualifiedTopic string, cursor domain.EventID) error
	SetStatus(ctx context.Context, id string, status domain.ConsumerStatus) error
}

// Config tunes the delivery loop. Zero values fall back to the defaults
// below.
type Config struct {
	TickInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	WebhookTimeout  time.Duration
	KafkaBrokers    []string
	DeleteOnExhaust bool
}

const (
	defaultTickInterval   = 500 * time.Millisecond
	defaultBatchSize      = 25
	defaultMaxAttempts    = 8
	defaultWebhookTimeout = 10 * time.Second
)

// Manager owns the topic workers. Workers spawned before Run are queued and
// started when Run provides the lifetime context.
type Manager struct {
	store    domain.EventStore
	registry CursorStore
	cfg      Config
	webhook  Sink
	kafka    Sink
	logger   *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	wg      sync.WaitGroup
	workers map[string]*worker
	pending map[string]bool
}

type worker struct {
	topic string
	nudge chan struct{}
}

// Option customises Manager construction.
type Option func(*Manager)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithWebhookSink overrides the webhook sink.
func WithWebhookSink(sink Sink) Option {
	return func(m *Manager) { m.webhook = sink }
}

// WithKafkaSink overrides the kafka sink.
func WithKafkaSink(sink Sink) Option {
	return func(m *Manager) { m.kafka = sink }
}

// NewManager constructs a dispatcher over the given store and registry.
func NewManager(store domain.EventStore, registry CursorStore, cfg Config, opts ...Option) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = defaultWebhookTimeout
	}
	m := &Manager{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   zap.NewNop(),
		workers:  make(map[string]*worker),
		pending:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.webhook == nil {
		m.webhook = NewWebhookSink(cfg.WebhookTimeout)
	}
	if m.kafka == nil {
		m.kafka = NewKafkaSink(cfg.KafkaBrokers)
	}
	return m
}

// Run starts the queued workers and blocks until ctx is cancelled, then
// waits for every worker to finish its current tick.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	queued := make([]string, 0, len(m.pending))
	for topic := range m.pending {
		queued = append(queued, topic)
	}
	m.pending = make(map[string]bool)
	m.mu.Unlock()

	for _, topic := range queued {
		m.EnsureWorker(topic)
	}

	<-ctx.Done()
	m.wg.Wait()
	if closer, ok := m.kafka.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return ctx.Err()
}

// EnsureWorker makes sure a delivery worker exists for the qualified topic.
func (m *Manager) EnsureWorker(qualifiedTopic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[qualifiedTopic]; ok {
		return
	}
	if m.ctx == nil {
		m.pending[qualifiedTopic] = true
		return
	}
	w := &worker{topic: qualifiedTopic, nudge: make(chan struct{}, 1)}
	m.workers[qualifiedTopic] = w
	m.wg.Add(1)
	go m.runWorker(m.ctx, w)
	m.logger.Info("dispatch worker started", zap.String("topic", qualifiedTopic))
}

// Nudge wakes the topic's worker without waiting for the next tick.
func (m *Manager) Nudge(qualifiedTopic string) {
	m.mu.Lock()
	w := m.workers[qualifiedTopic]
	m.mu.Unlock()
	if w == nil {
		return
	}
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Running returns the qualified topics with a live worker, sorted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	topics := make([]string, 0, len(m.workers))
	for topic := range m.workers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (m *Manager) runWorker(ctx context.Context, w *worker) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	// Retry state lives for the worker's lifetime, one entry per consumer.
	retries := make(map[string]*retryState)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.nudge:
		}
		m.deliverTick(ctx, w.topic, retries)
	}
}

// deliverTick fans one delivery round out across the topic's consumers and
// waits for all of them, so a consumer never has two in-flight batches.
func (m *Manager) deliverTick(ctx context.Context, topic string, retries map[string]*retryState) {
	consumers, err := m.registry.FindByTopic(ctx, topic)
	if err != nil {
		m.logger.Warn("consumer lookup failed", zap.String("topic", topic), zap.Error(err))
		return
	}

	now := time.Now()
	var wg sync.WaitGroup
	for _, consumer := range consumers {
		if consumer.Status != domain.ConsumerStatusActive {
			continue
		}
		state := retries[consumer.ID]
		if state == nil {
			state = newRetryState()
			retries[consumer.ID] = state
		}
		if now.Before(state.next) {
			continue
		}
		wg.Add(1)
		go func(c domain.Consumer, s *retryState) {
			defer wg.Done()
			m.deliverToConsumer(ctx, topic, c, s)
		}(consumer, state)
	}
	wg.Wait()
}

// deliverToConsumer pushes batches from the consumer's cursor to the head of
// the stream, advancing the cursor after each acknowledged batch.
func (m *Manager) deliverToConsumer(ctx context.Context, topic string, consumer domain.Consumer, state *retryState) {
	scope, bare := domain.SplitQualified(topic)
	cursor := consumer.Topics[topic]

	for {
		events, err := m.store.GetEvents(ctx, scope, bare, domain.EventFilter{SinceEventID: cursor, Limit: m.cfg.BatchSize})
		if err != nil {
			m.logger.Warn("event fetch failed", zap.String("topic", topic), zap.String("consumer", consumer.ID), zap.Error(err))
			return
		}
		if len(events) == 0 {
			state.reset()
			return
		}

		start := time.Now()
		err = m.sinkFor(consumer).Deliver(ctx, consumer, events)
		batchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			m.handleFailure(ctx, topic, consumer, state, err)
			return
		}

		last := events[len(events)-1].ID
		if err := m.registry.AdvanceCursor(ctx, consumer.ID, topic, last); err != nil {
			m.logger.Warn("cursor update failed", zap.String("topic", topic), zap.String("consumer", consumer.ID), zap.Error(err))
			return
		}
		state.reset()
		deliveredCounter.WithLabelValues(topic).Add(float64(len(events)))

		if len(events) < m.cfg.BatchSize {
			return
		}
		cursor = &last
	}
}

func (m *Manager) handleFailure(ctx context.Context, topic string, consumer domain.Consumer, state *retryState, cause error) {
	state.attempts++
	delay := state.backoff.NextBackOff()
	state.next = time.Now().Add(delay)
	failedCounter.WithLabelValues(topic).Inc()
	m.logger.Warn("delivery failed",
		zap.String("topic", topic),
		zap.String("consumer", consumer.ID),
		zap.Int("attempt", state.attempts),
		zap.Duration("retry_in", delay),
		zap.Error(cause),
	)

	if state.attempts < m.cfg.MaxAttempts {
		return
	}
	if m.cfg.DeleteOnExhaust {
		if _, err := m.registry.Delete(ctx, consumer.ID); err != nil {
			m.logger.Error("consumer removal failed", zap.String("consumer", consumer.ID), zap.Error(err))
			return
		}
		removedCounter.Inc()
		m.logger.Error("consumer removed after exhausting retries",
			zap.String("topic", topic), zap.String("consumer", consumer.ID), zap.Int("attempts", state.attempts))
		return
	}
	if err := m.registry.SetStatus(ctx, consumer.ID, domain.ConsumerStatusFailing); err != nil {
		m.logger.Error("consumer parking failed", zap.String("consumer", consumer.ID), zap.Error(err))
		return
	}
	parkedGauge.Inc()
	m.logger.Error("consumer parked after exhausting retries",
		zap.String("topic", topic), zap.String("consumer", consumer.ID), zap.Int("attempts", state.attempts))
}

func (m *Manager) sinkFor(consumer domain.Consumer) Sink {
	if consumer.Type == domain.ConsumerTypeKafka {
		return m.kafka
	}
	return m.webhook
}

// retryState tracks one consumer's failure streak on one topic. The schedule
// is consulted at tick granularity, so the worker never blocks on a backoff.
type retryState struct {
	attempts int
	next     time.Time
	backoff  *backoff.ExponentialBackOff
}

func newRetryState() *retryState {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return &retryState{backoff: b}
}

func (s *retryState) reset() {
	if s.attempts == 0 {
		return
	}
	s.attempts = 0
	s.next = time.Time{}
	s.backoff.Reset()
}
