// Package topics manages topic lifecycle and allocates per-topic sequence
// numbers.
package topics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"example.com/eventstore/internal/domain"
)

// entry pairs a topic with the mutex that serialises its mutations. Sequence
// allocation, sequence resets and schema updates all run under entry.mu.
type entry struct {
	mu    sync.Mutex
	topic domain.Topic
}

// Registry is the in-process topic registry. The registry-level lock guards
// the map; each topic carries its own lock so sequence allocation on one topic
// never blocks another.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	store     ConfigStore
	validator domain.PayloadValidator
	logger    *zap.Logger
}

// Option customises Registry construction.
type Option func(*Registry)

// WithConfigStore persists every mutation through the given store.
func WithConfigStore(store ConfigStore) Option {
	return func(r *Registry) { r.store = store }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry constructs a Registry, loading any persisted topics and
// registering their schemas with the validator.
func NewRegistry(validator domain.PayloadValidator, opts ...Option) (*Registry, error) {
	r := &Registry{
		entries:   make(map[string]*entry),
		validator: validator,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.store == nil {
		return r, nil
	}
	loaded, err := r.store.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, topic := range loaded {
		qualified := topic.QualifiedName()
		if err := r.validator.RegisterSchemas(qualified, topic.Schemas); err != nil {
			return nil, fmt.Errorf("restore schemas for %s: %w", qualified, err)
		}
		r.entries[qualified] = &entry{topic: topic}
		r.logger.Info("topic restored", zap.String("topic", qualified), zap.Int64("sequence", topic.Sequence))
	}
	return r, nil
}

// CreateTopic registers a new topic with sequence 0. The (tenant, namespace,
// name) triple must be free, and a scoped name must not shadow a legacy
// default-scope topic.
func (r *Registry) CreateTopic(ctx context.Context, topic domain.Topic) (domain.Topic, error) {
	if strings.TrimSpace(topic.Name) == "" {
		return domain.Topic{}, fmt.Errorf("%w: topic name is required", domain.ErrInvalidArgument)
	}
	topic.Sequence = 0
	qualified := topic.QualifiedName()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[qualified]; exists {
		return domain.Topic{}, fmt.Errorf("%w: %s", domain.ErrTopicExists, qualified)
	}
	if !topic.Scope().IsDefault() {
		if _, exists := r.entries[topic.Name]; exists {
			return domain.Topic{}, fmt.Errorf("%w: legacy topic %s", domain.ErrTopicExists, topic.Name)
		}
	}

	if err := r.validator.RegisterSchemas(qualified, topic.Schemas); err != nil {
		return domain.Topic{}, err
	}
	if err := r.persist(topic); err != nil {
		// Roll the validator back so a failed create leaves no trace.
		_ = r.validator.RegisterSchemas(qualified, nil)
		return domain.Topic{}, err
	}

	r.entries[qualified] = &entry{topic: topic}
	return snapshot(topic), nil
}

// GetTopic returns a copy of the topic, or TopicNotFound.
func (r *Registry) GetTopic(ctx context.Context, name string, scope domain.Scope) (domain.Topic, error) {
	e := r.lookup(scope.Qualify(name))
	if e == nil {
		return domain.Topic{}, fmt.Errorf("%w: %s", domain.ErrTopicNotFound, scope.Qualify(name))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.topic), nil
}

// TopicExists reports whether the topic is registered in the scope.
func (r *Registry) TopicExists(ctx context.Context, name string, scope domain.Scope) bool {
	return r.lookup(scope.Qualify(name)) != nil
}

// GetAllTopics returns a copy of every topic across all scopes, ordered by
// qualified name.
func (r *Registry) GetAllTopics(ctx context.Context) []domain.Topic {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	topics := make([]domain.Topic, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		topics = append(topics, snapshot(e.topic))
		e.mu.Unlock()
	}
	sort.Slice(topics, func(i, j int) bool {
		return topics[i].QualifiedName() < topics[j].QualifiedName()
	})
	return topics
}

// UpdateSequence unconditionally sets the topic's sequence. Used by recovery
// paths; normal publishes go through GetAndIncrementSequence.
func (r *Registry) UpdateSequence(ctx context.Context, name string, sequence int64, scope domain.Scope) error {
	e := r.lookup(scope.Qualify(name))
	if e == nil {
		return fmt.Errorf("%w: %s", domain.ErrTopicNotFound, scope.Qualify(name))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.topic.Sequence
	e.topic.Sequence = sequence
	if err := r.persist(e.topic); err != nil {
		e.topic.Sequence = previous
		return err
	}
	return nil
}

// GetAndIncrementSequence atomically allocates the next sequence number and
// returns it. This is the sole source of sequence numbers for new events.
func (r *Registry) GetAndIncrementSequence(ctx context.Context, name string, scope domain.Scope) (int64, error) {
	e := r.lookup(scope.Qualify(name))
	if e == nil {
		return 0, fmt.Errorf("%w: %s", domain.ErrTopicNotFound, scope.Qualify(name))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.topic.Sequence++
	if err := r.persist(e.topic); err != nil {
		e.topic.Sequence--
		return 0, err
	}
	return e.topic.Sequence, nil
}

// UpdateSchemas applies an additive schema change. Every previously registered
// event type must survive; the sequence is untouched.
func (r *Registry) UpdateSchemas(ctx context.Context, name string, schemas []domain.Schema, scope domain.Scope) (domain.Topic, error) {
	qualified := scope.Qualify(name)
	e := r.lookup(qualified)
	if e == nil {
		return domain.Topic{}, fmt.Errorf("%w: %s", domain.ErrTopicNotFound, qualified)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if missing := removedEventTypes(e.topic.Schemas, schemas); len(missing) > 0 {
		return domain.Topic{}, fmt.Errorf("%w: schema update for %s removes event types %s",
			domain.ErrInvalidArgument, qualified, strings.Join(missing, ", "))
	}

	previous := e.topic.CloneSchemas()
	if err := r.validator.RegisterSchemas(qualified, schemas); err != nil {
		return domain.Topic{}, err
	}

	e.topic.Schemas = schemas
	if err := r.persist(e.topic); err != nil {
		e.topic.Schemas = previous
		if restoreErr := r.validator.RegisterSchemas(qualified, previous); restoreErr != nil {
			r.logger.Error("failed to restore schemas after persist failure",
				zap.String("topic", qualified), zap.Error(restoreErr))
		}
		return domain.Topic{}, err
	}
	return snapshot(e.topic), nil
}

func (r *Registry) lookup(qualified string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[qualified]
}

func (r *Registry) persist(topic domain.Topic) error {
	if r.store == nil {
		return nil
	}
	return r.store.Save(topic)
}

// removedEventTypes lists event types present before but absent from the new
// set.
func removedEventTypes(before, after []domain.Schema) []string {
	kept := make(map[string]struct{}, len(after))
	for _, schema := range after {
		kept[schema.EventType] = struct{}{}
	}
	var missing []string
	for _, schema := range before {
		if _, ok := kept[schema.EventType]; !ok {
			missing = append(missing, schema.EventType)
		}
	}
	sort.Strings(missing)
	return missing
}

func snapshot(topic domain.Topic) domain.Topic {
	out := topic
	out.Schemas = topic.CloneSchemas()
	return out
}
