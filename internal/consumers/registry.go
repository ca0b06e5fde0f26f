// Package consumers keeps the registered consumers and their delivery
// cursors in a single JSON file, loaded at startup and rewritten on every
// mutation.
package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"example.com/eventstore/internal/domain"
)

// Registry implements domain.ConsumerRegistry plus the cursor and status
// updates the dispatcher needs. All mutations go through one mutex; reads
// hand out deep copies.
type Registry struct {
	mu     sync.Mutex
	path   string
	items  map[string]domain.Consumer
	logger *zap.Logger
}

// Option customises Registry construction.
type Option func(*Registry)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry loads the registry file at path, which may not exist yet. A
// file that exists but cannot be decoded fails construction rather than
// silently dropping registrations.
func NewRegistry(path string, opts ...Option) (*Registry, error) {
	r := &Registry{
		path:   path,
		items:  make(map[string]domain.Consumer),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read consumer registry: %w", err)
	}
	var stored []domain.Consumer
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode consumer registry %s: %w", path, err)
	}
	for _, consumer := range stored {
		r.items[consumer.ID] = consumer
	}
	r.logger.Info("consumer registry loaded", zap.Int("consumers", len(stored)))
	return r, nil
}

// Save inserts or replaces a consumer.
func (r *Registry) Save(ctx context.Context, consumer domain.Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, existed := r.items[consumer.ID]
	r.items[consumer.ID] = consumer.Clone()
	if err := r.persistLocked(); err != nil {
		if existed {
			r.items[consumer.ID] = previous
		} else {
			delete(r.items, consumer.ID)
		}
		return err
	}
	return nil
}

// FindByID returns a copy of the consumer, or nil when unknown.
func (r *Registry) FindByID(ctx context.Context, id string) (*domain.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	consumer, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	clone := consumer.Clone()
	return &clone, nil
}

// FindAll returns every consumer ordered by registration time.
func (r *Registry) FindAll(ctx context.Context) ([]domain.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(domain.Consumer) bool { return true }), nil
}

// FindByTopic returns the consumers subscribed to the qualified topic name.
func (r *Registry) FindByTopic(ctx context.Context, qualifiedTopic string) ([]domain.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(c domain.Consumer) bool { return c.SubscribedTo(qualifiedTopic) }), nil
}

// FindByTenantAndNamespace returns the consumers with at least one
// subscription in the given scope. Empty tenant and namespace select
// consumers of default-scope topics.
func (r *Registry) FindByTenantAndNamespace(ctx context.Context, tenant, namespace string) ([]domain.Consumer, error) {
	want := domain.Scope{Tenant: tenant, Namespace: namespace}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(c domain.Consumer) bool {
		for topic := range c.Topics {
			if scope, _ := domain.SplitQualified(topic); scope == want {
				return true
			}
		}
		return false
	}), nil
}

// Delete removes a consumer and reports whether it existed.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, ok := r.items[id]
	if !ok {
		return false, nil
	}
	delete(r.items, id)
	if err := r.persistLocked(); err != nil {
		r.items[id] = previous
		return false, err
	}
	return true, nil
}

// Count returns the number of registered consumers.
func (r *Registry) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items), nil
}

// AdvanceCursor moves a consumer's cursor for one topic forward. Stale
// cursors are ignored so replays can never rewind a consumer.
func (r *Registry) AdvanceCursor(ctx context.Context, id, qualifiedTopic string, cursor domain.EventID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	consumer, ok := r.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConsumerNotFound, id)
	}
	current, subscribed := consumer.Topics[qualifiedTopic]
	if !subscribed {
		return fmt.Errorf("%w: consumer %s is not subscribed to %s", domain.ErrInvalidArgument, id, qualifiedTopic)
	}
	if current != nil && cursor.Compare(*current) <= 0 {
		return nil
	}
	updated := consumer.Clone()
	updated.Topics[qualifiedTopic] = &cursor
	r.items[id] = updated
	if err := r.persistLocked(); err != nil {
		r.items[id] = consumer
		return err
	}
	return nil
}

// SetStatus updates a consumer's delivery status.
func (r *Registry) SetStatus(ctx context.Context, id string, status domain.ConsumerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	consumer, ok := r.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConsumerNotFound, id)
	}
	if consumer.Status == status {
		return nil
	}
	updated := consumer.Clone()
	updated.Status = status
	r.items[id] = updated
	if err := r.persistLocked(); err != nil {
		r.items[id] = consumer
		return err
	}
	return nil
}

func (r *Registry) sortedLocked(keep func(domain.Consumer) bool) []domain.Consumer {
	out := make([]domain.Consumer, 0, len(r.items))
	for _, consumer := range r.items {
		if keep(consumer) {
			out = append(out, consumer.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) persistLocked() error {
	consumers := make([]domain.Consumer, 0, len(r.items))
	for _, consumer := range r.items {
		consumers = append(consumers, consumer)
	}
	sort.Slice(consumers, func(i, j int) bool { return consumers[i].ID < consumers[j].ID })

	data, err := json.MarshalIndent(consumers, "", "  ")
	if err != nil {
		return fmt.Errorf("encode consumer registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("write consumer registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write consumer registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write consumer registry: %w", err)
	}
	return nil
}
