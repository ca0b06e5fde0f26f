package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/eventstore/internal/observability"
)

// PayloadValidator checks event payloads against registered schemas. Topics
// are addressed by their qualified name.
type PayloadValidator interface {
	RegisterSchemas(qualifiedTopic string, schemas []Schema) error
	ValidateEvent(qualifiedTopic, eventType string, payload any) error
}

// TopicRegistry manages topic lifecycle and is the sole source of sequence
// numbers for new events.
type TopicRegistry interface {
	CreateTopic(ctx context.Context, topic Topic) (Topic, error)
	GetTopic(ctx context.Context, name string, scope Scope) (Topic, error)
	TopicExists(ctx context.Context, name string, scope Scope) bool
	GetAllTopics(ctx context.Context) []Topic
	UpdateSequence(ctx context.Context, name string, sequence int64, scope Scope) error
	GetAndIncrementSequence(ctx context.Context, name string, scope Scope) (int64, error)
	UpdateSchemas(ctx context.Context, name string, schemas []Schema, scope Scope) (Topic, error)
}

// EventFilter narrows a get-events scan. Filters compose conjunctively.
type EventFilter struct {
	SinceEventID *EventID
	Date         string
	Limit        int
}

// EventStore persists and retrieves ordered events per scope and topic.
type EventStore interface {
	StoreEvent(ctx context.Context, scope Scope, event Event) error
	StoreEvents(ctx context.Context, scope Scope, events []Event) error
	GetEvent(ctx context.Context, scope Scope, id EventID) (*Event, error)
	GetEvents(ctx context.Context, scope Scope, topic string, filter EventFilter) ([]Event, error)
	GetLatestEventID(ctx context.Context, scope Scope, topic string) (*EventID, error)
}

// ConsumerRegistry stores consumers and their delivery cursors.
type ConsumerRegistry interface {
	Save(ctx context.Context, consumer Consumer) error
	FindByID(ctx context.Context, id string) (*Consumer, error)
	FindAll(ctx context.Context) ([]Consumer, error)
	FindByTopic(ctx context.Context, qualifiedTopic string) ([]Consumer, error)
	FindByTenantAndNamespace(ctx context.Context, tenant, namespace string) ([]Consumer, error)
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int, error)
}

// DeliveryScheduler is the dispatcher surface the ingestion path depends on.
type DeliveryScheduler interface {
	EnsureWorker(qualifiedTopic string)
	Nudge(qualifiedTopic string)
	Running() []string
}

// ProjectionSink folds system-scope events into administrative read models.
type ProjectionSink interface {
	Apply(ctx context.Context, event Event) error
}

// Service wires validation, sequencing, storage, consumers and dispatch into
// the public operations of the store.
type Service struct {
	topics     TopicRegistry
	store      EventStore
	consumers  ConsumerRegistry
	validator  PayloadValidator
	scheduler  DeliveryScheduler
	projection ProjectionSink
	logger     *zap.Logger
	now        func() time.Time
}

// Option customises Service construction.
type Option func(*Service)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithScheduler attaches the dispatcher so publishes wake delivery workers.
func WithScheduler(scheduler DeliveryScheduler) Option {
	return func(s *Service) { s.scheduler = scheduler }
}

// WithProjection attaches the projection engine fed by system-scope publishes.
func WithProjection(sink ProjectionSink) Option {
	return func(s *Service) { s.projection = sink }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service.
func NewService(topics TopicRegistry, store EventStore, consumers ConsumerRegistry, validator PayloadValidator, opts ...Option) *Service {
	s := &Service{
		topics:    topics,
		store:     store,
		consumers: consumers,
		validator: validator,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTopicInput carries the fields for a new topic.
type CreateTopicInput struct {
	Name                string
	Schemas             []Schema
	Scope               Scope
	ResourceID          string
	TenantResourceID    string
	NamespaceResourceID string
}

// CreateTopic registers a new topic together with its schemas.
func (s *Service) CreateTopic(ctx context.Context, input CreateTopicInput) (Topic, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Topic{}, fmt.Errorf("%w: topic name is required", ErrInvalidArgument)
	}
	topic := Topic{
		ResourceID:          input.ResourceID,
		TenantResourceID:    input.TenantResourceID,
		NamespaceResourceID: input.NamespaceResourceID,
		TenantName:          input.Scope.Tenant,
		NamespaceName:       input.Scope.Namespace,
		Name:                input.Name,
		Schemas:             input.Schemas,
	}
	if topic.ResourceID == "" {
		topic.ResourceID = uuid.NewString()
	}
	created, err := s.topics.CreateTopic(ctx, topic)
	if err != nil {
		return Topic{}, err
	}
	if s.scheduler != nil {
		s.scheduler.EnsureWorker(created.QualifiedName())
	}
	s.logger.Info("topic created", zap.String("topic", created.QualifiedName()))
	return created, nil
}

// GetTopic looks a topic up by name within a scope.
func (s *Service) GetTopic(ctx context.Context, name string, scope Scope) (Topic, error) {
	return s.topics.GetTopic(ctx, name, scope)
}

// ListTopics returns every topic across all scopes.
func (s *Service) ListTopics(ctx context.Context) []Topic {
	return s.topics.GetAllTopics(ctx)
}

// UpdateTopicSchemas applies an additive schema change.
func (s *Service) UpdateTopicSchemas(ctx context.Context, name string, schemas []Schema, scope Scope) (Topic, error) {
	return s.topics.UpdateSchemas(ctx, name, schemas, scope)
}

// PublishInput is one event to publish.
type PublishInput struct {
	Topic   string
	Type    string
	Payload any
}

// PublishEvents validates, sequences and stores a batch, then wakes the
// dispatcher for the touched topics. The whole batch is validated before any
// sequence is allocated, so a rejected batch leaves every topic untouched.
func (s *Service) PublishEvents(ctx context.Context, scope Scope, batch []PublishInput) ([]EventID, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: empty event batch", ErrInvalidArgument)
	}
	for _, in := range batch {
		if strings.TrimSpace(in.Type) == "" {
			return nil, fmt.Errorf("%w: event type is required", ErrInvalidArgument)
		}
		if !s.topics.TopicExists(ctx, in.Topic, scope) {
			return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, scope.Qualify(in.Topic))
		}
		if err := s.validator.ValidateEvent(scope.Qualify(in.Topic), in.Type, in.Payload); err != nil {
			return nil, err
		}
	}

	events := make([]Event, 0, len(batch))
	for _, in := range batch {
		sequence, err := s.topics.GetAndIncrementSequence(ctx, in.Topic, scope)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			ID:        NewEventID(scope, in.Topic, sequence),
			Timestamp: s.now().UTC(),
			Type:      in.Type,
			Payload:   in.Payload,
		})
	}

	if err := s.store.StoreEvents(ctx, scope, events); err != nil {
		return nil, err
	}

	ids := make([]EventID, 0, len(events))
	touched := make(map[string]int64, 1)
	for _, event := range events {
		ids = append(ids, event.ID)
		touched[scope.Qualify(event.ID.Topic)] = event.ID.Sequence
		if s.projection != nil && scope == SystemScope() && IsSystemTopic(event.ID.Topic) {
			if err := s.projection.Apply(ctx, event); err != nil {
				s.logger.Warn("projection apply failed", zap.String("event", event.ID.String()), zap.Error(err))
			}
		}
	}
	for topic, sequence := range touched {
		observability.RecordTopicSequence(topic, sequence)
	}
	for _, event := range events {
		observability.RecordPublished(scope.Qualify(event.ID.Topic), 1)
	}
	if s.scheduler != nil {
		for topic := range touched {
			s.scheduler.EnsureWorker(topic)
			s.scheduler.Nudge(topic)
		}
	}
	return ids, nil
}

// GetTopicEvents returns a filtered, ordered slice of a topic's events.
func (s *Service) GetTopicEvents(ctx context.Context, scope Scope, topic string, filter EventFilter) ([]Event, error) {
	if !s.topics.TopicExists(ctx, topic, scope) {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, scope.Qualify(topic))
	}
	return s.store.GetEvents(ctx, scope, topic, filter)
}

// GetLatestEventID returns the id of the newest event on a topic, or nil for
// an empty stream.
func (s *Service) GetLatestEventID(ctx context.Context, scope Scope, topic string) (*EventID, error) {
	if !s.topics.TopicExists(ctx, topic, scope) {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, scope.Qualify(topic))
	}
	return s.store.GetLatestEventID(ctx, scope, topic)
}

// RegisterConsumerInput carries a consumer registration.
type RegisterConsumerInput struct {
	Type     ConsumerType
	Callback string
	Target   string
	Scope    Scope
	Topics   map[string]*EventID
}

// RegisterConsumer validates the subscription and persists a new consumer
// under a fresh id.
func (s *Service) RegisterConsumer(ctx context.Context, input RegisterConsumerInput) (Consumer, error) {
	consumerType := input.Type
	if consumerType == "" {
		consumerType = ConsumerTypeWebhook
	}
	topics := make(map[string]*EventID, len(input.Topics))
	for name, cursor := range input.Topics {
		if !s.topics.TopicExists(ctx, name, input.Scope) {
			return Consumer{}, fmt.Errorf("%w: %s", ErrTopicNotFound, input.Scope.Qualify(name))
		}
		qualified := input.Scope.Qualify(name)
		if cursor == nil {
			topics[qualified] = nil
			continue
		}
		id := *cursor
		id.Tenant = input.Scope.Tenant
		id.Namespace = input.Scope.Namespace
		topics[qualified] = &id
	}
	consumer := Consumer{
		ID:           uuid.NewString(),
		Type:         consumerType,
		Callback:     input.Callback,
		Target:       input.Target,
		Status:       ConsumerStatusActive,
		Topics:       topics,
		RegisteredAt: s.now().UTC(),
	}
	if err := consumer.Validate(); err != nil {
		return Consumer{}, err
	}
	if err := s.consumers.Save(ctx, consumer); err != nil {
		return Consumer{}, err
	}
	if s.scheduler != nil {
		for topic := range topics {
			s.scheduler.EnsureWorker(topic)
			s.scheduler.Nudge(topic)
		}
	}
	s.logger.Info("consumer registered", zap.String("consumer", consumer.ID), zap.Int("topics", len(topics)))
	return consumer, nil
}

// GetConsumer fetches a consumer by id.
func (s *Service) GetConsumer(ctx context.Context, id string) (Consumer, error) {
	consumer, err := s.consumers.FindByID(ctx, id)
	if err != nil {
		return Consumer{}, err
	}
	if consumer == nil {
		return Consumer{}, fmt.Errorf("%w: %s", ErrConsumerNotFound, id)
	}
	return *consumer, nil
}

// ListConsumers returns every registered consumer.
func (s *Service) ListConsumers(ctx context.Context) ([]Consumer, error) {
	return s.consumers.FindAll(ctx)
}

// DeleteConsumer removes a consumer by id.
func (s *Service) DeleteConsumer(ctx context.Context, id string) error {
	removed, err := s.consumers.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrConsumerNotFound, id)
	}
	s.logger.Info("consumer removed", zap.String("consumer", id))
	return nil
}

// Health summarises liveness for the health endpoint.
type Health struct {
	Status             string
	Consumers          int
	RunningDispatchers []string
}

// Health reports the consumer count and the topics with live dispatch workers.
func (s *Service) Health(ctx context.Context) (Health, error) {
	count, err := s.consumers.Count(ctx)
	if err != nil {
		return Health{}, err
	}
	health := Health{Status: "healthy", Consumers: count}
	if s.scheduler != nil {
		health.RunningDispatchers = s.scheduler.Running()
	}
	return health, nil
}
