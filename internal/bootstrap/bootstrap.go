// Package bootstrap initialises the reserved system scope: it creates the
// system topics and seeds the system tenant, the management namespace and an
// optional admin account on first run. Safe to run on every start.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"example.com/eventstore/internal/domain"
	"example.com/eventstore/internal/sysevents"
)

// Seed carries the optional first-run admin account read from the
// environment. Both fields must be set for the account to be created.
type Seed struct {
	AdminEmail    string
	AdminPassword string
}

// Bootstrapper runs the start-up initialisation against the topic registry
// and the event store. Seed events bypass payload validation: system topics
// carry no registered schemas, which also keeps them closed to the public
// publish path.
type Bootstrapper struct {
	topics domain.TopicRegistry
	store  domain.EventStore
	logger *zap.Logger
	now    func() time.Time
}

// Option customises Bootstrapper construction.
type Option func(*Bootstrapper)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bootstrapper) { b.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bootstrapper) { b.now = now }
}

// New constructs a Bootstrapper.
func New(topics domain.TopicRegistry, store domain.EventStore, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		topics: topics,
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnsureSystemTopics creates every reserved topic that does not exist yet,
// each with an empty schema set.
func (b *Bootstrapper) EnsureSystemTopics(ctx context.Context) error {
	scope := domain.SystemScope()
	for _, name := range domain.SystemTopics {
		if b.topics.TopicExists(ctx, name, scope) {
			continue
		}
		_, err := b.topics.CreateTopic(ctx, domain.Topic{
			ResourceID:    uuid.NewString(),
			TenantName:    scope.Tenant,
			NamespaceName: scope.Namespace,
			Name:          name,
		})
		if err != nil {
			// Another instance may have won the race.
			if errors.Is(err, domain.ErrTopicExists) {
				continue
			}
			return fmt.Errorf("creating system topic %s: %w", scope.Qualify(name), err)
		}
		b.logger.Info("system topic created", zap.String("topic", scope.Qualify(name)))
	}
	return nil
}

// Run ensures the system topics exist and, when the tenants topic is still
// empty, appends the genesis events in one atomic batch: the system tenant,
// the management namespace and, when Seed names one, the admin user with its
// tenant assignment.
func (b *Bootstrapper) Run(ctx context.Context, seed Seed) error {
	if err := b.EnsureSystemTopics(ctx); err != nil {
		return err
	}

	scope := domain.SystemScope()
	latest, err := b.store.GetLatestEventID(ctx, scope, domain.TopicTenants)
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}
	if latest != nil {
		b.logger.Debug("system scope already seeded", zap.String("latest", latest.String()))
		return nil
	}

	now := b.now().UTC()
	tenantID := uuid.NewString()
	namespaceID := uuid.NewString()

	events := make([]domain.Event, 0, 4)
	event, err := b.nextEvent(ctx, scope, domain.TopicTenants, sysevents.TenantCreatedType, sysevents.TenantCreated{
		ResourceID: tenantID,
		Name:       domain.SystemTenantID,
		CreatedAt:  now,
	}, now)
	if err != nil {
		return err
	}
	events = append(events, event)

	event, err = b.nextEvent(ctx, scope, domain.TopicNamespaces, sysevents.NamespaceCreatedType, sysevents.NamespaceCreated{
		ResourceID:       namespaceID,
		TenantResourceID: tenantID,
		TenantName:       domain.SystemTenantID,
		Name:             domain.ManagementNamespaceID,
		CreatedAt:        now,
	}, now)
	if err != nil {
		return err
	}
	events = append(events, event)

	seedAdmin := seed.AdminEmail != "" && seed.AdminPassword != ""
	if seedAdmin {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing admin password: %w", err)
		}
		userID := uuid.NewString()

		event, err = b.nextEvent(ctx, scope, domain.TopicUsers, sysevents.UserCreatedType, sysevents.UserCreated{
			ResourceID:   userID,
			Email:        seed.AdminEmail,
			PasswordHash: string(hash),
			Status:       string(domain.UserStatusActive),
			CreatedAt:    now,
		}, now)
		if err != nil {
			return err
		}
		events = append(events, event)

		event, err = b.nextEvent(ctx, scope, domain.TopicUsers, sysevents.UserTenantAssignedType, sysevents.UserTenantAssigned{
			UserResourceID:   userID,
			TenantResourceID: tenantID,
			TenantName:       domain.SystemTenantID,
			Role:             "admin",
			AssignedAt:       now,
		}, now)
		if err != nil {
			return err
		}
		events = append(events, event)
	}

	if err := b.store.StoreEvents(ctx, scope, events); err != nil {
		return fmt.Errorf("seeding system scope: %w", err)
	}
	b.logger.Info("system scope seeded",
		zap.String("tenant", tenantID),
		zap.String("namespace", namespaceID),
		zap.Bool("admin_user", seedAdmin))
	return nil
}

// nextEvent allocates the topic's next sequence and wraps the payload in an
// event carrying it.
func (b *Bootstrapper) nextEvent(ctx context.Context, scope domain.Scope, topic, eventType string, payload any, at time.Time) (domain.Event, error) {
	sequence, err := b.topics.GetAndIncrementSequence(ctx, topic, scope)
	if err != nil {
		return domain.Event{}, fmt.Errorf("allocating sequence on %s: %w", scope.Qualify(topic), err)
	}
	return domain.Event{
		ID:        domain.NewEventID(scope, topic, sequence),
		Timestamp: at,
		Type:      eventType,
		Payload:   payload,
	}, nil
}
