// Package projection folds the reserved system topics into in-memory
// administrative read models: tenants, namespaces, users, API keys and
// permission grants. The engine is rebuilt by replaying the system topics at
// startup and then fed each system-scope publish as it happens.
package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"example.com/eventstore/internal/domain"
)

// Engine owns one projector per system topic and routes events to them.
type Engine struct {
	tenants     *TenantProjector
	namespaces  *NamespaceProjector
	users       *UserProjector
	apikeys     *APIKeyProjector
	permissions *PermissionProjector
	logger      *zap.Logger
}

// Option customises Engine construction.
type Option func(*Engine)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine constructs an engine with empty read models.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		tenants:     NewTenantProjector(),
		namespaces:  NewNamespaceProjector(),
		users:       NewUserProjector(),
		apikeys:     NewAPIKeyProjector(),
		permissions: NewPermissionProjector(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply folds one system event into its projector. Events on other topics
// and event types no projector handles are ignored.
func (e *Engine) Apply(ctx context.Context, event domain.Event) error {
	switch event.ID.Topic {
	case domain.TopicTenants:
		return e.tenants.apply(event)
	case domain.TopicNamespaces:
		return e.namespaces.apply(event)
	case domain.TopicUsers:
		return e.users.apply(event)
	case domain.TopicPermissions:
		return e.permissions.apply(event)
	case domain.TopicAPIKeys:
		return e.apikeys.apply(event)
	}
	return nil
}

// Rebuild drops every read model and replays the system topics from the
// store in their defined order.
func (e *Engine) Rebuild(ctx context.Context, store domain.EventStore) error {
	e.tenants.reset()
	e.namespaces.reset()
	e.users.reset()
	e.apikeys.reset()
	e.permissions.reset()

	scope := domain.SystemScope()
	total := 0
	for _, topic := range domain.SystemTopics {
		events, err := store.GetEvents(ctx, scope, topic, domain.EventFilter{})
		if err != nil {
			return fmt.Errorf("replaying %s: %w", topic, err)
		}
		for _, event := range events {
			if err := e.Apply(ctx, event); err != nil {
				return fmt.Errorf("replaying %s: %w", event.ID.String(), err)
			}
		}
		total += len(events)
	}
	e.logger.Info("projections rebuilt", zap.Int("events", total))
	return nil
}

// GetTenantByName returns the tenant currently holding the name, or nil.
func (e *Engine) GetTenantByName(name string) *domain.Tenant {
	return e.tenants.GetByName(name)
}

// GetTenantByID returns the tenant by resource id, or nil.
func (e *Engine) GetTenantByID(resourceID string) *domain.Tenant {
	return e.tenants.GetByID(resourceID)
}

// Tenants returns every known tenant, soft-deleted ones included.
func (e *Engine) Tenants() []domain.Tenant {
	return e.tenants.All()
}

// GetNamespaceByName returns the namespace by tenant name and own name, or nil.
func (e *Engine) GetNamespaceByName(tenantName, name string) *domain.Namespace {
	return e.namespaces.GetByName(tenantName, name)
}

// GetNamespaceByID returns the namespace by tenant and own resource id, or nil.
func (e *Engine) GetNamespaceByID(tenantResourceID, resourceID string) *domain.Namespace {
	return e.namespaces.GetByID(tenantResourceID, resourceID)
}

// NamespacesForTenant returns a tenant's namespaces.
func (e *Engine) NamespacesForTenant(tenantResourceID string) []domain.Namespace {
	return e.namespaces.ForTenant(tenantResourceID)
}

// Namespaces returns every known namespace.
func (e *Engine) Namespaces() []domain.Namespace {
	return e.namespaces.All()
}

// GetUserByEmail returns the user currently holding the email, or nil.
func (e *Engine) GetUserByEmail(email string) *domain.User {
	return e.users.GetByEmail(email)
}

// GetUserByID returns the user by resource id regardless of status, or nil.
func (e *Engine) GetUserByID(resourceID string) *domain.User {
	return e.users.GetByID(resourceID)
}

// Users returns every user not in status DELETED.
func (e *Engine) Users() []domain.User {
	return e.users.All()
}

// GetAPIKeyByID returns the key by resource id, or nil.
func (e *Engine) GetAPIKeyByID(resourceID string) *domain.APIKey {
	return e.apikeys.GetByID(resourceID)
}

// APIKeysForUser returns a user's keys, revoked ones included.
func (e *Engine) APIKeysForUser(userResourceID string) []domain.APIKey {
	return e.apikeys.ForUser(userResourceID)
}

// HasPermission answers an effective-permission check.
func (e *Engine) HasPermission(check Check) bool {
	return e.permissions.HasPermission(check)
}

// GrantsFor returns a principal's current grants.
func (e *Engine) GrantsFor(principalID string) []domain.PermissionGrant {
	return e.permissions.GrantsFor(principalID)
}

// decode normalises a payload into its typed form. Payloads arrive either as
// the struct the writer produced or as the map the JSON decoder read back
// from storage; a marshal round trip handles both.
func decode[T any](payload any) (T, error) {
	var out T
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("%w: encoding payload: %v", domain.ErrInvalidEventPayload, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: decoding payload: %v", domain.ErrInvalidEventPayload, err)
	}
	return out, nil
}
