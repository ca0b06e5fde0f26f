package projection

import (
	"sync"
	"time"

	"example.com/eventstore/internal/domain"
	"example.com/eventstore/internal/sysevents"
)

// APIKeyProjector folds the api-keys topic. Keys are never removed; revoked
// and expired keys simply stop being active.
type APIKeyProjector struct {
	mu     sync.RWMutex
	byID   map[string]domain.APIKey
	byUser map[string][]string
}

// NewAPIKeyProjector constructs an empty projector.
func NewAPIKeyProjector() *APIKeyProjector {
	p := &APIKeyProjector{}
	p.reset()
	return p
}

func (p *APIKeyProjector) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[string]domain.APIKey)
	p.byUser = make(map[string][]string)
}

func (p *APIKeyProjector) apply(event domain.Event) error {
	switch event.Type {
	case sysevents.APIKeyCreatedType:
		body, err := decode[sysevents.APIKeyCreated](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, exists := p.byID[body.ResourceID]; !exists {
			p.byUser[body.UserResourceID] = append(p.byUser[body.UserResourceID], body.ResourceID)
		}
		p.byID[body.ResourceID] = domain.APIKey{
			ResourceID:     body.ResourceID,
			UserResourceID: body.UserResourceID,
			Name:           body.Name,
			KeyHash:        body.KeyHash,
			CreatedAt:      body.CreatedAt,
			ExpiresAt:      body.ExpiresAt,
		}

	case sysevents.APIKeyRevokedType:
		body, err := decode[sysevents.APIKeyRevoked](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		key, ok := p.byID[body.ResourceID]
		if !ok {
			return nil
		}
		at := body.RevokedAt
		key.RevokedAt = &at
		p.byID[body.ResourceID] = key
	}
	return nil
}

// GetByID returns the key by resource id, or nil.
func (p *APIKeyProjector) GetByID(resourceID string) *domain.APIKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.byID[resourceID]
	if !ok {
		return nil
	}
	return &key
}

// ForUser returns a user's keys ordered by creation time, active or not.
func (p *APIKeyProjector) ForUser(userResourceID string) []domain.APIKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := p.byUser[userResourceID]
	out := make([]domain.APIKey, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.byID[id])
	}
	sortByCreation(out, func(k domain.APIKey) (time.Time, string) { return k.CreatedAt, k.ResourceID })
	return out
}
