package projection

import (
	"sort"
	"sync"
	"time"

	"example.com/eventstore/internal/domain"
	"example.com/eventstore/internal/sysevents"
)

// TenantProjector folds the tenants topic into Tenant read models, indexed
// by resource id and by name. Renames move the name index entry; deletes are
// soft and keep both indices intact.
type TenantProjector struct {
	mu     sync.RWMutex
	byID   map[string]domain.Tenant
	byName map[string]string
}

// NewTenantProjector constructs an empty projector.
func NewTenantProjector() *TenantProjector {
	p := &TenantProjector{}
	p.reset()
	return p
}

func (p *TenantProjector) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[string]domain.Tenant)
	p.byName = make(map[string]string)
}

func (p *TenantProjector) apply(event domain.Event) error {
	switch event.Type {
	case sysevents.TenantCreatedType:
		body, err := decode[sysevents.TenantCreated](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		p.byID[body.ResourceID] = domain.Tenant{
			ResourceID: body.ResourceID,
			Name:       body.Name,
			Quota:      body.Quota,
			Metadata:   body.Metadata,
			CreatedAt:  body.CreatedAt,
		}
		p.byName[body.Name] = body.ResourceID

	case sysevents.TenantUpdatedType:
		body, err := decode[sysevents.TenantUpdated](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		tenant, ok := p.byID[body.ResourceID]
		if !ok {
			return nil
		}
		if tenant.Name != body.Name {
			delete(p.byName, tenant.Name)
			p.byName[body.Name] = body.ResourceID
		}
		tenant.Name = body.Name
		tenant.Quota = body.Quota
		tenant.Metadata = body.Metadata
		at := body.UpdatedAt
		tenant.UpdatedAt = &at
		p.byID[body.ResourceID] = tenant

	case sysevents.TenantDeletedType:
		body, err := decode[sysevents.TenantDeleted](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		tenant, ok := p.byID[body.ResourceID]
		if !ok {
			return nil
		}
		at := body.DeletedAt
		tenant.DeletedAt = &at
		p.byID[body.ResourceID] = tenant
	}
	return nil
}

// GetByName returns the tenant currently carrying the name, or nil.
func (p *TenantProjector) GetByName(name string) *domain.Tenant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byName[name]
	if !ok {
		return nil
	}
	tenant := p.byID[id]
	return &tenant
}

// GetByID returns the tenant by resource id, or nil.
func (p *TenantProjector) GetByID(resourceID string) *domain.Tenant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tenant, ok := p.byID[resourceID]
	if !ok {
		return nil
	}
	return &tenant
}

// All returns every projected tenant ordered by creation time.
func (p *TenantProjector) All() []domain.Tenant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Tenant, 0, len(p.byID))
	for _, tenant := range p.byID {
		out = append(out, tenant)
	}
	sortByCreation(out, func(t domain.Tenant) (time.Time, string) { return t.CreatedAt, t.ResourceID })
	return out
}

func sortByCreation[T any](items []T, key func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
}
