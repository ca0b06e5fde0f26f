package projection

import (
	"sync"
	"time"

	"example.com/eventstore/internal/domain"
	"example.com/eventstore/internal/sysevents"
)

type nsIDKey struct {
	tenantResourceID string
	resourceID       string
}

type nsNameKey struct {
	tenantName string
	name       string
}

// NamespaceProjector folds the namespaces topic. Namespaces are addressed by
// (tenantResourceId, resourceId) or by (tenantName, name); a rename removes
// the old name entry.
type NamespaceProjector struct {
	mu     sync.RWMutex
	byID   map[nsIDKey]domain.Namespace
	byName map[nsNameKey]nsIDKey
}

// NewNamespaceProjector constructs an empty projector.
func NewNamespaceProjector() *NamespaceProjector {
	p := &NamespaceProjector{}
	p.reset()
	return p
}

func (p *NamespaceProjector) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[nsIDKey]domain.Namespace)
	p.byName = make(map[nsNameKey]nsIDKey)
}

func (p *NamespaceProjector) apply(event domain.Event) error {
	switch event.Type {
	case sysevents.NamespaceCreatedType:
		body, err := decode[sysevents.NamespaceCreated](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		id := nsIDKey{tenantResourceID: body.TenantResourceID, resourceID: body.ResourceID}
		p.byID[id] = domain.Namespace{
			ResourceID:       body.ResourceID,
			TenantResourceID: body.TenantResourceID,
			TenantName:       body.TenantName,
			Name:             body.Name,
			Description:      body.Description,
			Metadata:         body.Metadata,
			CreatedAt:        body.CreatedAt,
		}
		p.byName[nsNameKey{tenantName: body.TenantName, name: body.Name}] = id

	case sysevents.NamespaceUpdatedType:
		body, err := decode[sysevents.NamespaceUpdated](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		id := nsIDKey{tenantResourceID: body.TenantResourceID, resourceID: body.ResourceID}
		ns, ok := p.byID[id]
		if !ok {
			return nil
		}
		if ns.Name != body.Name || ns.TenantName != body.TenantName {
			delete(p.byName, nsNameKey{tenantName: ns.TenantName, name: ns.Name})
			p.byName[nsNameKey{tenantName: body.TenantName, name: body.Name}] = id
		}
		ns.TenantName = body.TenantName
		ns.Name = body.Name
		ns.Description = body.Description
		ns.Metadata = body.Metadata
		at := body.UpdatedAt
		ns.UpdatedAt = &at
		p.byID[id] = ns

	case sysevents.NamespaceDeletedType:
		body, err := decode[sysevents.NamespaceDeleted](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		id := nsIDKey{tenantResourceID: body.TenantResourceID, resourceID: body.ResourceID}
		ns, ok := p.byID[id]
		if !ok {
			return nil
		}
		at := body.DeletedAt
		ns.DeletedAt = &at
		p.byID[id] = ns
	}
	return nil
}

// GetByName returns the namespace currently named (tenantName, name), or nil.
func (p *NamespaceProjector) GetByName(tenantName, name string) *domain.Namespace {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byName[nsNameKey{tenantName: tenantName, name: name}]
	if !ok {
		return nil
	}
	ns := p.byID[id]
	return &ns
}

// GetByID returns the namespace by (tenantResourceId, resourceId), or nil.
func (p *NamespaceProjector) GetByID(tenantResourceID, resourceID string) *domain.Namespace {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ns, ok := p.byID[nsIDKey{tenantResourceID: tenantResourceID, resourceID: resourceID}]
	if !ok {
		return nil
	}
	return &ns
}

// ForTenant returns a tenant's namespaces ordered by creation time.
func (p *NamespaceProjector) ForTenant(tenantResourceID string) []domain.Namespace {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Namespace, 0)
	for id, ns := range p.byID {
		if id.tenantResourceID == tenantResourceID {
			out = append(out, ns)
		}
	}
	sortByCreation(out, func(n domain.Namespace) (time.Time, string) { return n.CreatedAt, n.ResourceID })
	return out
}

// All returns every projected namespace ordered by creation time.
func (p *NamespaceProjector) All() []domain.Namespace {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Namespace, 0, len(p.byID))
	for _, ns := range p.byID {
		out = append(out, ns)
	}
	sortByCreation(out, func(n domain.Namespace) (time.Time, string) { return n.CreatedAt, n.ResourceID })
	return out
}
