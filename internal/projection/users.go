package projection

import (
	"sync"
	"time"

	"example.com/eventstore/internal/domain"
	"example.com/eventstore/internal/sysevents"
)

// UserProjector folds the users topic. Users in status DELETED stay
// addressable by id but disappear from All.
type UserProjector struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byEmail map[string]string
}

// NewUserProjector constructs an empty projector.
func NewUserProjector() *UserProjector {
	p := &UserProjector{}
	p.reset()
	return p
}

func (p *UserProjector) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[string]domain.User)
	p.byEmail = make(map[string]string)
}

func (p *UserProjector) apply(event domain.Event) error {
	switch event.Type {
	case sysevents.UserCreatedType:
		body, err := decode[sysevents.UserCreated](event.Payload)
		if err != nil {
			return err
		}
		status := domain.UserStatus(body.Status)
		if status == "" {
			status = domain.UserStatusActive
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		p.byID[body.ResourceID] = domain.User{
			ResourceID:   body.ResourceID,
			Email:        body.Email,
			Name:         body.Name,
			PasswordHash: body.PasswordHash,
			Status:       status,
			CreatedAt:    body.CreatedAt,
		}
		p.byEmail[body.Email] = body.ResourceID

	case sysevents.UserUpdatedType:
		body, err := decode[sysevents.UserUpdated](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		user, ok := p.byID[body.ResourceID]
		if !ok {
			return nil
		}
		if body.Email != "" && body.Email != user.Email {
			delete(p.byEmail, user.Email)
			p.byEmail[body.Email] = body.ResourceID
			user.Email = body.Email
		}
		if body.Name != "" {
			user.Name = body.Name
		}
		at := body.UpdatedAt
		user.UpdatedAt = &at
		p.byID[body.ResourceID] = user

	case sysevents.UserStatusChangedType:
		body, err := decode[sysevents.UserStatusChanged](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		user, ok := p.byID[body.ResourceID]
		if !ok {
			return nil
		}
		user.Status = domain.UserStatus(body.Status)
		at := body.OccurredAt
		user.UpdatedAt = &at
		p.byID[body.ResourceID] = user

	case sysevents.UserPasswordChangedType:
		body, err := decode[sysevents.UserPasswordChanged](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		user, ok := p.byID[body.ResourceID]
		if !ok {
			return nil
		}
		user.PasswordHash = body.PasswordHash
		at := body.OccurredAt
		user.UpdatedAt = &at
		p.byID[body.ResourceID] = user

	case sysevents.UserTenantAssignedType:
		body, err := decode[sysevents.UserTenantAssigned](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		user, ok := p.byID[body.UserResourceID]
		if !ok {
			return nil
		}
		assoc := domain.UserTenantAssociation{
			TenantResourceID: body.TenantResourceID,
			TenantName:       body.TenantName,
			Role:             body.Role,
			AssignedAt:       body.AssignedAt,
		}
		replaced := false
		for i, existing := range user.Tenants {
			if existing.TenantResourceID == body.TenantResourceID {
				user.Tenants[i] = assoc
				replaced = true
				break
			}
		}
		if !replaced {
			user.Tenants = append(user.Tenants, assoc)
		}
		p.byID[body.UserResourceID] = user

	case sysevents.UserTenantRemovedType:
		body, err := decode[sysevents.UserTenantRemoved](event.Payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		user, ok := p.byID[body.UserResourceID]
		if !ok {
			return nil
		}
		kept := make([]domain.UserTenantAssociation, 0, len(user.Tenants))
		for _, existing := range user.Tenants {
			if existing.TenantResourceID != body.TenantResourceID {
				kept = append(kept, existing)
			}
		}
		user.Tenants = kept
		p.byID[body.UserResourceID] = user
	}
	return nil
}

// GetByID returns the user by resource id regardless of status, or nil.
func (p *UserProjector) GetByID(resourceID string) *domain.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	user, ok := p.byID[resourceID]
	if !ok {
		return nil
	}
	return cloneUser(user)
}

// GetByEmail returns the user by email, or nil.
func (p *UserProjector) GetByEmail(email string) *domain.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byEmail[email]
	if !ok {
		return nil
	}
	user := p.byID[id]
	return cloneUser(user)
}

// All returns every user except those in status DELETED, ordered by
// creation time.
func (p *UserProjector) All() []domain.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.User, 0, len(p.byID))
	for _, user := range p.byID {
		if user.Status == domain.UserStatusDeleted {
			continue
		}
		out = append(out, *cloneUser(user))
	}
	sortByCreation(out, func(u domain.User) (time.Time, string) { return u.CreatedAt, u.ResourceID })
	return out
}

func cloneUser(user domain.User) *domain.User {
	out := user
	if user.Tenants != nil {
		out.Tenants = append([]domain.UserTenantAssociation(nil), user.Tenants...)
	}
	return &out
}
