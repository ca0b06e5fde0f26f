package projection

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"example.com/eventstore/internal/domain"
	"example.com/eventstore/internal/sysevents"
)

const permissionCacheSize = 1024

// checkKey identifies one permission question in the cache: the principal,
// the scope triple, and the resource and permission being asked about.
type checkKey struct {
	principalID  string
	principal    domain.PrincipalType
	permission   domain.Permission
	resourceType domain.ResourceType
	resourceID   string
	tenant       string
	namespace    string
	topic        string
}

// Check is one effective-permission question. Empty scope fields mean the
// check is unscoped on that level.
type Check struct {
	PrincipalID         string
	PrincipalType       domain.PrincipalType
	Permission          domain.Permission
	ResourceType        domain.ResourceType
	ResourceID          string
	TenantResourceID    string
	NamespaceResourceID string
	TopicResourceID     string
}

// PermissionProjector folds the permissions topic into per-principal grant
// lists and answers effective-permission checks through an LRU cache. Any
// grant or revocation touching a principal drops that principal's cached
// answers.
type PermissionProjector struct {
	mu     sync.RWMutex
	grants map[string][]domain.PermissionGrant
	cache  *lru.Cache[checkKey, bool]
}

// NewPermissionProjector constructs an empty projector.
func NewPermissionProjector() *PermissionProjector {
	cache, _ := lru.New[checkKey, bool](permissionCacheSize)
	p := &PermissionProjector{cache: cache}
	p.reset()
	return p
}

func (p *PermissionProjector) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants = make(map[string][]domain.PermissionGrant)
	p.cache.Purge()
}

func (p *PermissionProjector) apply(event domain.Event) error {
	switch event.Type {
	case sysevents.PermissionGrantedType:
		body, err := decode[sysevents.PermissionGranted](event.Payload)
		if err != nil {
			return err
		}
		grant := domain.PermissionGrant{
			PrincipalID:         body.PrincipalID,
			PrincipalType:       domain.PrincipalType(body.PrincipalType),
			ResourceType:        domain.ResourceType(body.ResourceType),
			ResourceID:          body.ResourceID,
			TenantResourceID:    body.TenantResourceID,
			NamespaceResourceID: body.NamespaceResourceID,
			TopicResourceID:     body.TopicResourceID,
			Permissions:         toPermissions(body.Permissions),
			Constraints:         body.Constraints,
			GrantedBy:           body.GrantedBy,
			GrantedAt:           body.GrantedAt,
			ExpiresAt:           body.ExpiresAt,
		}
		p.mu.Lock()
		p.grants[grant.PrincipalID] = append(p.grants[grant.PrincipalID], grant)
		p.mu.Unlock()
		p.invalidate(grant.PrincipalID)

	case sysevents.PermissionRevokedType:
		body, err := decode[sysevents.PermissionRevoked](event.Payload)
		if err != nil {
			return err
		}
		revoked := make(map[domain.Permission]bool, len(body.Permissions))
		for _, perm := range body.Permissions {
			revoked[domain.Permission(perm)] = true
		}
		p.mu.Lock()
		kept := make([]domain.PermissionGrant, 0, len(p.grants[body.PrincipalID]))
		for _, grant := range p.grants[body.PrincipalID] {
			if !revocationTargets(grant, body) {
				kept = append(kept, grant)
				continue
			}
			remaining := make([]domain.Permission, 0, len(grant.Permissions))
			for _, perm := range grant.Permissions {
				if !revoked[perm] {
					remaining = append(remaining, perm)
				}
			}
			if len(remaining) == 0 {
				continue
			}
			grant.Permissions = remaining
			kept = append(kept, grant)
		}
		if len(kept) == 0 {
			delete(p.grants, body.PrincipalID)
		} else {
			p.grants[body.PrincipalID] = kept
		}
		p.mu.Unlock()
		p.invalidate(body.PrincipalID)
	}
	return nil
}

// revocationTargets reports whether a revocation addresses this grant: same
// principal type, resource type and the exact same scope and resource id.
func revocationTargets(grant domain.PermissionGrant, body sysevents.PermissionRevoked) bool {
	return grant.PrincipalType == domain.PrincipalType(body.PrincipalType) &&
		grant.ResourceType == domain.ResourceType(body.ResourceType) &&
		ptrEq(grant.ResourceID, body.ResourceID) &&
		ptrEq(grant.TenantResourceID, body.TenantResourceID) &&
		ptrEq(grant.NamespaceResourceID, body.NamespaceResourceID) &&
		ptrEq(grant.TopicResourceID, body.TopicResourceID)
}

// HasPermission answers whether the principal holds the permission on the
// resource. Nil grant scope fields act as wildcards; ADMIN covers every
// permission within the grant's scope.
func (p *PermissionProjector) HasPermission(check Check) bool {
	key := checkKey{
		principalID:  check.PrincipalID,
		principal:    check.PrincipalType,
		permission:   check.Permission,
		resourceType: check.ResourceType,
		resourceID:   check.ResourceID,
		tenant:       check.TenantResourceID,
		namespace:    check.NamespaceResourceID,
		topic:        check.TopicResourceID,
	}
	if cached, ok := p.cache.Get(key); ok {
		return cached
	}

	now := time.Now()
	p.mu.RLock()
	allowed := false
	volatile := false
	for _, grant := range p.grants[check.PrincipalID] {
		if !grantMatches(grant, check, now) {
			continue
		}
		allowed = true
		volatile = grant.ExpiresAt != nil
		break
	}
	p.mu.RUnlock()

	// A positive answer backed by an expiring grant is not cached: it can
	// flip to false by time alone, which no invalidation would observe. A
	// negative answer only flips through a new grant, which invalidates.
	if !allowed || !volatile {
		p.cache.Add(key, allowed)
	}
	return allowed
}

func grantMatches(grant domain.PermissionGrant, check Check, now time.Time) bool {
	if grant.PrincipalType != check.PrincipalType || grant.ResourceType != check.ResourceType {
		return false
	}
	if grant.IsExpired(now) {
		return false
	}
	if grant.ResourceID != nil && *grant.ResourceID != check.ResourceID {
		return false
	}
	if grant.TenantResourceID != nil && *grant.TenantResourceID != check.TenantResourceID {
		return false
	}
	if grant.NamespaceResourceID != nil && *grant.NamespaceResourceID != check.NamespaceResourceID {
		return false
	}
	if grant.TopicResourceID != nil && *grant.TopicResourceID != check.TopicResourceID {
		return false
	}
	return grant.Allows(check.Permission)
}

// GrantsFor returns copies of a principal's grants.
func (p *PermissionProjector) GrantsFor(principalID string) []domain.PermissionGrant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	grants := p.grants[principalID]
	out := make([]domain.PermissionGrant, 0, len(grants))
	for _, grant := range grants {
		out = append(out, grant.Clone())
	}
	return out
}

func (p *PermissionProjector) invalidate(principalID string) {
	for _, key := range p.cache.Keys() {
		if key.principalID == principalID {
			p.cache.Remove(key)
		}
	}
}

func toPermissions(names []string) []domain.Permission {
	out := make([]domain.Permission, 0, len(names))
	for _, name := range names {
		out = append(out, domain.Permission(name))
	}
	return out
}

func ptrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
