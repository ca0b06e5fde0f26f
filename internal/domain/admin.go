package domain

import "time"

// Tenant is the administrative read model projected from the tenants topic.
// A tenant is soft-deleted; DeletedAt set means inactive.
type Tenant struct {
	ResourceID string         `json:"resourceId"`
	Name       string         `json:"name"`
	Quota      *int64         `json:"quota,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  *time.Time     `json:"updatedAt,omitempty"`
	DeletedAt  *time.Time     `json:"deletedAt,omitempty"`
}

// IsActive reports whether the tenant has not been soft-deleted.
func (t Tenant) IsActive() bool {
	return t.DeletedAt == nil
}

// Namespace is the administrative read model projected from the namespaces
// topic. Unique per (tenantName, name) and per (tenantResourceID, resourceID).
type Namespace struct {
	ResourceID       string         `json:"resourceId"`
	TenantResourceID string         `json:"tenantResourceId"`
	TenantName       string         `json:"tenantName"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        *time.Time     `json:"updatedAt,omitempty"`
	DeletedAt        *time.Time     `json:"deletedAt,omitempty"`
}

// IsActive reports whether the namespace has not been soft-deleted.
func (n Namespace) IsActive() bool {
	return n.DeletedAt == nil
}

// UserStatus tracks the lifecycle of a projected user.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusInactive  UserStatus = "INACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
	UserStatusDeleted   UserStatus = "DELETED"
)

// UserTenantAssociation links a user to a tenant with a role.
type UserTenantAssociation struct {
	TenantResourceID string    `json:"tenantResourceId"`
	TenantName       string    `json:"tenantName"`
	Role             string    `json:"role"`
	AssignedAt       time.Time `json:"assignedAt"`
}

// User is the administrative read model projected from the users topic.
type User struct {
	ResourceID   string                  `json:"resourceId"`
	Email        string                  `json:"email"`
	Name         string                  `json:"name,omitempty"`
	PasswordHash string                  `json:"-"`
	Status       UserStatus              `json:"status"`
	Tenants      []UserTenantAssociation `json:"tenants,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    *time.Time              `json:"updatedAt,omitempty"`
}

// APIKey is the administrative read model projected from the api-keys topic.
type APIKey struct {
	ResourceID     string     `json:"resourceId"`
	UserResourceID string     `json:"userResourceId"`
	Name           string     `json:"name"`
	KeyHash        string     `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
}

// IsActive reports whether the key is neither revoked nor expired at now.
func (k APIKey) IsActive(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

// Permission names one action a grant can allow. Admin implies every other
// permission within the grant's scope.
type Permission string

const (
	PermissionRead    Permission = "READ"
	PermissionWrite   Permission = "WRITE"
	PermissionDelete  Permission = "DELETE"
	PermissionManage  Permission = "MANAGE"
	PermissionPublish Permission = "PUBLISH"
	PermissionConsume Permission = "CONSUME"
	PermissionAdmin   Permission = "ADMIN"
)

// PrincipalType distinguishes users from API keys in permission grants.
type PrincipalType string

const (
	PrincipalTypeUser   PrincipalType = "user"
	PrincipalTypeAPIKey PrincipalType = "apiKey"
)

// ResourceType names the kind of resource a grant covers.
type ResourceType string

const (
	ResourceTypeTenant    ResourceType = "tenant"
	ResourceTypeNamespace ResourceType = "namespace"
	ResourceTypeTopic     ResourceType = "topic"
	ResourceTypeConsumer  ResourceType = "consumer"
)

// PermissionGrant awards a set of permissions on a resource to a principal.
// A nil ResourceID matches every instance of ResourceType within the scope;
// nil scope fields act as wildcards within their enclosing scope.
type PermissionGrant struct {
	PrincipalID         string            `json:"principalId"`
	PrincipalType       PrincipalType     `json:"principalType"`
	ResourceType        ResourceType      `json:"resourceType"`
	ResourceID          *string           `json:"resourceId,omitempty"`
	TenantResourceID    *string           `json:"tenantResourceId,omitempty"`
	NamespaceResourceID *string           `json:"namespaceResourceId,omitempty"`
	TopicResourceID     *string           `json:"topicResourceId,omitempty"`
	Permissions         []Permission      `json:"permissions"`
	Constraints         map[string]string `json:"constraints,omitempty"`
	GrantedBy           string            `json:"grantedBy"`
	GrantedAt           time.Time         `json:"grantedAt"`
	ExpiresAt           *time.Time        `json:"expiresAt,omitempty"`
}

// IsExpired reports whether the grant has lapsed at now.
func (g PermissionGrant) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Allows reports whether the grant's permission set covers p, either directly
// or through Admin.
func (g PermissionGrant) Allows(p Permission) bool {
	for _, held := range g.Permissions {
		if held == p || held == PermissionAdmin {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the grant.
func (g PermissionGrant) Clone() PermissionGrant {
	out := g
	out.ResourceID = clonePtr(g.ResourceID)
	out.TenantResourceID = clonePtr(g.TenantResourceID)
	out.NamespaceResourceID = clonePtr(g.NamespaceResourceID)
	out.TopicResourceID = clonePtr(g.TopicResourceID)
	if g.Permissions != nil {
		out.Permissions = append([]Permission(nil), g.Permissions...)
	}
	if g.Constraints != nil {
		out.Constraints = make(map[string]string, len(g.Constraints))
		for k, v := range g.Constraints {
			out.Constraints[k] = v
		}
	}
	if g.ExpiresAt != nil {
		at := *g.ExpiresAt
		out.ExpiresAt = &at
	}
	return out
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
