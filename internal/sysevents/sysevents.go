// Package sysevents defines the payloads recorded on the reserved system
// topics. Projections decode these to rebuild the administrative read models.
package sysevents

import "time"

// Event types on the tenants topic.
const (
	TenantCreatedType = "tenant.created"
	TenantUpdatedType = "tenant.updated"
	TenantDeletedType = "tenant.deleted"
)

// Event types on the namespaces topic.
const (
	NamespaceCreatedType = "namespace.created"
	NamespaceUpdatedType = "namespace.updated"
	NamespaceDeletedType = "namespace.deleted"
)

// Event types on the users topic.
const (
	UserCreatedType         = "user.created"
	UserUpdatedType         = "user.updated"
	UserStatusChangedType   = "user.statusChanged"
	UserPasswordChangedType = "user.passwordChanged"
	UserTenantAssignedType  = "user.tenantAssigned"
	UserTenantRemovedType   = "user.tenantRemoved"
)

// Event types on the permissions topic.
const (
	PermissionGrantedType = "permission.granted"
	PermissionRevokedType = "permission.revoked"
)

// Event types on the api-keys topic.
const (
	APIKeyCreatedType = "apikey.created"
	APIKeyRevokedType = "apikey.revoked"
)

// TenantCreated announces a new tenant.
type TenantCreated struct {
	ResourceID string         `json:"resourceId"`
	Name       string         `json:"name"`
	Quota      *int64         `json:"quota,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// TenantUpdated carries the full replacement state for a tenant; a rename
// changes Name while ResourceID stays stable.
type TenantUpdated struct {
	ResourceID string         `json:"resourceId"`
	Name       string         `json:"name"`
	Quota      *int64         `json:"quota,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// TenantDeleted soft-deletes a tenant.
type TenantDeleted struct {
	ResourceID string    `json:"resourceId"`
	DeletedAt  time.Time `json:"deletedAt"`
}

// NamespaceCreated announces a new namespace within a tenant.
type NamespaceCreated struct {
	ResourceID       string         `json:"resourceId"`
	TenantResourceID string         `json:"tenantResourceId"`
	TenantName       string         `json:"tenantName"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// NamespaceUpdated carries the replacement state for a namespace.
type NamespaceUpdated struct {
	ResourceID       string         `json:"resourceId"`
	TenantResourceID string         `json:"tenantResourceId"`
	TenantName       string         `json:"tenantName"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// NamespaceDeleted soft-deletes a namespace.
type NamespaceDeleted struct {
	ResourceID       string    `json:"resourceId"`
	TenantResourceID string    `json:"tenantResourceId"`
	DeletedAt        time.Time `json:"deletedAt"`
}

// UserCreated announces a new user.
type UserCreated struct {
	ResourceID   string    `json:"resourceId"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserUpdated changes mutable user profile fields.
type UserUpdated struct {
	ResourceID string    `json:"resourceId"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// UserStatusChanged moves a user between lifecycle states.
type UserStatusChanged struct {
	ResourceID string    `json:"resourceId"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

// UserPasswordChanged replaces the stored password hash.
type UserPasswordChanged struct {
	ResourceID   string    `json:"resourceId"`
	PasswordHash string    `json:"passwordHash"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// UserTenantAssigned attaches a user to a tenant with a role.
type UserTenantAssigned struct {
	UserResourceID   string    `json:"userResourceId"`
	TenantResourceID string    `json:"tenantResourceId"`
	TenantName       string    `json:"tenantName"`
	Role             string    `json:"role"`
	AssignedAt       time.Time `json:"assignedAt"`
}

// UserTenantRemoved detaches a user from a tenant.
type UserTenantRemoved struct {
	UserResourceID   string    `json:"userResourceId"`
	TenantResourceID string    `json:"tenantResourceId"`
	RemovedAt        time.Time `json:"removedAt"`
}

// PermissionGranted awards permissions on a resource to a principal.
type PermissionGranted struct {
	PrincipalID         string            `json:"principalId"`
	PrincipalType       string            `json:"principalType"`
	ResourceType        string            `json:"resourceType"`
	ResourceID          *string           `json:"resourceId,omitempty"`
	TenantResourceID    *string           `json:"tenantResourceId,omitempty"`
	NamespaceResourceID *string           `json:"namespaceResourceId,omitempty"`
	TopicResourceID     *string           `json:"topicResourceId,omitempty"`
	Permissions         []string          `json:"permissions"`
	Constraints         map[string]string `json:"constraints,omitempty"`
	GrantedBy           string            `json:"grantedBy"`
	GrantedAt           time.Time         `json:"grantedAt"`
	ExpiresAt           *time.Time        `json:"expiresAt,omitempty"`
}

// PermissionRevoked subtracts permissions from grants matching the same
// principal, resource type and scope.
type PermissionRevoked struct {
	PrincipalID         string    `json:"principalId"`
	PrincipalType       string    `json:"principalType"`
	ResourceType        string    `json:"resourceType"`
	ResourceID          *string   `json:"resourceId,omitempty"`
	TenantResourceID    *string   `json:"tenantResourceId,omitempty"`
	NamespaceResourceID *string   `json:"namespaceResourceId,omitempty"`
	TopicResourceID     *string   `json:"topicResourceId,omitempty"`
	Permissions         []string  `json:"permissions"`
	RevokedBy           string    `json:"revokedBy"`
	RevokedAt           time.Time `json:"revokedAt"`
}

// APIKeyCreated announces a new API key for a user.
type APIKeyCreated struct {
	ResourceID     string     `json:"resourceId"`
	UserResourceID string     `json:"userResourceId"`
	Name           string     `json:"name"`
	KeyHash        string     `json:"keyHash,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// APIKeyRevoked marks an API key as revoked.
type APIKeyRevoked struct {
	ResourceID string    `json:"resourceId"`
	RevokedAt  time.Time `json:"revokedAt"`
}
