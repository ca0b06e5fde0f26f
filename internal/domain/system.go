package domain

// Reserved identifiers for the administrative scope. Fixed at process start,
// never derived from user input.
const (
	SystemTenantID        = "system"
	ManagementNamespaceID = "management"
)

// System topics record the administrative events the projections fold.
const (
	TopicTenants     = "tenants"
	TopicNamespaces  = "namespaces"
	TopicUsers       = "users"
	TopicPermissions = "permissions"
	TopicAPIKeys     = "api-keys"
)

// SystemTopics lists every reserved topic in projection replay order.
var SystemTopics = []string{TopicTenants, TopicNamespaces, TopicUsers, TopicPermissions, TopicAPIKeys}

// SystemScope returns the reserved tenant/namespace scope.
func SystemScope() Scope {
	return Scope{Tenant: SystemTenantID, Namespace: ManagementNamespaceID}
}

// IsSystemTopic reports whether name is one of the reserved topics.
func IsSystemTopic(name string) bool {
	for _, topic := range SystemTopics {
		if topic == name {
			return true
		}
	}
	return false
}
