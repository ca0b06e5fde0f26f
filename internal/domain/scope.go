package domain

import "strings"

// Scope names the tenant and namespace a topic lives in. The zero value is
// the default scope, which predates multi-tenancy and maps to unprefixed
// paths, names and ids.
type Scope struct {
	Tenant    string
	Namespace string
}

// IsDefault reports whether the scope omits tenant and namespace.
func (s Scope) IsDefault() bool {
	return s.Tenant == "" && s.Namespace == ""
}

// Qualify returns the qualified topic name used as the key in consumer
// subscription maps and for dispatcher routing.
func (s Scope) Qualify(topic string) string {
	if s.IsDefault() {
		return topic
	}
	return s.Tenant + "/" + s.Namespace + "/" + topic
}

// String renders the scope for logs.
func (s Scope) String() string {
	if s.IsDefault() {
		return "default"
	}
	return s.Tenant + "/" + s.Namespace
}

// SplitQualified splits a qualified topic name into its scope and bare name.
func SplitQualified(name string) (Scope, string) {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) == 3 {
		return Scope{Tenant: parts[0], Namespace: parts[1]}, parts[2]
	}
	return Scope{}, name
}
