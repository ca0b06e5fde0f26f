package domain

// Schema declares the JSON Schema fragment accepted for one event type on a
// topic. Draft carries the explicit schema-draft identifier; payloads are
// validated as objects against Properties and Required.
type Schema struct {
	EventType  string         `json:"eventType"`
	Draft      string         `json:"jsonSchemaDraft"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Topic is a named, ordered event stream scoped to a tenant and namespace.
// Sequence is the last allocated sequence number and only moves through
// TopicRegistry.
type Topic struct {
	ResourceID          string
	TenantResourceID    string
	NamespaceResourceID string
	TenantName          string
	NamespaceName       string
	Name                string
	Sequence            int64
	Schemas             []Schema
}

// Scope returns the tenant/namespace pair the topic belongs to.
func (t Topic) Scope() Scope {
	return Scope{Tenant: t.TenantName, Namespace: t.NamespaceName}
}

// QualifiedName returns "tenant/namespace/name", or the bare name in the
// default scope.
func (t Topic) QualifiedName() string {
	return t.Scope().Qualify(t.Name)
}

// CloneSchemas returns a deep copy of the schema list.
func (t Topic) CloneSchemas() []Schema {
	if t.Schemas == nil {
		return nil
	}
	out := make([]Schema, len(t.Schemas))
	for i, schema := range t.Schemas {
		copied := schema
		if schema.Properties != nil {
			copied.Properties = make(map[string]any, len(schema.Properties))
			for key, value := range schema.Properties {
				copied.Properties[key] = value
			}
		}
		if schema.Required != nil {
			copied.Required = append([]string(nil), schema.Required...)
		}
		out[i] = copied
	}
	return out
}
