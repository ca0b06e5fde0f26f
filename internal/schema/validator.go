// Package schema validates event payloads against per-topic, per-event-type
// JSON Schema definitions.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"example.com/eventstore/internal/domain"
)

// Draft identifiers accepted in a schema's jsonSchemaDraft field. Full
// meta-schema URLs pass through unchanged.
var draftURIs = map[string]string{
	"2020-12":  "https://json-schema.org/draft/2020-12/schema",
	"2019-09":  "https://json-schema.org/draft/2019-09/schema",
	"draft-07": "http://json-schema.org/draft-07/schema#",
	"draft-06": "http://json-schema.org/draft-06/schema#",
	"draft-04": "http://json-schema.org/draft-04/schema#",
}

// Validator holds compiled validators keyed by qualified topic name and event
// type. Validation is synchronous and side-effect free; registration replaces
// a topic's whole schema set.
type Validator struct {
	mu     sync.RWMutex
	topics map[string]map[string]*jsonschema.Schema
}

// NewValidator constructs an empty Validator.
func NewValidator() *Validator {
	return &Validator{topics: make(map[string]map[string]*jsonschema.Schema)}
}

// RegisterSchemas compiles and installs the schema set for a topic, replacing
// any previous set. Every schema needs a nonblank event type and an explicit
// draft identifier; duplicates and uncompilable schemas reject the whole call.
func (v *Validator) RegisterSchemas(qualifiedTopic string, schemas []domain.Schema) error {
	compiled := make(map[string]*jsonschema.Schema, len(schemas))
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()

	for _, schema := range schemas {
		eventType := strings.TrimSpace(schema.EventType)
		if eventType == "" {
			return fmt.Errorf("%w: schema for topic %q has a blank event type", domain.ErrInvalidArgument, qualifiedTopic)
		}
		if _, dup := compiled[eventType]; dup {
			return fmt.Errorf("%w: duplicate event type %q on topic %q", domain.ErrInvalidArgument, eventType, qualifiedTopic)
		}
		draft, err := resolveDraft(schema.Draft)
		if err != nil {
			return fmt.Errorf("%w: event type %q on topic %q: %v", domain.ErrInvalidArgument, eventType, qualifiedTopic, err)
		}

		doc, err := schemaDocument(schema, draft)
		if err != nil {
			return fmt.Errorf("%w: event type %q on topic %q: %v", domain.ErrInvalidArgument, eventType, qualifiedTopic, err)
		}

		uri := fmt.Sprintf("mem:///topics/%s/%s.json", qualifiedTopic, eventType)
		if err := compiler.AddResource(uri, doc); err != nil {
			return fmt.Errorf("%w: event type %q on topic %q: %v", domain.ErrInvalidArgument, eventType, qualifiedTopic, err)
		}
		sch, err := compiler.Compile(uri)
		if err != nil {
			return fmt.Errorf("%w: event type %q on topic %q: %v", domain.ErrInvalidArgument, eventType, qualifiedTopic, err)
		}
		compiled[eventType] = sch
	}

	v.mu.Lock()
	v.topics[qualifiedTopic] = compiled
	v.mu.Unlock()
	return nil
}

// ValidateEvent checks payload against the registered schema for the topic and
// event type. Unknown pairs and schema violations both fail with the payload
// validation error kind.
func (v *Validator) ValidateEvent(qualifiedTopic, eventType string, payload any) error {
	v.mu.RLock()
	types, ok := v.topics[qualifiedTopic]
	var sch *jsonschema.Schema
	if ok {
		sch = types[eventType]
	}
	v.mu.RUnlock()

	if sch == nil {
		return fmt.Errorf("%w: no schema registered for event type %q on topic %q", domain.ErrInvalidEventPayload, eventType, qualifiedTopic)
	}

	doc, err := normalize(payload)
	if err != nil {
		return fmt.Errorf("%w: event type %q on topic %q: payload is not valid JSON: %v", domain.ErrInvalidEventPayload, eventType, qualifiedTopic, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: event type %q on topic %q: %v", domain.ErrInvalidEventPayload, eventType, qualifiedTopic, err)
	}
	return nil
}

// EventTypes lists the registered event types for a topic.
func (v *Validator) EventTypes(qualifiedTopic string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	types := make([]string, 0, len(v.topics[qualifiedTopic]))
	for eventType := range v.topics[qualifiedTopic] {
		types = append(types, eventType)
	}
	return types
}

func resolveDraft(draft string) (string, error) {
	trimmed := strings.TrimSpace(draft)
	if trimmed == "" {
		return "", fmt.Errorf("jsonSchemaDraft is required")
	}
	if uri, ok := draftURIs[trimmed]; ok {
		return uri, nil
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed, nil
	}
	return "", fmt.Errorf("unknown jsonSchemaDraft %q", draft)
}

// schemaDocument builds the JSON Schema document for one event type and
// decodes it into the representation the compiler expects.
func schemaDocument(schema domain.Schema, draftURI string) (any, error) {
	doc := map[string]any{
		"$schema": draftURI,
		"type":    "object",
	}
	if schema.Properties != nil {
		doc["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		doc["required"] = schema.Required
	}
	return normalize(doc)
}

// normalize round-trips a value through JSON so the validator sees canonical
// JSON types regardless of how the payload was produced.
func normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
