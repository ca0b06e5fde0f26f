// Package domain defines the core entities and operations of the event store.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventID identifies one event within a topic stream. The canonical textual
// form is "<topic>-<sequence>"; ids in a non-default scope carry a
// "<tenant>/<namespace>/" prefix.
type EventID struct {
	Tenant    string
	Namespace string
	Topic     string
	Sequence  int64
}

// NewEventID builds an EventID for the given scope, topic and sequence.
func NewEventID(scope Scope, topic string, sequence int64) EventID {
	return EventID{Tenant: scope.Tenant, Namespace: scope.Namespace, Topic: topic, Sequence: sequence}
}

// Value returns the unscoped form used for file names and event bodies.
func (id EventID) Value() string {
	return fmt.Sprintf("%s-%d", id.Topic, id.Sequence)
}

// String returns the scoped form when tenant and namespace are set.
func (id EventID) String() string {
	if id.Tenant == "" && id.Namespace == "" {
		return id.Value()
	}
	return id.Tenant + "/" + id.Namespace + "/" + id.Value()
}

// Scope returns the tenant/namespace pair the id belongs to.
func (id EventID) Scope() Scope {
	return Scope{Tenant: id.Tenant, Namespace: id.Namespace}
}

// Compare orders ids lexicographically by topic, then numerically by sequence.
func (id EventID) Compare(other EventID) int {
	if id.Topic != other.Topic {
		if id.Topic < other.Topic {
			return -1
		}
		return 1
	}
	switch {
	case id.Sequence < other.Sequence:
		return -1
	case id.Sequence > other.Sequence:
		return 1
	}
	return 0
}

// ParseEventID parses both the unscoped and the scoped textual forms. Topic
// names may themselves contain dashes, so the sequence is read from the last
// dash.
func ParseEventID(raw string) (EventID, error) {
	var id EventID
	rest := raw
	if parts := strings.Split(raw, "/"); len(parts) == 3 {
		id.Tenant, id.Namespace, rest = parts[0], parts[1], parts[2]
		if id.Tenant == "" || id.Namespace == "" {
			return EventID{}, fmt.Errorf("%w: event id %q has an empty scope segment", ErrInvalidArgument, raw)
		}
	} else if len(parts) != 1 {
		return EventID{}, fmt.Errorf("%w: malformed event id %q", ErrInvalidArgument, raw)
	}

	cut := strings.LastIndex(rest, "-")
	if cut <= 0 || cut == len(rest)-1 {
		return EventID{}, fmt.Errorf("%w: malformed event id %q", ErrInvalidArgument, raw)
	}
	sequence, err := strconv.ParseInt(rest[cut+1:], 10, 64)
	if err != nil {
		return EventID{}, fmt.Errorf("%w: event id %q has no numeric sequence", ErrInvalidArgument, raw)
	}
	id.Topic = rest[:cut]
	id.Sequence = sequence
	return id, nil
}

// MarshalText encodes the id in its textual form.
func (id EventID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses either textual form.
func (id *EventID) UnmarshalText(text []byte) error {
	parsed, err := ParseEventID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Event is a single immutable record in a topic stream.
type Event struct {
	ID        EventID
	Timestamp time.Time
	Type      string
	Payload   any
}

type eventJSON struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
}

// MarshalJSON encodes the persisted and wire form {id, timestamp, type, payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:        e.ID.Value(),
		Timestamp: e.Timestamp.UTC(),
		Type:      e.Type,
		Payload:   e.Payload,
	})
}

// UnmarshalJSON decodes the persisted form. The id's scope fields stay empty;
// callers that know the scope fill them in afterwards.
func (e *Event) UnmarshalJSON(data []byte) error {
	var body eventJSON
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	id, err := ParseEventID(body.ID)
	if err != nil {
		return err
	}
	e.ID = id
	e.Timestamp = body.Timestamp
	e.Type = body.Type
	e.Payload = body.Payload
	return nil
}
