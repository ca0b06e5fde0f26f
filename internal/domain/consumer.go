package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ConsumerType distinguishes delivery transports.
type ConsumerType string

const (
	ConsumerTypeWebhook ConsumerType = "webhook"
	ConsumerTypeKafka   ConsumerType = "kafka"
)

// ConsumerStatus tracks whether a consumer still receives deliveries.
type ConsumerStatus string

const (
	ConsumerStatusActive ConsumerStatus = "active"
	// ConsumerStatusFailing marks a consumer parked after exhausting its
	// retry budget. Parked consumers keep their cursors but are skipped by
	// the dispatcher.
	ConsumerStatusFailing ConsumerStatus = "failing"
)

// Consumer is a subscriber with one delivery cursor per qualified topic name.
// A nil cursor means the consumer receives the stream from the beginning; a
// non-nil cursor means only events with a greater sequence are delivered.
type Consumer struct {
	ID           string              `json:"id"`
	Type         ConsumerType        `json:"type"`
	Callback     string              `json:"callback,omitempty"`
	Target       string              `json:"target,omitempty"`
	Status       ConsumerStatus      `json:"status"`
	Topics       map[string]*EventID `json:"topics"`
	RegisteredAt time.Time           `json:"registeredAt"`
}

// SubscribedTo reports whether the consumer subscribes to the qualified topic.
func (c Consumer) SubscribedTo(qualifiedTopic string) bool {
	_, ok := c.Topics[qualifiedTopic]
	return ok
}

// Clone returns a deep copy safe to hand across goroutines.
func (c Consumer) Clone() Consumer {
	out := c
	out.Topics = make(map[string]*EventID, len(c.Topics))
	for topic, cursor := range c.Topics {
		if cursor == nil {
			out.Topics[topic] = nil
			continue
		}
		id := *cursor
		out.Topics[topic] = &id
	}
	return out
}

// Validate checks the registration fields for the consumer's type.
func (c Consumer) Validate() error {
	if len(c.Topics) == 0 {
		return fmt.Errorf("%w: consumer must subscribe to at least one topic", ErrInvalidArgument)
	}
	switch c.Type {
	case ConsumerTypeWebhook:
		parsed, err := url.Parse(c.Callback)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			return fmt.Errorf("%w: callback must be an absolute URL", ErrInvalidArgument)
		}
	case ConsumerTypeKafka:
		if strings.TrimSpace(c.Target) == "" {
			return fmt.Errorf("%w: kafka consumers need a target topic", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown consumer type %q", ErrInvalidArgument, c.Type)
	}
	return nil
}
