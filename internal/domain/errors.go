package domain

import "errors"

var (
	// ErrInvalidArgument flags rejected input such as empty batches, blank
	// names or malformed ids.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTopicNotFound is returned when a topic cannot be located.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrTopicExists is returned when a topic name is already taken.
	ErrTopicExists = errors.New("topic already exists")
	// ErrConsumerNotFound is returned when a consumer id is unknown.
	ErrConsumerNotFound = errors.New("consumer not found")
	// ErrInvalidEventPayload is returned when a payload fails schema validation.
	ErrInvalidEventPayload = errors.New("event payload failed schema validation")
	// ErrEventStorage wraps I/O and serialization failures in the event store.
	ErrEventStorage = errors.New("event storage failure")
	// ErrTopicConfig wraps topic configuration read and write failures.
	ErrTopicConfig = errors.New("topic config failure")
	// ErrRemoteDelivery covers non-2xx responses, network errors and timeouts
	// from consumer endpoints.
	ErrRemoteDelivery = errors.New("remote delivery failed")
)
