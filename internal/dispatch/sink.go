package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/eventstore/internal/domain"
)

// Sink delivers one batch of events to a consumer's endpoint. An error means
// the whole batch failed and the cursor must not move.
type Sink interface {
	Deliver(ctx context.Context, consumer domain.Consumer, events []domain.Event) error
}

// deliveryBody is the webhook wire format.
type deliveryBody struct {
	ConsumerID string         `json:"consumerId"`
	Events     []domain.Event `json:"events"`
}

// WebhookSink POSTs event batches to the consumer's callback URL. Any 2xx
// response acknowledges the batch.
type WebhookSink struct {
	client *http.Client
}

// NewWebhookSink constructs a webhook sink with the given request timeout.
func NewWebhookSink(timeout time.Duration) *WebhookSink {
	return &WebhookSink{client: &http.Client{Timeout: timeout}}
}

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, consumer domain.Consumer, events []domain.Event) error {
	body, err := json.Marshal(deliveryBody{ConsumerID: consumer.ID, Events: events})
	if err != nil {
		return fmt.Errorf("%w: encode delivery: %v", domain.ErrRemoteDelivery, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, consumer.Callback, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRemoteDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRemoteDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", domain.ErrRemoteDelivery, consumer.Callback, resp.StatusCode)
	}
	return nil
}

// messageWriter is the subset of kafka.Writer the sink uses, extracted so
// tests can substitute a stub.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards events to Kafka, lazily managing one writer per target
// topic.
type KafkaSink struct {
	mu        sync.Mutex
	writers   map[string]messageWriter
	newWriter func(topic string) messageWriter
}

// NewKafkaSink constructs a sink writing to the given brokers.
func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{
		writers: make(map[string]messageWriter),
		newWriter: func(topic string) messageWriter {
			return &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        topic,
				RequiredAcks: kafka.RequireAll,
				Compression:  kafka.Snappy,
				Async:        false,
			}
		},
	}
}

// Deliver writes one message per event to the consumer's target topic, keyed
// by the scoped event id so partitioning follows the stream.
func (s *KafkaSink) Deliver(ctx context.Context, consumer domain.Consumer, events []domain.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("%w: encode %s: %v", domain.ErrRemoteDelivery, event.ID.String(), err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(event.ID.String()), Value: value})
	}
	if err := s.writerForTopic(consumer.Target).WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("%w: kafka write to %s: %v", domain.ErrRemoteDelivery, consumer.Target, err)
	}
	return nil
}

func (s *KafkaSink) writerForTopic(topic string) messageWriter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if writer, ok := s.writers[topic]; ok {
		return writer
	}
	writer := s.newWriter(topic)
	s.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for topic, writer := range s.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.writers, topic)
	}
	return firstErr
}
