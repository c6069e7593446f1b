// Package kafka forwards identity events to a Kafka topic and consumes them
// back into identity.EventHandler functions.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/segmentio/kafka-go"
)

// HeaderEventName carries identity.Event.EventName on every message.
const HeaderEventName = "event-name"

const writeTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements identity.EventPublisher using segmentio/kafka-go.
// Messages are keyed by the aggregate id so events of one user stay ordered.
type Producer struct {
	writer messageWriter
	topic  string
	logger identity.Logger
}

var _ identity.EventPublisher = (*Producer)(nil)

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

func WithProducerLogger(logger identity.Logger) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWriter replaces the kafka.Writer, tests use it to capture messages.
func WithWriter(w messageWriter) ProducerOption {
	return func(p *Producer) {
		if w != nil {
			p.writer = w
		}
	}
}

// NewProducer creates a producer writing to topic. It returns nil when no
// brokers or topic are configured.
func NewProducer(brokers []string, topic string, opts ...ProducerOption) *Producer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	p := &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
		topic:  topic,
		logger: identity.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Publish serializes the event as JSON and writes it to the topic.
func (p *Producer) Publish(ctx context.Context, event identity.Event) error {
	if p == nil || p.writer == nil || event == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", event.EventName(), err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.AggregateID()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderEventName, Value: []byte(event.EventName())},
		},
	})
	if err != nil {
		p.logger.Error("kafka: publish %s to %s failed: %v", event.EventName(), p.topic, err)
		return err
	}
	return nil
}

// Handle lets the producer subscribe to an identity.EventBus.
func (p *Producer) Handle(ctx context.Context, event identity.Event) error {
	return p.Publish(ctx, event)
}

// Close closes the writer. Safe to call multiple times.
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
