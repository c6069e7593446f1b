package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Decoder turns a message payload into an event.
type Decoder func(payload []byte) (identity.Event, error)

// Consumer reads events from a topic and dispatches them to handlers by
// event name. Handler failures are logged and the message is committed,
// consumers never block the topic on a bad message.
type Consumer struct {
	reader   messageReader
	decoders map[string]Decoder
	handlers map[string][]identity.EventHandler
	logger   identity.Logger
}

type ConsumerOption func(*Consumer)

func WithConsumerLogger(logger identity.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReader replaces the kafka.Reader.
func WithReader(r messageReader) ConsumerOption {
	return func(c *Consumer) {
		if r != nil {
			c.reader = r
		}
	}
}

// NewConsumer joins groupID on topic. identity.UserRegistered is decoded out
// of the box, other events need RegisterDecoder.
func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		decoders: map[string]Decoder{
			identity.EventUserRegistered: decodeUserRegistered,
		},
		handlers: map[string][]identity.EventHandler{},
		logger:   identity.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.reader == nil {
		c.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        1 * time.Second,
			CommitInterval: time.Second,
		})
	}
	return c
}

func (c *Consumer) RegisterDecoder(name string, d Decoder) {
	c.decoders[name] = d
}

// Subscribe mirrors identity.EventBus.Subscribe.
func (c *Consumer) Subscribe(name string, h identity.EventHandler) {
	if h == nil {
		return
	}
	c.handlers[name] = append(c.handlers[name], h)
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("kafka: read failed: %v", err)
			continue
		}

		c.dispatch(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka: commit offset %d failed: %v", msg.Offset, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) {
	name := eventName(msg)
	handlers := c.handlers[name]
	if len(handlers) == 0 {
		return
	}

	decode, ok := c.decoders[name]
	if !ok {
		c.logger.Warn("kafka: no decoder for %s, skipping offset %d", name, msg.Offset)
		return
	}

	event, err := decode(msg.Value)
	if err != nil {
		c.logger.Error("kafka: decode %s at offset %d: %v", name, msg.Offset, err)
		return
	}

	for _, h := range handlers {
		c.handle(ctx, h, event)
	}
}

func (c *Consumer) handle(ctx context.Context, h identity.EventHandler, event identity.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("kafka: handler for %s panicked: %v", event.EventName(), r)
		}
	}()
	if err := h(ctx, event); err != nil {
		c.logger.Error("kafka: handler for %s (%s) failed: %v", event.EventName(), event.AggregateID(), err)
	}
}

func eventName(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderEventName {
			return string(h.Value)
		}
	}
	return ""
}

func decodeUserRegistered(payload []byte) (identity.Event, error) {
	var event identity.UserRegistered
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode user registered: %w", err)
	}
	return event, nil
}
