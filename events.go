package identity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const EventUserRegistered = "user.registered"

// Event is a domain event published after a state change commits.
type Event interface {
	EventName() string
	AggregateID() string
}

// UserRegistered is published once the registration saga succeeds.
type UserRegistered struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e UserRegistered) EventName() string   { return EventUserRegistered }
func (e UserRegistered) AggregateID() string { return e.UserID }

// EventPublisher hands events to asynchronous consumers. Consumer failures
// must never flow back to the publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventPublisherFunc adapts a function to the EventPublisher interface.
type EventPublisherFunc func(ctx context.Context, event Event) error

// Publish implements EventPublisher.
func (f EventPublisherFunc) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

func normalizePublisher(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

// EventHandler consumes a single event
type EventHandler func(ctx context.Context, event Event) error

// EventBus is an in-process EventPublisher. Handlers run on their own
// goroutine, their errors and panics are logged.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   Logger
	wg       sync.WaitGroup
}

func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = defLogger{}
	}
	return &EventBus{
		handlers: map[string][]EventHandler{},
		logger:   logger,
	}
}

// Subscribe registers h for events named name
func (b *EventBus) Subscribe(name string, h EventHandler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish dispatches event and returns immediately.
func (b *EventBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[event.EventName()]...)
	b.mu.RUnlock()

	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		b.wg.Add(1)
		go b.dispatch(detached, h, event)
	}
	return nil
}

// Wait blocks until in-flight handlers return.
func (b *EventBus) Wait() {
	b.wg.Wait()
}

func (b *EventBus) dispatch(ctx context.Context, h EventHandler, event Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler for %s panicked: %v", event.EventName(), r)
		}
	}()

	if err := h(ctx, event); err != nil {
		b.logger.Error("event handler for %s (%s) failed: %v", event.EventName(), event.AggregateID(), err)
	}
}

// WelcomeEmailHandler sends the welcome email for UserRegistered events.
// Delivery failures are logged and swallowed.
func WelcomeEmailHandler(notifier Notifier, logger Logger) EventHandler {
	notifier = normalizeNotifier(notifier)
	if logger == nil {
		logger = defLogger{}
	}
	return func(ctx context.Context, event Event) error {
		registered, ok := event.(UserRegistered)
		if !ok {
			return fmt.Errorf("unexpected event type %T", event)
		}

		logger.Info("sending welcome email for user %s", registered.Username)
		if err := notifier.SendWelcomeEmail(ctx, registered.Email, registered.Username); err != nil {
			logger.Error("failed to send welcome email for user %s: %v", registered.Username, err)
		}
		return nil
	}
}
