package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventUserRegistered       ActivityEventType = "user.registered"
	ActivityEventUserCreated          ActivityEventType = "user.created"
	ActivityEventUserActivated        ActivityEventType = "user.activated"
	ActivityEventUserDeactivated      ActivityEventType = "user.deactivated"
	ActivityEventUserRolesReplaced    ActivityEventType = "user.roles.replaced"
	ActivityEventEmailVerified        ActivityEventType = "auth.email.verified"
	ActivityEventEmailChanged         ActivityEventType = "auth.email.changed"
	ActivityEventPasswordChanged      ActivityEventType = "auth.password.changed"
	ActivityEventPasswordResetSuccess ActivityEventType = "auth.password.reset"
	ActivityEventMappingCreated       ActivityEventType = "permission.mapping.created"
	ActivityEventMappingDeleted       ActivityEventType = "permission.mapping.deleted"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

var systemActor = ActorRef{ID: "system", Type: "system"}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity never fails the caller, sink errors are only logged
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now().UTC()
	}
	if event.Actor.ID == "" {
		event.Actor = systemActor
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Warn("activity sink failed for %s: %v", event.EventType, err)
	}
}
