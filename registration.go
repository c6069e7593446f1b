package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultVerificationTTL = 24 * time.Hour
	defaultCommandTimeout  = 10 * time.Second
)

// RegisterUserMessage is the self-registration request
type RegisterUserMessage struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegistrationOrchestrator runs the registration saga: identity provider
// account, local directory record, verification token, notification and the
// UserRegistered event. A failure after the identity exists deletes it.
type RegistrationOrchestrator struct {
	gateway         IdentityGateway
	lifecycle       *AccountLifecycleService
	tx              TxRunner
	codec           *TokenCodec
	notifier        Notifier
	publisher       EventPublisher
	links           LinkBuilder
	verificationTTL time.Duration
	defaultRole     Role
	timeout         time.Duration
	activitySink    ActivitySink
	metrics         *Metrics
	logger          Logger
	now             func() time.Time
}

// RegistrationOption customizes RegistrationOrchestrator construction.
type RegistrationOption func(*RegistrationOrchestrator)

func WithRegistrationTxRunner(tx TxRunner) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		o.tx = normalizeTxRunner(tx)
	}
}

func WithRegistrationNotifier(n Notifier) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		o.notifier = normalizeNotifier(n)
	}
}

func WithRegistrationPublisher(p EventPublisher) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		o.publisher = normalizePublisher(p)
	}
}

func WithRegistrationLinks(links LinkBuilder) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		o.links = links
	}
}

func WithRegistrationVerificationTTL(ttl time.Duration) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		if ttl > 0 {
			o.verificationTTL = ttl
		}
	}
}

// WithRegistrationDefaultRole sets the role granted to self-registered users.
func WithRegistrationDefaultRole(role Role) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		if role.Assignable() {
			o.defaultRole = role
		}
	}
}

func WithRegistrationTimeout(d time.Duration) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithRegistrationActivitySink(sink ActivitySink) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		o.activitySink = normalizeActivitySink(sink)
	}
}

func WithRegistrationMetrics(m *Metrics) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		o.metrics = m
	}
}

func WithRegistrationLogger(logger Logger) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithRegistrationClock(now func() time.Time) RegistrationOption {
	return func(o *RegistrationOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func NewRegistrationOrchestrator(
	gateway IdentityGateway,
	lifecycle *AccountLifecycleService,
	codec *TokenCodec,
	opts ...RegistrationOption,
) *RegistrationOrchestrator {
	o := &RegistrationOrchestrator{
		gateway:         gateway,
		lifecycle:       lifecycle,
		codec:           codec,
		tx:              noTx{},
		notifier:        noopNotifier{},
		publisher:       noopPublisher{},
		verificationTTL: DefaultVerificationTTL,
		defaultRole:     RoleUser,
		timeout:         defaultCommandTimeout,
		activitySink:    noopActivitySink{},
		logger:          defLogger{},
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// RegisterUser runs the saga and returns the identity provider id.
func (o *RegistrationOrchestrator) RegisterUser(ctx context.Context, msg RegisterUserMessage) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return o.register(ctx, msg)
	}
}

func (o *RegistrationOrchestrator) register(ctx context.Context, msg RegisterUserMessage) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "identity.RegisterUser")
	defer span.End()

	req := sanitizeIdentity(NewIdentity(msg))
	if !ValidUsername(req.Username) {
		return uuid.Nil, WithMeta(ErrInvalidRequest, map[string]any{
			"fields": map[string]any{"username": "must not contain whitespace or markup"},
		})
	}
	span.SetAttributes(attribute.String("identity.username", req.Username))

	var (
		userID uuid.UUID
		token  string
	)

	saga := NewSaga("registration", o.logger, o.metrics,
		SagaStep{
			Name: "identity_created",
			Run: func(ctx context.Context) error {
				id, err := o.gateway.CreateUser(ctx, req)
				if err != nil {
					return Upstream(err, "gateway.create_user")
				}
				userID = id
				return nil
			},
			Compensate: func(ctx context.Context) error {
				o.logger.Warn("deleting identity %s after failed registration", userID)
				return o.gateway.DeleteUser(ctx, userID)
			},
		},
		SagaStep{
			Name: "directory_recorded",
			Run: func(ctx context.Context) error {
				return o.tx.RunInTx(ctx, func(ctx context.Context) error {
					_, err := o.lifecycle.Register(ctx, userID, NewRoleSet(o.defaultRole))
					return err
				})
			},
		},
		SagaStep{
			Name: "token_issued",
			Run: func(ctx context.Context) error {
				var err error
				token, err = o.codec.Issue(userID, req.Email, PurposeEmailVerification, o.verificationTTL)
				return err
			},
		},
		SagaStep{
			Name: "notified",
			Run: func(ctx context.Context) error {
				link := o.links.EmailVerification(token)
				if err := o.notifier.SendEmailVerification(ctx, req.Email, req.Username, link); err != nil {
					o.logger.Error("verification email for %s failed: %v", req.Username, err)
				}
				return nil
			},
		},
		SagaStep{
			Name: "event_published",
			Run: func(ctx context.Context) error {
				now := o.now().UTC()
				event := UserRegistered{
					EventID:    NewEventID(now),
					UserID:     userID.String(),
					Username:   req.Username,
					Email:      req.Email,
					OccurredAt: now,
				}
				if err := o.publisher.Publish(ctx, event); err != nil {
					o.logger.Error("publishing %s for %s failed: %v", event.EventName(), userID, err)
				}
				return nil
			},
		},
	)

	if err := saga.Execute(ctx); err != nil {
		o.metrics.registration(false)
		span.RecordError(err)
		return uuid.Nil, err
	}

	o.metrics.registration(true)
	o.logger.Info("user registered: %s (%s)", req.Username, userID)
	recordActivity(ctx, o.activitySink, o.logger, o.now, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor:     ActorRef{ID: userID.String(), Type: "user"},
		UserID:    userID.String(),
		Metadata:  map[string]any{"username": req.Username},
	})
	return userID, nil
}
