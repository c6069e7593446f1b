package identity

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	DefaultPasswordResetTTL = time.Hour
	fallbackUsername        = "User"
)

// AccountService exposes the token driven account flows and delegates
// authentication to the identity provider.
type AccountService struct {
	gateway          IdentityGateway
	lifecycle        *AccountLifecycleService
	codec            *TokenCodec
	notifier         Notifier
	links            LinkBuilder
	verificationTTL  time.Duration
	passwordResetTTL time.Duration
	resetLimiter     *keyedLimiter
	tokens           AccessTokenValidator
	timeout          time.Duration
	activitySink     ActivitySink
	metrics          *Metrics
	logger           Logger
	now              func() time.Time
}

// AccountOption customizes AccountService construction.
type AccountOption func(*AccountService)

func WithAccountNotifier(n Notifier) AccountOption {
	return func(s *AccountService) {
		s.notifier = normalizeNotifier(n)
	}
}

func WithAccountLinks(links LinkBuilder) AccountOption {
	return func(s *AccountService) {
		s.links = links
	}
}

func WithAccountTokenTTLs(verification, passwordReset time.Duration) AccountOption {
	return func(s *AccountService) {
		if verification > 0 {
			s.verificationTTL = verification
		}
		if passwordReset > 0 {
			s.passwordResetTTL = passwordReset
		}
	}
}

// WithPasswordResetRateLimit throttles reset initiation per email address.
func WithPasswordResetRateLimit(perMinute float64, burst int) AccountOption {
	return func(s *AccountService) {
		if perMinute > 0 {
			s.resetLimiter = newKeyedLimiter(perMinute, burst, func() time.Time { return s.now() })
		}
	}
}

// WithAccountTokenValidator lets Login read the subject of the access token
// it obtained and refuse accounts whose directory record is not active.
func WithAccountTokenValidator(v AccessTokenValidator) AccountOption {
	return func(s *AccountService) {
		s.tokens = v
	}
}

func WithAccountActivitySink(sink ActivitySink) AccountOption {
	return func(s *AccountService) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

func WithAccountMetrics(m *Metrics) AccountOption {
	return func(s *AccountService) {
		s.metrics = m
	}
}

func WithAccountLogger(logger Logger) AccountOption {
	return func(s *AccountService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAccountClock(now func() time.Time) AccountOption {
	return func(s *AccountService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAccountService(gateway IdentityGateway, lifecycle *AccountLifecycleService, codec *TokenCodec, opts ...AccountOption) *AccountService {
	s := &AccountService{
		gateway:          gateway,
		lifecycle:        lifecycle,
		codec:            codec,
		notifier:         noopNotifier{},
		verificationTTL:  DefaultVerificationTTL,
		passwordResetTTL: DefaultPasswordResetTTL,
		timeout:          defaultCommandTimeout,
		activitySink:     noopActivitySink{},
		logger:           defLogger{},
		now:              time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// VerifyEmail activates the account at the identity provider and locally.
// Both must succeed, there is no compensation for partial activation.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) error {
	if err := checkContext(ctx, "email verification"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userID, err := s.verifyToken(token, PurposeEmailVerification)
	if err != nil {
		return err
	}

	if err := s.gateway.ActivateUser(ctx, userID); err != nil {
		return Upstream(err, "gateway.activate_user")
	}

	if err := s.lifecycle.Activate(ctx, ActorRef{ID: userID.String(), Type: "user"}, userID); err != nil {
		return err
	}

	s.logger.Info("email verified for user %s", userID)
	s.record(ctx, ActivityEventEmailVerified, userID, nil)
	return nil
}

// ResendVerification re-issues the verification email for inactive accounts.
// The response does not reveal whether the email is known.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	if err := checkContext(ctx, "verification resend"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	account, err := s.gateway.FindUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			s.logger.Info("verification resend requested for unknown email")
			return nil
		}
		return Upstream(err, "gateway.find_user_by_email")
	}

	user, err := s.lifecycle.GetUser(ctx, account.ID)
	if err != nil {
		return err
	}
	if user.IsActive() {
		s.logger.Info("verification resend requested for active user %s", account.ID)
		return nil
	}

	token, err := s.codec.Issue(account.ID, account.Email, PurposeEmailVerification, s.verificationTTL)
	if err != nil {
		return err
	}
	if err := s.notifier.SendEmailVerification(ctx, account.Email, account.Username, s.links.EmailVerification(token)); err != nil {
		s.logger.Error("verification email for %s failed: %v", account.ID, err)
	}
	return nil
}

// InitiatePasswordReset sends a reset link. Unknown emails get the same
// nil response as known ones.
func (s *AccountService) InitiatePasswordReset(ctx context.Context, email string) error {
	if err := checkContext(ctx, "password reset initialization"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	email = strings.TrimSpace(email)
	if !s.resetLimiter.Allow(email) {
		return WithMeta(ErrRateLimited, map[string]any{"operation": "password_reset"})
	}

	account, err := s.gateway.FindUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return Upstream(err, "gateway.find_user_by_email")
	}

	token, err := s.codec.Issue(account.ID, account.Email, PurposePasswordReset, s.passwordResetTTL)
	if err != nil {
		return err
	}

	username := account.Username
	if username == "" {
		username = fallbackUsername
	}
	if err := s.notifier.SendPasswordResetEmail(ctx, account.Email, username, s.links.PasswordReset(token)); err != nil {
		s.logger.Error("password reset email for %s failed: %v", account.ID, err)
	}

	s.logger.Info("password reset initiated for user %s", account.ID)
	return nil
}

func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := checkContext(ctx, "password reset"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userID, err := s.verifyToken(token, PurposePasswordReset)
	if err != nil {
		return err
	}

	if err := s.gateway.ChangePassword(ctx, userID, newPassword); err != nil {
		return Upstream(err, "gateway.change_password")
	}

	s.logger.Info("password reset for user %s", userID)
	s.record(ctx, ActivityEventPasswordResetSuccess, userID, nil)
	return nil
}

// ChangePassword checks the current password before replacing it.
func (s *AccountService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	if err := checkContext(ctx, "password change"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	username, err := s.gateway.GetUsernameByID(ctx, userID)
	if err != nil {
		return Upstream(err, "gateway.get_username")
	}

	if err := s.gateway.VerifyPassword(ctx, username, currentPassword); err != nil {
		if IsInvalidCredentials(err) {
			s.logger.Warn("password change for %s rejected: current password mismatch", userID)
		}
		return Upstream(err, "gateway.verify_password")
	}

	if err := s.gateway.ChangePassword(ctx, userID, newPassword); err != nil {
		return Upstream(err, "gateway.change_password")
	}

	s.logger.Info("password changed for user %s", userID)
	s.record(ctx, ActivityEventPasswordChanged, userID, nil)
	return nil
}

// ChangeEmail updates the address, deactivates the account and sends a
// fresh verification token to the new address.
func (s *AccountService) ChangeEmail(ctx context.Context, userID uuid.UUID, newEmail string) error {
	if err := checkContext(ctx, "email change"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	newEmail = strings.TrimSpace(newEmail)
	if err := s.gateway.ChangeEmail(ctx, userID, newEmail); err != nil {
		return Upstream(err, "gateway.change_email")
	}

	if err := s.lifecycle.DeactivateSelf(ctx, userID); err != nil {
		return err
	}

	token, err := s.codec.Issue(userID, newEmail, PurposeEmailVerification, s.verificationTTL)
	if err != nil {
		return err
	}

	username, err := s.gateway.GetUsernameByID(ctx, userID)
	if err != nil || username == "" {
		username = fallbackUsername
	}
	if err := s.notifier.SendEmailVerification(ctx, newEmail, username, s.links.EmailVerification(token)); err != nil {
		s.logger.Error("verification email for %s failed: %v", userID, err)
	}

	s.logger.Info("email changed for user %s", userID)
	s.record(ctx, ActivityEventEmailChanged, userID, nil)
	return nil
}

// Login exchanges credentials for tokens at the identity provider. Accounts
// pending verification get ErrAccountInactive, either from the provider or
// from the directory check when a token validator is configured.
func (s *AccountService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	if err := checkContext(ctx, "login"); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pair, err := s.gateway.IssueTokens(ctx, username, password)
	if err != nil {
		return nil, Upstream(err, "gateway.issue_tokens")
	}

	if err := s.requireActive(ctx, pair); err != nil {
		s.revoke(ctx, pair.RefreshToken)
		return nil, err
	}
	return pair, nil
}

func (s *AccountService) requireActive(ctx context.Context, pair *TokenPair) error {
	if s.tokens == nil {
		return nil
	}

	principal, err := s.tokens.Validate(ctx, pair.AccessToken)
	if err != nil {
		return Upstream(err, "validate_issued_token")
	}

	id, err := principal.UserID()
	if err != nil {
		return WithMeta(ErrAccountInactive, map[string]any{"subject": principal.ID})
	}

	user, err := s.lifecycle.GetUser(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return WithMeta(ErrAccountInactive, map[string]any{"user_id": id.String()})
		}
		return err
	}
	if !user.IsActive() {
		s.logger.Info("login refused for inactive user %s", id)
		return WithMeta(ErrAccountInactive, map[string]any{"user_id": id.String()})
	}
	return nil
}

func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := checkContext(ctx, "token refresh"); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pair, err := s.gateway.RefreshTokens(ctx, refreshToken)
	if err != nil {
		return nil, Upstream(err, "gateway.refresh_tokens")
	}
	return pair, nil
}

// Logout always succeeds for the caller.
func (s *AccountService) Logout(ctx context.Context, refreshToken string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	s.revoke(ctx, refreshToken)
}

func (s *AccountService) revoke(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	if err := s.gateway.RevokeTokens(ctx, refreshToken); err != nil {
		s.logger.Warn("token revocation failed: %v", err)
	}
}

// verifyToken logs the precise failure and returns the unified error.
func (s *AccountService) verifyToken(token string, purpose TokenPurpose) (uuid.UUID, error) {
	userID, err := s.codec.Verify(token, purpose)
	if err != nil {
		kind := tokenFailureKind(err)
		s.metrics.tokenVerified(purpose, kind)
		s.logger.Warn("%s token rejected: %s", purpose, kind)
		return uuid.Nil, WithCause(ErrInvalidOrExpiredToken, err, nil)
	}
	s.metrics.tokenVerified(purpose, "valid")
	return userID, nil
}

func (s *AccountService) record(ctx context.Context, kind ActivityEventType, id uuid.UUID, meta map[string]any) {
	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: kind,
		Actor:     ActorRef{ID: id.String(), Type: "user"},
		UserID:    id.String(),
		Metadata:  meta,
	})
}

func checkContext(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during "+operation,
		)
	default:
		return nil
	}
}
