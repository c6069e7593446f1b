package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds identity core options
type Config interface {
	GetSigningKey() string
	GetEmailVerificationTTL() time.Duration
	GetPasswordResetTTL() time.Duration
	GetFrontendURL() string
	GetDefaultRole() string
	GetPasswordResetRatePerMinute() float64
	GetPasswordResetBurst() int
}

// NewIdentity is the payload sent to the identity provider on registration
type NewIdentity struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// GatewayUser is the identity provider's view of an account
type GatewayUser struct {
	ID            uuid.UUID
	Username      string
	Email         string
	Enabled       bool
	EmailVerified bool
}

// TokenPair is returned by the identity provider on login and refresh
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// IdentityGateway is the identity provider client. Implementations live
// under provider/.
type IdentityGateway interface {
	CreateUser(ctx context.Context, req NewIdentity) (uuid.UUID, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ActivateUser(ctx context.Context, id uuid.UUID) error
	ChangePassword(ctx context.Context, id uuid.UUID, newPassword string) error
	ChangeEmail(ctx context.Context, id uuid.UUID, newEmail string) error
	// VerifyPassword returns ErrInvalidCredentials on mismatch
	VerifyPassword(ctx context.Context, username, password string) error
	GetUsernameByID(ctx context.Context, id uuid.UUID) (string, error)
	// FindUserByEmail returns ErrUserNotFound when no account matches
	FindUserByEmail(ctx context.Context, email string) (*GatewayUser, error)

	IssueTokens(ctx context.Context, username, password string) (*TokenPair, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error)
	RevokeTokens(ctx context.Context, refreshToken string) error
}

// UserDirectory persists SystemUser records keyed by the identity provider id
type UserDirectory interface {
	Create(ctx context.Context, user *SystemUser) (*SystemUser, error)
	// FindByID returns ErrUserNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*SystemUser, error)
	FindAll(ctx context.Context) ([]*SystemUser, error)
	Save(ctx context.Context, user *SystemUser) (*SystemUser, error)
}

// PermissionStore persists role to permission mappings
type PermissionStore interface {
	FindByRoleIn(ctx context.Context, roles []Role) ([]*RolePermissionMapping, error)
	FindByRole(ctx context.Context, role Role) ([]*RolePermissionMapping, error)
	ExistsByRoleAndPermission(ctx context.Context, role Role, permission Permission) (bool, error)
	Save(ctx context.Context, mapping *RolePermissionMapping) (*RolePermissionMapping, error)
	// DeleteByID must not fail when the mapping is already gone
	DeleteByID(ctx context.Context, id uuid.UUID) error
	FindAll(ctx context.Context) ([]*RolePermissionMapping, error)
}

// Notifier delivers account emails. Callers log and swallow its errors.
type Notifier interface {
	SendEmailVerification(ctx context.Context, email, username, link string) error
	SendPasswordResetEmail(ctx context.Context, email, username, link string) error
	SendWelcomeEmail(ctx context.Context, email, username string) error
}

// TxRunner runs fn inside a local transaction. The transaction travels in
// the context handed to fn so directory implementations can pick it up.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxRunnerFunc adapts a function to the TxRunner interface.
type TxRunnerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// RunInTx implements TxRunner.
func (f TxRunnerFunc) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func normalizeTxRunner(tx TxRunner) TxRunner {
	if tx == nil {
		return noTx{}
	}
	return tx
}

type noopNotifier struct{}

func (noopNotifier) SendEmailVerification(context.Context, string, string, string) error {
	return nil
}

func (noopNotifier) SendPasswordResetEmail(context.Context, string, string, string) error {
	return nil
}

func (noopNotifier) SendWelcomeEmail(context.Context, string, string) error {
	return nil
}

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
