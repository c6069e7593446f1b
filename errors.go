package identity

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUserNotFound           = "USER_NOT_FOUND"
	TextCodeMappingNotFound        = "PERMISSION_MAPPING_NOT_FOUND"
	TextCodeUserExists             = "USER_ALREADY_EXISTS"
	TextCodeDuplicateMapping       = "DUPLICATE_PERMISSION_MAPPING"
	TextCodeAlreadyActive          = "USER_ALREADY_ACTIVE"
	TextCodeAlreadyInactive        = "USER_ALREADY_INACTIVE"
	TextCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeInvalidOrExpiredToken  = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeTokenPurposeMismatch   = "TOKEN_PURPOSE_MISMATCH"
	TextCodeTokenMalformed         = "TOKEN_MALFORMED"
	TextCodeSelfDeactivation       = "SELF_DEACTIVATION_FORBIDDEN"
	TextCodeForbidden              = "FORBIDDEN"
	TextCodeAccountInactive        = "ACCOUNT_INACTIVE"
	TextCodeUnauthenticated        = "UNAUTHENTICATED"
	TextCodeEmptyRoleSet           = "EMPTY_ROLE_SET"
	TextCodeUnknownRole            = "UNKNOWN_ROLE"
	TextCodeUnknownPermission      = "UNKNOWN_PERMISSION"
	TextCodeUpstreamFailure        = "UPSTREAM_FAILURE"
	TextCodeRateLimited            = "RATE_LIMITED"
	TextCodeInvalidRecipient       = "INVALID_RECIPIENT"
	TextCodeInvalidRequest         = "INVALID_REQUEST"
)

// ErrUserNotFound is returned when no directory or identity record matches.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrMappingNotFound is returned when a permission mapping id is unknown.
var ErrMappingNotFound = goerrors.New("permission mapping not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeMappingNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUserExists is returned when creating a user that already exists.
var ErrUserExists = goerrors.New("user already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeUserExists).
	WithCode(goerrors.CodeConflict)

// ErrDuplicateMapping is returned when the (role, permission) pair is taken.
var ErrDuplicateMapping = goerrors.New("permission mapping already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateMapping).
	WithCode(goerrors.CodeConflict)

var ErrAlreadyActive = goerrors.New("user is already active", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyActive).
	WithCode(goerrors.CodeConflict)

var ErrAlreadyInactive = goerrors.New("user is already inactive", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyInactive).
	WithCode(goerrors.CodeConflict)

// ErrConcurrentModification is returned when a save loses an optimistic lock.
var ErrConcurrentModification = goerrors.New("record was modified concurrently", goerrors.CategoryConflict).
	WithTextCode(TextCodeConcurrentModification).
	WithCode(goerrors.CodeConflict)

var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidOrExpiredToken is the only token failure callers ever see.
var ErrInvalidOrExpiredToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidOrExpiredToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired, ErrTokenPurposeMismatch and ErrTokenMalformed are returned
// by TokenCodec.Verify. Services log them and surface ErrInvalidOrExpiredToken.
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenPurposeMismatch = goerrors.New("token purpose mismatch", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenPurposeMismatch).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

var ErrSelfDeactivationForbidden = goerrors.New("users cannot deactivate their own account", goerrors.CategoryAuthz).
	WithTextCode(TextCodeSelfDeactivation).
	WithCode(goerrors.CodeForbidden)

var ErrForbidden = goerrors.New("access denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrAccountInactive is returned on login and by the bearer middleware for
// accounts pending verification or deactivated.
var ErrAccountInactive = goerrors.New("account is not active", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountInactive).
	WithCode(goerrors.CodeForbidden)

var ErrUnauthenticated = goerrors.New("authentication required", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

var ErrEmptyRoleSet = goerrors.New("role set must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyRoleSet).
	WithCode(goerrors.CodeBadRequest)

var ErrUnknownRole = goerrors.New("unknown role", goerrors.CategoryValidation).
	WithTextCode(TextCodeUnknownRole).
	WithCode(goerrors.CodeBadRequest)

var ErrUnknownPermission = goerrors.New("unknown permission", goerrors.CategoryValidation).
	WithTextCode(TextCodeUnknownPermission).
	WithCode(goerrors.CodeBadRequest)

// ErrUpstreamFailure wraps identity provider and store failures.
var ErrUpstreamFailure = goerrors.New("upstream service failure", goerrors.CategoryInternal).
	WithTextCode(TextCodeUpstreamFailure).
	WithCode(http.StatusBadGateway)

var ErrRateLimited = goerrors.New("too many requests", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

var ErrInvalidRecipient = goerrors.New("invalid email recipient", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRecipient).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRequest carries field errors from request validation.
var ErrInvalidRequest = goerrors.New("invalid request", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRequest).
	WithCode(goerrors.CodeBadRequest)

// WithMeta returns a copy of sentinel carrying metadata. Sentinels are never
// mutated.
func WithMeta(sentinel *goerrors.Error, metadata map[string]any) *goerrors.Error {
	clone := sentinel.Clone()
	if len(metadata) > 0 {
		clone = clone.WithMetadata(metadata)
	}
	return clone
}

// WithCause returns a copy of sentinel wrapping cause.
func WithCause(sentinel *goerrors.Error, cause error, metadata map[string]any) *goerrors.Error {
	clone := WithMeta(sentinel, metadata)
	clone.Source = cause
	return clone
}

// Upstream classifies a collaborator failure. Typed errors pass through.
func Upstream(err error, operation string) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode != "" {
		return err
	}
	return WithCause(ErrUpstreamFailure, err, map[string]any{
		"operation": operation,
	})
}

// HasTextCode walks the error chain looking for a rich error with code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			return false
		}
		if rich.TextCode == code {
			return true
		}
		err = rich.Source
	}
	return false
}

func IsNotFound(err error) bool {
	return HasTextCode(err, TextCodeUserNotFound) || HasTextCode(err, TextCodeMappingNotFound)
}

func IsConflict(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.Category == goerrors.CategoryConflict
}

func IsUpstreamFailure(err error) bool {
	return HasTextCode(err, TextCodeUpstreamFailure)
}

func IsInvalidOrExpiredToken(err error) bool {
	return HasTextCode(err, TextCodeInvalidOrExpiredToken)
}

func IsInvalidCredentials(err error) bool {
	return HasTextCode(err, TextCodeInvalidCredentials)
}

func IsForbidden(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.Category == goerrors.CategoryAuthz
}

func IsEmptyRoleSet(err error) bool {
	return HasTextCode(err, TextCodeEmptyRoleSet)
}

// tokenFailureKind names the internal token failure for logs.
func tokenFailureKind(err error) string {
	switch {
	case HasTextCode(err, TextCodeTokenExpired):
		return "expired"
	case HasTextCode(err, TextCodeTokenPurposeMismatch):
		return "purpose_mismatch"
	case HasTextCode(err, TextCodeTokenMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}
