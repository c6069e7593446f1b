package identity

import "context"

// AccessTokenValidator turns a bearer token into the calling principal.
// Gateways that mint their own access tokens provide one, and so do the
// JWKS backed validators used in front of remote providers.
type AccessTokenValidator interface {
	Validate(ctx context.Context, token string) (*Principal, error)
}

// AccessTokenValidatorFunc adapts a function into an AccessTokenValidator.
type AccessTokenValidatorFunc func(ctx context.Context, token string) (*Principal, error)

// Validate satisfies the AccessTokenValidator interface.
func (f AccessTokenValidatorFunc) Validate(ctx context.Context, token string) (*Principal, error) {
	if f == nil {
		return nil, ErrTokenMalformed
	}
	return f(ctx, token)
}

// MultiTokenValidator tries validators in order until one succeeds.
// ErrTokenMalformed means "try next", the last malformed error is returned
// when every validator rejects the token.
type MultiTokenValidator struct {
	validators []AccessTokenValidator
}

// NewMultiTokenValidator filters nil validators and returns a composite validator.
func NewMultiTokenValidator(validators ...AccessTokenValidator) *MultiTokenValidator {
	filtered := make([]AccessTokenValidator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiTokenValidator{validators: filtered}
}

// Validate satisfies the AccessTokenValidator interface.
func (m *MultiTokenValidator) Validate(ctx context.Context, token string) (*Principal, error) {
	var lastErr error
	for _, v := range m.validators {
		principal, err := v.Validate(ctx, token)
		if err == nil {
			return principal, nil
		}
		if HasTextCode(err, TextCodeTokenMalformed) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrTokenMalformed
}
