package auth0

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	identity "github.com/goliatone/go-identity"
	"gopkg.in/go-jose/go-jose.v2/jwt"
)

// TokenValidator validates Auth0-issued JWTs using JWKS.
type TokenValidator struct {
	validator    *validator.Validator
	claimsMapper ClaimsMapper
}

var _ identity.AccessTokenValidator = (*TokenValidator)(nil)

// NewTokenValidator creates a new Auth0 token validator.
func NewTokenValidator(cfg Config) (*TokenValidator, error) {
	issuer := cfg.issuerURL()
	if issuer == "" {
		return nil, fmt.Errorf("auth0: issuer or domain is required")
	}

	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("auth0: invalid issuer URL: %w", err)
	}
	if issuerURL.Scheme == "" || issuerURL.Host == "" {
		return nil, fmt.Errorf("auth0: invalid issuer URL: %s", issuer)
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	var providerOpts []jwks.ProviderOption
	if cfg.HTTPClient != nil {
		providerOpts = append(providerOpts, jwks.WithCustomClient(cfg.HTTPClient))
	}
	provider := jwks.NewCachingProvider(issuerURL, cacheTTL, providerOpts...)

	customClaims := cfg.CustomClaims
	if customClaims == nil {
		customClaims = func() validator.CustomClaims {
			return &Auth0CustomClaims{}
		}
	}

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		cfg.Audience,
		validator.WithCustomClaims(customClaims),
	)
	if err != nil {
		return nil, fmt.Errorf("auth0: failed to create validator: %w", err)
	}

	mapper := cfg.ClaimsMapper
	if mapper == nil {
		mapper = &Auth0ClaimsMapper{}
	}

	return &TokenValidator{
		validator:    jwtValidator,
		claimsMapper: mapper,
	}, nil
}

// Validate implements identity.AccessTokenValidator.
func (v *TokenValidator) Validate(ctx context.Context, tokenString string) (*identity.Principal, error) {
	token, err := v.validator.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, normalizeValidationError(err)
	}

	validatedClaims, ok := token.(*validator.ValidatedClaims)
	if !ok || validatedClaims == nil {
		return nil, identity.ErrTokenMalformed.Clone()
	}

	return v.claimsMapper.Map(ctx, validatedClaims)
}

func normalizeValidationError(err error) error {
	if err == nil {
		return nil
	}

	sentinel := identity.ErrTokenMalformed
	if errors.Is(err, jwt.ErrExpired) {
		sentinel = identity.ErrTokenExpired
	}

	return identity.WithCause(sentinel, err, map[string]any{
		"provider": "auth0",
		"cause":    err.Error(),
	})
}
