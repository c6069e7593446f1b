package jwtware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	identity "github.com/goliatone/go-identity"
)

type SigningKey struct {
	JWTAlg string
	Key    any
}

// KeyConfig describes where verification keys come from. At least one of
// KeyFunc, JWKSetURLs, SigningKeys or SigningKey is required.
type KeyConfig struct {
	SigningKey  SigningKey
	SigningKeys map[string]SigningKey
	KeyFunc     jwt.Keyfunc
	JWKSetURLs  []string

	// Issuer and Audience are checked when set
	Issuer   string
	Audience string

	// RefreshErrorHandler receives background JWKS refresh failures
	RefreshErrorHandler func(err error)
}

// Claims covers the claim layouts of the local gateway and Keycloak
// (realm_access.roles).
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Roles             []string `json:"roles"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Principal maps the claims to the calling principal.
func (c *Claims) Principal() *identity.Principal {
	name := c.PreferredUsername
	if name == "" {
		name = c.Subject
	}
	roles := append(append([]string(nil), c.Roles...), c.RealmAccess.Roles...)
	return identity.NewPrincipal(c.Subject, name, c.Email, roles)
}

// KeyfuncValidator validates JWTs against static keys or remote JWK sets.
type KeyfuncValidator struct {
	keyFunc jwt.Keyfunc
	parser  *jwt.Parser
}

var _ identity.AccessTokenValidator = (*KeyfuncValidator)(nil)

// NewValidator builds a KeyfuncValidator. JWK sets are fetched once here
// and refreshed in the background afterwards.
func NewValidator(cfg KeyConfig) (*KeyfuncValidator, error) {
	if cfg.SigningKey.Key == nil && len(cfg.SigningKeys) == 0 && len(cfg.JWKSetURLs) == 0 && cfg.KeyFunc == nil {
		return nil, errors.New("jwtware: at least one of KeyFunc, JWKSetURLs, SigningKeys or SigningKey is required")
	}

	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		if len(cfg.SigningKeys) > 0 || len(cfg.JWKSetURLs) > 0 {
			var givenKeys map[string]keyfunc.GivenKey
			if cfg.SigningKeys != nil {
				givenKeys = make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
				for kid, key := range cfg.SigningKeys {
					givenKeys[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
						Algorithm: key.JWTAlg,
					})
				}
			}
			if len(cfg.JWKSetURLs) > 0 {
				var err error
				keyFunc, err = multiKeyfunc(givenKeys, cfg.JWKSetURLs, cfg.RefreshErrorHandler)
				if err != nil {
					return nil, err
				}
			} else {
				keyFunc = keyfunc.NewGiven(givenKeys).Keyfunc
			}
		} else {
			keyFunc = signingKeyFunc(cfg.SigningKey)
		}
	}

	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.SigningKey.JWTAlg != "" && len(cfg.SigningKeys) == 0 && len(cfg.JWKSetURLs) == 0 {
		opts = append(opts, jwt.WithValidMethods([]string{cfg.SigningKey.JWTAlg}))
	}

	return &KeyfuncValidator{
		keyFunc: keyFunc,
		parser:  jwt.NewParser(opts...),
	}, nil
}

// Validate implements identity.AccessTokenValidator.
func (v *KeyfuncValidator) Validate(_ context.Context, token string) (*identity.Principal, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, identity.WithCause(identity.ErrTokenExpired, err, map[string]any{"provider": "jwks"})
		}
		return nil, identity.WithCause(identity.ErrTokenMalformed, err, map[string]any{"provider": "jwks"})
	}
	if claims.Subject == "" {
		return nil, identity.WithMeta(identity.ErrTokenMalformed, map[string]any{
			"provider": "jwks",
			"reason":   "missing subject",
		})
	}
	return claims.Principal(), nil
}

func multiKeyfunc(givenKeys map[string]keyfunc.GivenKey, jwtSetUrls []string, onRefreshErr func(error)) (jwt.Keyfunc, error) {
	opts := keyfuncOptions(givenKeys, onRefreshErr)
	m := make(map[string]keyfunc.Options, len(jwtSetUrls))
	for _, url := range jwtSetUrls {
		m[url] = opts
	}
	mopts := keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	}
	multi, err := keyfunc.GetMultiple(m, mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWT URLs: %w", err)
	}
	return multi.Keyfunc, nil
}

func keyfuncOptions(givenKeys map[string]keyfunc.GivenKey, onRefreshErr func(error)) keyfunc.Options {
	if onRefreshErr == nil {
		logger := identity.DefaultLogger()
		onRefreshErr = func(err error) {
			logger.Warn("failed to do a background refresh of JWT set: %s", err)
		}
	}
	return keyfunc.Options{
		GivenKeys:           givenKeys,
		RefreshErrorHandler: onRefreshErr,
		RefreshInterval:     time.Hour,
		RefreshRateLimit:    time.Minute * 5,
		RefreshTimeout:      time.Second * 10,
		RefreshUnknownKID:   true,
	}
}

func signingKeyFunc(key SigningKey) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if key.JWTAlg != "" {
			alg, ok := token.Header["alg"].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected JWT signing method: expected %q got: missing json type", key.JWTAlg)
			}
			if alg != key.JWTAlg {
				return nil, fmt.Errorf("unexpected jwt signing method: expected: %q: got: %q", key.JWTAlg, alg)
			}
		}
		return key.Key, nil
	}
}
