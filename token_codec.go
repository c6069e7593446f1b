package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// MinSigningKeyBytes is the HS256 key floor (256 bits)
const MinSigningKeyBytes = 32

// TokenCodec signs and verifies stateless verification tokens. Nothing is
// persisted: validity is signature, expiry and purpose.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
	logger     Logger
}

// TokenCodecOption customizes a TokenCodec
type TokenCodecOption func(*TokenCodec)

// WithTokenClock injects the clock used for iat, exp and validation.
func WithTokenClock(now func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

func WithTokenIssuer(issuer string) TokenCodecOption {
	return func(c *TokenCodec) {
		c.issuer = issuer
	}
}

func WithTokenLogger(logger Logger) TokenCodecOption {
	return func(c *TokenCodec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewTokenCodec fails when the key is shorter than 256 bits
func NewTokenCodec(signingKey []byte, opts ...TokenCodecOption) (*TokenCodec, error) {
	if len(signingKey) < MinSigningKeyBytes {
		return nil, goerrors.New("signing key must be at least 256 bits", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"key_bytes": len(signingKey)})
	}

	key := make([]byte, len(signingKey))
	copy(key, signingKey)

	c := &TokenCodec{
		signingKey: key,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Issue signs subject, email and purpose with exp = now + ttl.
func (c *TokenCodec) Issue(subject uuid.UUID, email string, purpose TokenPurpose, ttl time.Duration) (string, error) {
	if !purpose.IsValid() {
		return "", goerrors.New("unknown token purpose", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"purpose": purpose})
	}

	now := c.now()
	claims := &VerificationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:   email,
		Purpose: purpose,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign verification token")
	}
	return signed, nil
}

// Verify returns the subject of a valid token. Failures are
// ErrTokenExpired, ErrTokenPurposeMismatch or ErrTokenMalformed.
func (c *TokenCodec) Verify(token string, expected TokenPurpose) (uuid.UUID, error) {
	claims, err := c.parse(token, true)
	if err != nil {
		return uuid.Nil, err
	}

	if claims.Purpose != expected {
		return uuid.Nil, WithMeta(ErrTokenPurposeMismatch, map[string]any{
			"expected": expected,
			"actual":   claims.Purpose,
		})
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, WithCause(ErrTokenMalformed, err, map[string]any{
			"reason": "subject is not a valid id",
		})
	}
	return subject, nil
}

// ExtractEmail decodes the email claim of a correctly signed token without
// checking expiry or purpose. Never use it for authorization.
func (c *TokenCodec) ExtractEmail(token string) (string, bool) {
	claims, err := c.parse(token, false)
	if err != nil {
		c.logger.Debug("extract email failed: %v", err)
		return "", false
	}
	if claims.Email == "" {
		return "", false
	}
	return claims.Email, true
}

func (c *TokenCodec) parse(token string, validate bool) (*VerificationClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if validate {
		opts = append(opts, jwt.WithExpirationRequired())
		if c.issuer != "" {
			opts = append(opts, jwt.WithIssuer(c.issuer))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &VerificationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.signingKey, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, WithCause(ErrTokenExpired, err, nil)
		}
		return nil, WithCause(ErrTokenMalformed, err, nil)
	}

	if !parsed.Valid {
		return nil, WithMeta(ErrTokenMalformed, map[string]any{"reason": "token not valid"})
	}
	return claims, nil
}
