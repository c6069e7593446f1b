// Package local is an in-process identity provider for development and
// tests. Accounts live in memory, passwords are bcrypt hashed and access
// tokens are HS256 JWTs.
package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// RoleSource resolves the roles stamped on access tokens.
type RoleSource func(ctx context.Context, id uuid.UUID) ([]string, error)

// AccessClaims are the claims carried by local access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Roles             []string `json:"roles"`
}

type account struct {
	id            uuid.UUID
	username      string
	email         string
	firstName     string
	lastName      string
	passwordHash  []byte
	enabled       bool
	emailVerified bool
}

type refreshSession struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// Gateway implements identity.IdentityGateway in memory.
type Gateway struct {
	mu         sync.RWMutex
	accounts   map[uuid.UUID]*account
	byUsername map[string]uuid.UUID
	byEmail    map[string]uuid.UUID
	sessions   map[string]refreshSession

	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	cost       int
	now        func() time.Time
	roles      RoleSource
	logger     identity.Logger
}

var (
	_ identity.IdentityGateway      = (*Gateway)(nil)
	_ identity.AccessTokenValidator = (*Gateway)(nil)
)

type Option func(*Gateway)

func WithIssuer(issuer string) Option {
	return func(g *Gateway) {
		if issuer != "" {
			g.issuer = issuer
		}
	}
}

func WithTokenTTLs(access, refresh time.Duration) Option {
	return func(g *Gateway) {
		if access > 0 {
			g.accessTTL = access
		}
		if refresh > 0 {
			g.refreshTTL = refresh
		}
	}
}

// WithBcryptCost sets the hashing cost, tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(g *Gateway) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			g.cost = cost
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

func WithRoleSource(src RoleSource) Option {
	return func(g *Gateway) {
		g.roles = src
	}
}

func WithLogger(logger identity.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a gateway signing access tokens with signingKey.
func New(signingKey []byte, opts ...Option) (*Gateway, error) {
	if len(signingKey) < identity.MinSigningKeyBytes {
		return nil, identity.WithMeta(identity.ErrInvalidRequest, map[string]any{
			"reason": "local gateway signing key too short",
		})
	}

	g := &Gateway{
		accounts:   make(map[uuid.UUID]*account),
		byUsername: make(map[string]uuid.UUID),
		byEmail:    make(map[string]uuid.UUID),
		sessions:   make(map[string]refreshSession),
		signingKey: append([]byte(nil), signingKey...),
		issuer:     "go-identity-local",
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
		logger:     identity.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CreateUser stores a disabled account with an unverified email, ActivateUser
// enables it. The id is derived from the email so re-registering the same
// address is stable.
func (g *Gateway) CreateUser(ctx context.Context, req identity.NewIdentity) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if key(req.Username) == "" || key(req.Email) == "" || req.Password == "" {
		return uuid.Nil, identity.WithMeta(identity.ErrInvalidRequest, map[string]any{
			"reason": "username, email and password are required",
		})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), g.cost)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := hashid.NewUUID(key(req.Email))
	if err != nil {
		id = uuid.New()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, taken := g.byUsername[key(req.Username)]; taken {
		return uuid.Nil, identity.WithMeta(identity.ErrUserExists, map[string]any{"username": req.Username})
	}
	if _, taken := g.byEmail[key(req.Email)]; taken {
		return uuid.Nil, identity.WithMeta(identity.ErrUserExists, map[string]any{"email": req.Email})
	}
	if _, taken := g.accounts[id]; taken {
		id = uuid.New()
	}

	g.accounts[id] = &account{
		id:           id,
		username:     strings.TrimSpace(req.Username),
		email:        strings.TrimSpace(req.Email),
		firstName:    req.FirstName,
		lastName:     req.LastName,
		passwordHash: hash,
	}
	g.byUsername[key(req.Username)] = id
	g.byEmail[key(req.Email)] = id

	g.logger.Debug("local gateway created account %s (%s)", id, req.Username)
	return id, nil
}

// DeleteUser is idempotent.
func (g *Gateway) DeleteUser(_ context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	acc, ok := g.accounts[id]
	if !ok {
		return nil
	}
	delete(g.byUsername, key(acc.username))
	delete(g.byEmail, key(acc.email))
	delete(g.accounts, id)
	g.dropSessionsLocked(id)
	return nil
}

func (g *Gateway) ActivateUser(_ context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	acc, err := g.findLocked(id)
	if err != nil {
		return err
	}
	acc.enabled = true
	acc.emailVerified = true
	return nil
}

// ChangePassword also ends every refresh session of the account.
func (g *Gateway) ChangePassword(_ context.Context, id uuid.UUID, newPassword string) error {
	if newPassword == "" {
		return identity.WithMeta(identity.ErrInvalidRequest, map[string]any{"reason": "password is required"})
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), g.cost)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	acc, err := g.findLocked(id)
	if err != nil {
		return err
	}
	acc.passwordHash = hash
	g.dropSessionsLocked(id)
	return nil
}

func (g *Gateway) ChangeEmail(_ context.Context, id uuid.UUID, newEmail string) error {
	if key(newEmail) == "" {
		return identity.WithMeta(identity.ErrInvalidRequest, map[string]any{"reason": "email is required"})
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	acc, err := g.findLocked(id)
	if err != nil {
		return err
	}
	if owner, taken := g.byEmail[key(newEmail)]; taken && owner != id {
		return identity.WithMeta(identity.ErrUserExists, map[string]any{"email": newEmail})
	}

	delete(g.byEmail, key(acc.email))
	acc.email = strings.TrimSpace(newEmail)
	acc.emailVerified = false
	g.byEmail[key(newEmail)] = id
	return nil
}

// VerifyPassword accepts the username or the email as login.
func (g *Gateway) VerifyPassword(_ context.Context, username, password string) error {
	_, err := g.authenticate(username, password)
	return err
}

func (g *Gateway) GetUsernameByID(_ context.Context, id uuid.UUID) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	acc, err := g.findLocked(id)
	if err != nil {
		return "", err
	}
	return acc.username, nil
}

func (g *Gateway) FindUserByEmail(_ context.Context, email string) (*identity.GatewayUser, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.byEmail[key(email)]
	if !ok {
		return nil, identity.WithMeta(identity.ErrUserNotFound, map[string]any{"email": email})
	}
	acc := g.accounts[id]
	return &identity.GatewayUser{
		ID:            acc.id,
		Username:      acc.username,
		Email:         acc.email,
		Enabled:       acc.enabled,
		EmailVerified: acc.emailVerified,
	}, nil
}

func (g *Gateway) IssueTokens(ctx context.Context, username, password string) (*identity.TokenPair, error) {
	acc, err := g.authenticate(username, password)
	if err != nil {
		return nil, err
	}
	return g.issue(ctx, acc)
}

// RefreshTokens rotates the refresh token.
func (g *Gateway) RefreshTokens(ctx context.Context, refreshToken string) (*identity.TokenPair, error) {
	g.mu.Lock()
	session, ok := g.sessions[refreshToken]
	if ok {
		delete(g.sessions, refreshToken)
	}
	var acc account
	if ok {
		if current, exists := g.accounts[session.userID]; exists {
			acc = *current
		} else {
			ok = false
		}
	}
	g.mu.Unlock()

	if !ok || !g.now().Before(session.expiresAt) {
		return nil, identity.ErrInvalidOrExpiredToken.Clone()
	}
	return g.issue(ctx, &acc)
}

// RevokeTokens never fails for unknown tokens.
func (g *Gateway) RevokeTokens(_ context.Context, refreshToken string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, refreshToken)
	return nil
}

// ParseAccessToken validates a token minted by this gateway.
func (g *Gateway) ParseAccessToken(token string) (*AccessClaims, error) {
	claims, err := g.parse(token)
	if err != nil {
		return nil, identity.WithCause(identity.ErrInvalidOrExpiredToken, err, nil)
	}
	return claims, nil
}

// Validate implements identity.AccessTokenValidator for tokens minted here.
func (g *Gateway) Validate(ctx context.Context, token string) (*identity.Principal, error) {
	claims, err := g.parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, identity.WithCause(identity.ErrTokenExpired, err, map[string]any{"provider": "local"})
		}
		return nil, identity.WithCause(identity.ErrTokenMalformed, err, map[string]any{"provider": "local"})
	}
	return identity.NewPrincipal(claims.Subject, claims.PreferredUsername, claims.Email, claims.Roles), nil
}

// SigningKey returns the key access tokens are signed with.
func (g *Gateway) SigningKey() []byte {
	return append([]byte(nil), g.signingKey...)
}

func (g *Gateway) parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return g.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (g *Gateway) authenticate(login, password string) (*account, error) {
	g.mu.RLock()
	id, ok := g.byUsername[key(login)]
	if !ok {
		id, ok = g.byEmail[key(login)]
	}
	var acc account
	if ok {
		acc = *g.accounts[id]
	}
	g.mu.RUnlock()

	if !ok {
		return nil, identity.ErrInvalidCredentials.Clone()
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return nil, identity.ErrInvalidCredentials.Clone()
	}
	if !acc.enabled {
		return nil, identity.WithMeta(identity.ErrAccountInactive, map[string]any{"user_id": acc.id.String()})
	}
	return &acc, nil
}

func (g *Gateway) issue(ctx context.Context, acc *account) (*identity.TokenPair, error) {
	var roles []string
	if g.roles != nil {
		r, err := g.roles(ctx, acc.id)
		if err != nil {
			g.logger.Warn("local gateway could not resolve roles for %s: %v", acc.id, err)
		}
		roles = r
	}

	now := g.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   acc.id.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.accessTTL)),
		},
		PreferredUsername: acc.username,
		Email:             acc.email,
		Roles:             roles,
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.signingKey)
	if err != nil {
		return nil, err
	}

	refresh := uuid.NewString()
	g.mu.Lock()
	g.sessions[refresh] = refreshSession{userID: acc.id, expiresAt: now.Add(g.refreshTTL)}
	g.mu.Unlock()

	return &identity.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(g.accessTTL / time.Second),
		RefreshExpiresIn: int64(g.refreshTTL / time.Second),
	}, nil
}

func (g *Gateway) findLocked(id uuid.UUID) (*account, error) {
	acc, ok := g.accounts[id]
	if !ok {
		return nil, identity.WithMeta(identity.ErrUserNotFound, map[string]any{"user_id": id.String()})
	}
	return acc, nil
}

func (g *Gateway) dropSessionsLocked(id uuid.UUID) {
	for token, session := range g.sessions {
		if session.userID == id {
			delete(g.sessions, token)
		}
	}
}
