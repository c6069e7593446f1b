package auth0

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/auth0/go-auth0"
	"github.com/auth0/go-auth0/management"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/oauthclient"
	"github.com/google/uuid"
)

// userIDPrefix is what Auth0 prepends to ids of database connection users.
const userIDPrefix = "auth0|"

// Gateway implements identity.IdentityGateway against an Auth0 tenant.
// Accounts are created with the directory uuid as their user_id so the
// two stay addressable by the same id.
type Gateway struct {
	mgmt       *management.Management
	tokens     *oauthclient.Client
	connection string
	logger     identity.Logger
}

var _ identity.IdentityGateway = (*Gateway)(nil)

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	base := tenantURL(cfg.Domain)
	if base == "" {
		return nil, fmt.Errorf("auth0: domain is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("auth0: client id is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	opts := []management.Option{
		management.WithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret),
		management.WithClient(httpClient),
	}
	opts = append(opts, cfg.ManagementOptions...)

	mgmt, err := management.New(strings.TrimSuffix(base, "/"), opts...)
	if err != nil {
		return nil, fmt.Errorf("auth0: failed to create management client: %w", err)
	}

	connection := cfg.Connection
	if connection == "" {
		connection = defaultConnection
	}
	logger := cfg.Logger
	if logger == nil {
		logger = identity.DefaultLogger()
	}

	return &Gateway{
		mgmt: mgmt,
		tokens: oauthclient.New(oauthclient.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     base + "oauth/token",
			RevokeURL:    base + "oauth/revoke",
			Scopes:       []string{"openid", "offline_access"},
			HTTPClient:   httpClient,
		}),
		connection: connection,
		logger:     logger,
	}, nil
}

// CreateUser creates a blocked account with a fresh uuid and an unverified
// email. ActivateUser unblocks it.
func (g *Gateway) CreateUser(ctx context.Context, req identity.NewIdentity) (uuid.UUID, error) {
	id := uuid.New()
	user := &management.User{
		ID:            auth0.String(id.String()),
		Connection:    auth0.String(g.connection),
		Username:      auth0.String(req.Username),
		Email:         auth0.String(req.Email),
		Password:      auth0.String(req.Password),
		EmailVerified: auth0.Bool(false),
		VerifyEmail:   auth0.Bool(false),
		Blocked:       auth0.Bool(true),
	}
	if req.FirstName != "" {
		user.GivenName = auth0.String(req.FirstName)
	}
	if req.LastName != "" {
		user.FamilyName = auth0.String(req.LastName)
	}

	if err := g.mgmt.User.Create(ctx, user); err != nil {
		if statusOf(err) == http.StatusConflict {
			return uuid.Nil, identity.WithCause(identity.ErrUserExists, err, map[string]any{
				"username": req.Username,
				"email":    req.Email,
			})
		}
		return uuid.Nil, mapError(err, "create user")
	}

	if got := LocalID(user.GetID()); got != "" && got != id.String() {
		parsed, err := uuid.Parse(got)
		if err != nil {
			return uuid.Nil, fmt.Errorf("auth0: user %q has a non uuid id: %w", user.GetID(), err)
		}
		return parsed, nil
	}
	return id, nil
}

// DeleteUser treats a missing account as deleted.
func (g *Gateway) DeleteUser(ctx context.Context, id uuid.UUID) error {
	err := g.mgmt.User.Delete(ctx, userID(id))
	if statusOf(err) == http.StatusNotFound {
		return nil
	}
	return mapError(err, "delete user")
}

func (g *Gateway) ActivateUser(ctx context.Context, id uuid.UUID) error {
	return mapError(g.mgmt.User.Update(ctx, userID(id), &management.User{
		EmailVerified: auth0.Bool(true),
		Blocked:       auth0.Bool(false),
	}), "activate user")
}

func (g *Gateway) ChangePassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	return mapError(g.mgmt.User.Update(ctx, userID(id), &management.User{
		Connection: auth0.String(g.connection),
		Password:   auth0.String(newPassword),
	}), "change password")
}

func (g *Gateway) ChangeEmail(ctx context.Context, id uuid.UUID, newEmail string) error {
	err := g.mgmt.User.Update(ctx, userID(id), &management.User{
		Connection:    auth0.String(g.connection),
		Email:         auth0.String(newEmail),
		EmailVerified: auth0.Bool(false),
	})
	if statusOf(err) == http.StatusConflict {
		return identity.WithCause(identity.ErrUserExists, err, map[string]any{"email": newEmail})
	}
	return mapError(err, "change email")
}

// VerifyPassword runs a password grant and revokes the refresh token it got.
func (g *Gateway) VerifyPassword(ctx context.Context, username, password string) error {
	pair, err := g.tokens.Password(ctx, username, password)
	if err != nil {
		return err
	}
	if err := g.tokens.Revoke(ctx, pair.RefreshToken); err != nil {
		g.logger.Warn("auth0: could not revoke verification token for %s: %v", username, err)
	}
	return nil
}

func (g *Gateway) GetUsernameByID(ctx context.Context, id uuid.UUID) (string, error) {
	user, err := g.mgmt.User.Read(ctx, userID(id))
	if err != nil {
		return "", mapError(err, "read user")
	}
	if name := user.GetUsername(); name != "" {
		return name, nil
	}
	return user.GetEmail(), nil
}

func (g *Gateway) FindUserByEmail(ctx context.Context, email string) (*identity.GatewayUser, error) {
	users, err := g.mgmt.User.ListByEmail(ctx, email)
	if err != nil {
		return nil, mapError(err, "list users by email")
	}

	for _, u := range users {
		if !strings.EqualFold(u.GetEmail(), email) {
			continue
		}
		if !strings.HasPrefix(u.GetID(), userIDPrefix) {
			// social and enterprise identities are not managed here
			continue
		}
		id, err := uuid.Parse(LocalID(u.GetID()))
		if err != nil {
			return nil, fmt.Errorf("auth0: user %q has a non uuid id: %w", u.GetID(), err)
		}
		return &identity.GatewayUser{
			ID:            id,
			Username:      u.GetUsername(),
			Email:         u.GetEmail(),
			Enabled:       !u.GetBlocked(),
			EmailVerified: u.GetEmailVerified(),
		}, nil
	}
	return nil, identity.WithMeta(identity.ErrUserNotFound, map[string]any{"email": email})
}

func (g *Gateway) IssueTokens(ctx context.Context, username, password string) (*identity.TokenPair, error) {
	return g.tokens.Password(ctx, username, password)
}

func (g *Gateway) RefreshTokens(ctx context.Context, refreshToken string) (*identity.TokenPair, error) {
	return g.tokens.Refresh(ctx, refreshToken)
}

func (g *Gateway) RevokeTokens(ctx context.Context, refreshToken string) error {
	return g.tokens.Revoke(ctx, refreshToken)
}

func userID(id uuid.UUID) string {
	return userIDPrefix + id.String()
}

func statusOf(err error) int {
	var mErr management.Error
	if errors.As(err, &mErr) {
		return mErr.Status()
	}
	return 0
}

func mapError(err error, operation string) error {
	if err == nil {
		return nil
	}
	switch statusOf(err) {
	case http.StatusNotFound:
		return identity.WithCause(identity.ErrUserNotFound, err, map[string]any{"operation": operation})
	case http.StatusConflict:
		return identity.WithCause(identity.ErrUserExists, err, map[string]any{"operation": operation})
	}
	return fmt.Errorf("auth0: %s: %w", operation, err)
}
