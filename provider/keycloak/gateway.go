// Package keycloak implements identity.IdentityGateway against the Keycloak
// admin REST API and the realm's OpenID Connect token endpoint.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/oauthclient"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type Config struct {
	BaseURL string
	Realm   string
	// AdminClientID is a confidential client with a service account allowed
	// to manage realm users
	AdminClientID     string
	AdminClientSecret string
	// UserClientID is the client end users log in through, it must allow the
	// password grant
	UserClientID     string
	UserClientSecret string
	HTTPClient       *http.Client
	Logger           identity.Logger
}

func (c Config) realmURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/realms/" + url.PathEscape(c.Realm)
}

func (c Config) adminURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/admin/realms/" + url.PathEscape(c.Realm)
}

type userRepresentation struct {
	ID            string                     `json:"id,omitempty"`
	Username      string                     `json:"username,omitempty"`
	Email         string                     `json:"email,omitempty"`
	FirstName     string                     `json:"firstName,omitempty"`
	LastName      string                     `json:"lastName,omitempty"`
	Enabled       *bool                      `json:"enabled,omitempty"`
	EmailVerified *bool                      `json:"emailVerified,omitempty"`
	Credentials   []credentialRepresentation `json:"credentials,omitempty"`
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// Gateway implements identity.IdentityGateway.
type Gateway struct {
	admin    *http.Client
	adminURL string
	tokens   *oauthclient.Client
	logger   identity.Logger
}

var _ identity.IdentityGateway = (*Gateway)(nil)

func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" || cfg.Realm == "" {
		return nil, fmt.Errorf("keycloak: base url and realm are required")
	}
	if cfg.AdminClientID == "" || cfg.UserClientID == "" {
		return nil, fmt.Errorf("keycloak: admin and user client ids are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = identity.DefaultLogger()
	}

	tokenURL := cfg.realmURL() + "/protocol/openid-connect/token"
	serviceAccount := clientcredentials.Config{
		ClientID:     cfg.AdminClientID,
		ClientSecret: cfg.AdminClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	adminCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &Gateway{
		admin:    serviceAccount.Client(adminCtx),
		adminURL: cfg.adminURL(),
		tokens: oauthclient.New(oauthclient.Config{
			ClientID:     cfg.UserClientID,
			ClientSecret: cfg.UserClientSecret,
			TokenURL:     tokenURL,
			RevokeURL:    cfg.realmURL() + "/protocol/openid-connect/logout",
			RevokeParam:  "refresh_token",
			Scopes:       []string{"openid"},
			HTTPClient:   httpClient,
		}),
		logger: logger,
	}, nil
}

// CreateUser creates a disabled account with an unverified email, ActivateUser
// enables it. The new id is read from the Location header, or looked up by
// username when the header is unusable so the account can still be deleted.
func (g *Gateway) CreateUser(ctx context.Context, req identity.NewIdentity) (uuid.UUID, error) {
	body := userRepresentation{
		Username:      req.Username,
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Enabled:       boolPtr(false),
		EmailVerified: boolPtr(false),
		Credentials: []credentialRepresentation{
			{Type: "password", Value: req.Password, Temporary: false},
		},
	}

	resp, err := g.do(ctx, http.MethodPost, "/users", body, nil)
	if err != nil {
		if identity.IsConflict(err) {
			return uuid.Nil, identity.WithCause(identity.ErrUserExists, err, map[string]any{
				"username": req.Username,
			})
		}
		return uuid.Nil, err
	}

	location := resp.Header.Get("Location")
	if id, err := uuid.Parse(path.Base(location)); err == nil {
		return id, nil
	}

	g.logger.Warn("keycloak: unexpected location %q for %s, looking the user up", location, req.Username)
	id, err := g.findIDByUsername(ctx, req.Username)
	if err != nil {
		return uuid.Nil, fmt.Errorf("keycloak: user %q created but its id is unknown: %w", req.Username, err)
	}
	return id, nil
}

func (g *Gateway) findIDByUsername(ctx context.Context, username string) (uuid.UUID, error) {
	query := url.Values{}
	query.Set("username", username)
	query.Set("exact", "true")

	var users []userRepresentation
	if _, err := g.do(ctx, http.MethodGet, "/users?"+query.Encode(), nil, &users); err != nil {
		return uuid.Nil, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			return uuid.Parse(u.ID)
		}
	}
	return uuid.Nil, identity.WithMeta(identity.ErrUserNotFound, map[string]any{"username": username})
}

// DeleteUser treats a missing account as deleted.
func (g *Gateway) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := g.do(ctx, http.MethodDelete, "/users/"+id.String(), nil, nil)
	if identity.IsNotFound(err) {
		return nil
	}
	return err
}

func (g *Gateway) ActivateUser(ctx context.Context, id uuid.UUID) error {
	_, err := g.do(ctx, http.MethodPut, "/users/"+id.String(), userRepresentation{
		Enabled:       boolPtr(true),
		EmailVerified: boolPtr(true),
	}, nil)
	return err
}

func (g *Gateway) ChangePassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	_, err := g.do(ctx, http.MethodPut, "/users/"+id.String()+"/reset-password", credentialRepresentation{
		Type:      "password",
		Value:     newPassword,
		Temporary: false,
	}, nil)
	return err
}

func (g *Gateway) ChangeEmail(ctx context.Context, id uuid.UUID, newEmail string) error {
	_, err := g.do(ctx, http.MethodPut, "/users/"+id.String(), userRepresentation{
		Email:         newEmail,
		EmailVerified: boolPtr(false),
	}, nil)
	if identity.IsConflict(err) {
		return identity.WithCause(identity.ErrUserExists, err, map[string]any{"email": newEmail})
	}
	return err
}

// VerifyPassword logs in through the user client and revokes the session
// it opened.
func (g *Gateway) VerifyPassword(ctx context.Context, username, password string) error {
	pair, err := g.tokens.Password(ctx, username, password)
	if err != nil {
		return err
	}
	if err := g.tokens.Revoke(ctx, pair.RefreshToken); err != nil {
		g.logger.Warn("keycloak: could not end verification session for %s: %v", username, err)
	}
	return nil
}

func (g *Gateway) GetUsernameByID(ctx context.Context, id uuid.UUID) (string, error) {
	var user userRepresentation
	if _, err := g.do(ctx, http.MethodGet, "/users/"+id.String(), nil, &user); err != nil {
		return "", err
	}
	return user.Username, nil
}

func (g *Gateway) FindUserByEmail(ctx context.Context, email string) (*identity.GatewayUser, error) {
	query := url.Values{}
	query.Set("email", email)
	query.Set("exact", "true")

	var users []userRepresentation
	if _, err := g.do(ctx, http.MethodGet, "/users?"+query.Encode(), nil, &users); err != nil {
		return nil, err
	}

	for _, u := range users {
		if !strings.EqualFold(u.Email, email) {
			continue
		}
		id, err := uuid.Parse(u.ID)
		if err != nil {
			return nil, fmt.Errorf("keycloak: user %q has a non uuid id: %w", u.ID, err)
		}
		return &identity.GatewayUser{
			ID:            id,
			Username:      u.Username,
			Email:         u.Email,
			Enabled:       u.Enabled != nil && *u.Enabled,
			EmailVerified: u.EmailVerified != nil && *u.EmailVerified,
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

func (g *Gateway) do(ctx context.Context, method, endpoint string, in, out any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.adminURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.admin.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp, identity.WithMeta(identity.ErrUserNotFound, map[string]any{"endpoint": endpoint})
	case resp.StatusCode == http.StatusConflict:
		return resp, identity.WithMeta(identity.ErrUserExists, map[string]any{"endpoint": endpoint})
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp, fmt.Errorf("keycloak: %s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("keycloak: decode %s: %w", endpoint, err)
		}
	}
	return resp, nil
}

func boolPtr(b bool) *bool {
	return &b
}
