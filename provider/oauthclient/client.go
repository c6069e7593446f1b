// Package oauthclient talks to an OAuth2 token endpoint on behalf of the
// remote identity gateways: password grant, refresh and revocation.
package oauthclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	identity "github.com/goliatone/go-identity"
	"golang.org/x/oauth2"
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	// RevokeURL receives a form post with the refresh token
	RevokeURL string
	// RevokeParam names the form field holding the token, defaults to "token"
	RevokeParam string
	Scopes      []string
	HTTPClient  *http.Client
}

type Client struct {
	oauth       oauth2.Config
	revokeURL   string
	revokeParam string
	httpClient  *http.Client
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	param := cfg.RevokeParam
	if param == "" {
		param = "token"
	}
	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		revokeURL:   cfg.RevokeURL,
		revokeParam: param,
		httpClient:  httpClient,
	}
}

// Password runs the resource owner password grant. Rejected credentials map
// to identity.ErrInvalidCredentials, disabled or blocked accounts to
// identity.ErrAccountInactive.
func (c *Client) Password(ctx context.Context, username, password string) (*identity.TokenPair, error) {
	token, err := c.oauth.PasswordCredentialsToken(c.context(ctx), username, password)
	if err != nil {
		if disabled(err) {
			return nil, identity.WithCause(identity.ErrAccountInactive, err, nil)
		}
		if rejected(err) {
			return nil, identity.WithCause(identity.ErrInvalidCredentials, err, nil)
		}
		return nil, err
	}
	return toPair(token), nil
}

// Refresh exchanges a refresh token. Rejected tokens map to
// identity.ErrInvalidOrExpiredToken.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*identity.TokenPair, error) {
	source := c.oauth.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		if rejected(err) {
			return nil, identity.WithCause(identity.ErrInvalidOrExpiredToken, err, nil)
		}
		return nil, err
	}
	return toPair(token), nil
}

func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	if c.revokeURL == "" {
		return nil
	}

	form := url.Values{}
	form.Set("client_id", c.oauth.ClientID)
	if c.oauth.ClientSecret != "" {
		form.Set("client_secret", c.oauth.ClientSecret)
	}
	form.Set(c.revokeParam, refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("revoke token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client", "access_denied":
		return true
	}
	return re.Response != nil && (re.Response.StatusCode == http.StatusUnauthorized || re.Response.StatusCode == http.StatusForbidden)
}

// disabledMarkers are matched against error_description. Keycloak answers
// "Account disabled" or "Account is not fully set up", Auth0 "user is blocked".
var disabledMarkers = []string{"disabled", "blocked", "not fully set up"}

func disabled(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	desc := strings.ToLower(re.ErrorDescription)
	for _, marker := range disabledMarkers {
		if strings.Contains(desc, marker) {
			return true
		}
	}
	return false
}

func toPair(token *oauth2.Token) *identity.TokenPair {
	pair := &identity.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
	}
	if pair.ExpiresIn == 0 && !token.Expiry.IsZero() {
		pair.ExpiresIn = int64(time.Until(token.Expiry).Round(time.Second) / time.Second)
	}
	if raw, ok := token.Extra("refresh_expires_in").(float64); ok {
		pair.RefreshExpiresIn = int64(raw)
	}
	return pair
}
