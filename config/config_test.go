package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-identity/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaultsWithEnvKey(t *testing.T) {
	t.Setenv("IDENTITY_TOKEN_SIGNING_KEY", validKey)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 24*time.Hour, cfg.GetEmailVerificationTTL())
	assert.Equal(t, time.Hour, cfg.GetPasswordResetTTL())
	assert.Equal(t, "USER", cfg.GetDefaultRole())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "local", cfg.Gateway.Driver)
	assert.Equal(t, 3, cfg.GetPasswordResetBurst())
	assert.Nil(t, cfg.KafkaBrokers())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	content := `
token:
  signing_key: "` + validKey + `"
  email_verification_ttl: 2h
frontend:
  url: https://app.example.com
kafka:
  brokers: "k1:9092, k2:9092,"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("IDENTITY_FRONTEND_URL", "https://override.example.com")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, validKey, cfg.GetSigningKey())
	assert.Equal(t, 2*time.Hour, cfg.GetEmailVerificationTTL())
	assert.Equal(t, "https://override.example.com", cfg.GetFrontendURL())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers())
}

func TestLoadRejectsShortSigningKey(t *testing.T) {
	t.Setenv("IDENTITY_TOKEN_SIGNING_KEY", "too-short")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing_key")
}

func TestValidate(t *testing.T) {
	t.Setenv("IDENTITY_TOKEN_SIGNING_KEY", validKey)
	base, err := config.Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   string
	}{
		{"unknown default role", func(c *config.Config) { c.Registration.DefaultRole = "ROOT" }, "default_role"},
		{"unknown database", func(c *config.Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"unknown cache", func(c *config.Config) { c.Cache.Driver = "memcached" }, "cache.driver"},
		{"keycloak without realm", func(c *config.Config) { c.Gateway.Driver = "keycloak"; c.Keycloak.BaseURL = "http://kc" }, "keycloak"},
		{"auth0 without domain", func(c *config.Config) { c.Gateway.Driver = "auth0" }, "auth0.domain"},
		{"zero burst", func(c *config.Config) { c.PasswordReset.Burst = 0 }, "password_reset"},
		{"zero ttl", func(c *config.Config) { c.Token.PasswordResetTTL = 0 }, "ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
