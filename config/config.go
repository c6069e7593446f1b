// Package config loads identity settings from an optional config file and
// IDENTITY_ prefixed environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/spf13/viper"
)

const envPrefix = "IDENTITY"

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Token struct {
	SigningKey           string        `mapstructure:"signing_key"`
	Issuer               string        `mapstructure:"issuer"`
	EmailVerificationTTL time.Duration `mapstructure:"email_verification_ttl"`
	PasswordResetTTL     time.Duration `mapstructure:"password_reset_ttl"`
	LocalAccessTokenTTL  time.Duration `mapstructure:"local_access_ttl"`
	LocalRefreshTokenTTL time.Duration `mapstructure:"local_refresh_ttl"`
}

type Frontend struct {
	URL string `mapstructure:"url"`
}

type Registration struct {
	DefaultRole string `mapstructure:"default_role"`
}

type PasswordReset struct {
	RatePerMinute float64 `mapstructure:"rate_per_minute"`
	Burst         int     `mapstructure:"burst"`
}

type Database struct {
	// Driver is one of sqlite, postgres or mongo
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	MongoDB string `mapstructure:"mongo_db"`
}

type Cache struct {
	// Driver is memory or redis
	Driver   string `mapstructure:"driver"`
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"`
}

type Gateway struct {
	// Driver is local, keycloak or auth0
	Driver string `mapstructure:"driver"`
}

type Keycloak struct {
	BaseURL           string `mapstructure:"base_url"`
	Realm             string `mapstructure:"realm"`
	AdminClientID     string `mapstructure:"admin_client_id"`
	AdminClientSecret string `mapstructure:"admin_client_secret"`
	UserClientID      string `mapstructure:"user_client_id"`
	UserClientSecret  string `mapstructure:"user_client_secret"`
}

type Auth0 struct {
	Domain       string `mapstructure:"domain"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Audience     string `mapstructure:"audience"`
	Connection   string `mapstructure:"connection"`
}

type Kafka struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

type Mail struct {
	From string `mapstructure:"from"`
}

type JWT struct {
	JWKSURLs string `mapstructure:"jwks_urls"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the full process configuration. It implements identity.Config.
type Config struct {
	HTTP          HTTP          `mapstructure:"http"`
	Token         Token         `mapstructure:"token"`
	Frontend      Frontend      `mapstructure:"frontend"`
	Registration  Registration  `mapstructure:"registration"`
	PasswordReset PasswordReset `mapstructure:"password_reset"`
	Database      Database      `mapstructure:"database"`
	Cache         Cache         `mapstructure:"cache"`
	Gateway       Gateway       `mapstructure:"gateway"`
	Keycloak      Keycloak      `mapstructure:"keycloak"`
	Auth0         Auth0         `mapstructure:"auth0"`
	Kafka         Kafka         `mapstructure:"kafka"`
	Mail          Mail          `mapstructure:"mail"`
	JWT           JWT           `mapstructure:"jwt"`
	Log           Log           `mapstructure:"log"`
}

var _ identity.Config = (*Config)(nil)

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("token.signing_key", "")
	v.SetDefault("token.issuer", "go-identity")
	v.SetDefault("token.email_verification_ttl", 24*time.Hour)
	v.SetDefault("token.password_reset_ttl", time.Hour)
	v.SetDefault("token.local_access_ttl", 15*time.Minute)
	v.SetDefault("token.local_refresh_ttl", 7*24*time.Hour)
	v.SetDefault("frontend.url", "http://localhost:3000")
	v.SetDefault("registration.default_role", string(identity.RoleUser))
	v.SetDefault("password_reset.rate_per_minute", 3.0)
	v.SetDefault("password_reset.burst", 3)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:identity.db")
	v.SetDefault("database.mongo_db", "identity")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.prefix", "identity")
	v.SetDefault("gateway.driver", "local")
	v.SetDefault("keycloak.base_url", "")
	v.SetDefault("keycloak.realm", "")
	v.SetDefault("keycloak.admin_client_id", "")
	v.SetDefault("keycloak.admin_client_secret", "")
	v.SetDefault("keycloak.user_client_id", "")
	v.SetDefault("keycloak.user_client_secret", "")
	v.SetDefault("auth0.domain", "")
	v.SetDefault("auth0.client_id", "")
	v.SetDefault("auth0.client_secret", "")
	v.SetDefault("auth0.audience", "")
	v.SetDefault("auth0.connection", "Username-Password-Authentication")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "identity-events")
	v.SetDefault("mail.from", "no-reply@localhost")
	v.SetDefault("jwt.jwks_urls", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the optional file at path (any format viper understands, an
// empty path skips it), overlays IDENTITY_ environment variables and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the services cannot start without.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr must be set")
	}

	if len(c.Token.SigningKey) < identity.MinSigningKeyBytes {
		return fmt.Errorf("config: token.signing_key must be at least %d bytes", identity.MinSigningKeyBytes)
	}

	if c.Token.EmailVerificationTTL <= 0 || c.Token.PasswordResetTTL <= 0 {
		return errors.New("config: token ttls must be positive")
	}

	if _, err := identity.ParseRole(c.Registration.DefaultRole); err != nil {
		return fmt.Errorf("config: registration.default_role: %w", err)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "mongo":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}

	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unsupported cache.driver %q", c.Cache.Driver)
	}

	switch c.Gateway.Driver {
	case "local":
	case "keycloak":
		if c.Keycloak.BaseURL == "" || c.Keycloak.Realm == "" {
			return errors.New("config: keycloak.base_url and keycloak.realm must be set")
		}
	case "auth0":
		if c.Auth0.Domain == "" {
			return errors.New("config: auth0.domain must be set")
		}
	default:
		return fmt.Errorf("config: unsupported gateway.driver %q", c.Gateway.Driver)
	}

	if c.PasswordReset.RatePerMinute <= 0 || c.PasswordReset.Burst <= 0 {
		return errors.New("config: password_reset rate and burst must be positive")
	}
	return nil
}

func (c *Config) GetSigningKey() string {
	return c.Token.SigningKey
}

func (c *Config) GetEmailVerificationTTL() time.Duration {
	return c.Token.EmailVerificationTTL
}

func (c *Config) GetPasswordResetTTL() time.Duration {
	return c.Token.PasswordResetTTL
}

func (c *Config) GetFrontendURL() string {
	return c.Frontend.URL
}

func (c *Config) GetDefaultRole() string {
	return c.Registration.DefaultRole
}

func (c *Config) GetPasswordResetRatePerMinute() float64 {
	return c.PasswordReset.RatePerMinute
}

func (c *Config) GetPasswordResetBurst() int {
	return c.PasswordReset.Burst
}

// KafkaBrokers splits the comma separated broker list.
func (c *Config) KafkaBrokers() []string {
	return splitList(c.Kafka.Brokers)
}

// JWKSURLs splits the comma separated JWKS endpoint list.
func (c *Config) JWKSURLs() []string {
	return splitList(c.JWT.JWKSURLs)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
