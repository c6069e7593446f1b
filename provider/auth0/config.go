package auth0

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/auth0/go-auth0/management"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	identity "github.com/goliatone/go-identity"
)

// Config holds Auth0 configuration for token validation.
type Config struct {
	// Domain is the Auth0 tenant domain (e.g., "example.us.auth0.com").
	Domain string

	// Audience is the API identifier(s) to validate against.
	Audience []string

	// Issuer overrides the default issuer URL (optional).
	// Default: "https://{Domain}/".
	Issuer string

	// CacheTTL is how long to cache JWKS keys.
	// Default: 5 minutes.
	CacheTTL time.Duration

	// ClaimsMapper customizes claim mapping (optional).
	ClaimsMapper ClaimsMapper

	// CustomClaims defines custom claim types to extract.
	CustomClaims func() validator.CustomClaims

	// HTTPClient is used to fetch the JWKS.
	HTTPClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(domain string, audience []string) Config {
	return Config{
		Domain:   domain,
		Audience: audience,
		CacheTTL: 5 * time.Minute,
	}
}

func (c Config) issuerURL() string {
	if c.Issuer != "" {
		return normalizeIssuer(c.Issuer)
	}
	return tenantURL(c.Domain)
}

// GatewayConfig configures the Auth0 identity gateway.
type GatewayConfig struct {
	// Domain is the tenant domain, a full URL is accepted too.
	Domain string

	// ClientID and ClientSecret belong to an application authorized for the
	// Management API with the password grant enabled.
	ClientID     string
	ClientSecret string

	// Connection is the database connection users are created in.
	// Default: "Username-Password-Authentication".
	Connection string

	HTTPClient *http.Client
	Logger     identity.Logger

	// ManagementOptions are appended to the management client options.
	ManagementOptions []management.Option

	// Context is used for the client credentials exchange.
	Context context.Context
}

const defaultConnection = "Username-Password-Authentication"

func tenantURL(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}

	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return normalizeIssuer(domain)
	}

	return fmt.Sprintf("https://%s/", strings.TrimSuffix(domain, "/"))
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return issuer
	}
	if strings.HasSuffix(issuer, "/") {
		return issuer
	}
	return issuer + "/"
}
