//go:build integration

package auth0_test

import (
	"context"
	"os"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/auth0"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantTokenValidation(t *testing.T) {
	domain := os.Getenv("AUTH0_DOMAIN")
	audience := os.Getenv("AUTH0_AUDIENCE")
	token := os.Getenv("AUTH0_TEST_TOKEN")
	if domain == "" || audience == "" || token == "" {
		t.Skip("AUTH0_DOMAIN, AUTH0_AUDIENCE and AUTH0_TEST_TOKEN must be set")
	}

	v, err := auth0.NewTokenValidator(auth0.DefaultConfig(domain, []string{audience}))
	require.NoError(t, err)

	principal, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.NotEmpty(t, principal.ID)
	assert.True(t, principal.IsAuthenticated())
}

func TestTenantGatewayLifecycle(t *testing.T) {
	domain := os.Getenv("AUTH0_DOMAIN")
	clientID := os.Getenv("AUTH0_CLIENT_ID")
	clientSecret := os.Getenv("AUTH0_CLIENT_SECRET")
	if domain == "" || clientID == "" || clientSecret == "" {
		t.Skip("AUTH0_DOMAIN, AUTH0_CLIENT_ID and AUTH0_CLIENT_SECRET must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gw, err := auth0.NewGateway(auth0.GatewayConfig{
		Domain:       domain,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Connection:   os.Getenv("AUTH0_CONNECTION"),
	})
	require.NoError(t, err)

	suffix := uuid.NewString()[:8]
	id, err := gw.CreateUser(ctx, identity.NewIdentity{
		Username: "it-" + suffix,
		Email:    "it-" + suffix + "@example.com",
		Password: "Integration-" + suffix + "!",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.DeleteUser(context.Background(), id) })

	found, err := gw.FindUserByEmail(ctx, "it-"+suffix+"@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	require.NoError(t, gw.ActivateUser(ctx, id))
	require.NoError(t, gw.DeleteUser(ctx, id))
	require.NoError(t, gw.DeleteUser(ctx, id))
}
