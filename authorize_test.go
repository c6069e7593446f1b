package identity_test

import (
	"context"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestAuthorizer() *identity.Authorizer {
	store := newMemoryPermissionStore(
		mapping(identity.RoleAdmin, identity.PermissionUsersRead),
		mapping(identity.RoleAdmin, identity.PermissionUsersDeactivate),
		mapping(identity.RoleUser, identity.PermissionAuthChangePassword),
	)
	svc := identity.NewPermissionAuthorizationService(store, identity.WithAuthorizationLogger(silentLogger{}))
	return identity.NewAuthorizer(svc, silentLogger{})
}

func TestAuthorizeRequirements(t *testing.T) {
	authz := newTestAuthorizer()
	admin := identity.NewPrincipal(uuid.NewString(), "root", "", []string{"ROLE_ADMIN", "ROLE_USER"})
	user := identity.NewPrincipal(uuid.NewString(), "bob", "", []string{"USER"})

	cases := []struct {
		name      string
		principal *identity.Principal
		req       identity.Requirement
		allowed   bool
	}{
		{"permission granted", admin, identity.RequirePermission(identity.PermissionUsersRead), true},
		{"permission missing", user, identity.RequirePermission(identity.PermissionUsersRead), false},
		{"any permission", user, identity.RequireAnyPermission(identity.PermissionUsersRead, identity.PermissionAuthChangePassword), true},
		{"any permission empty", admin, identity.RequireAnyPermission(), false},
		{"role", admin, identity.RequireRole(identity.RoleAdmin), true},
		{"role prefixed", admin, identity.RequireRole(identity.Role("ROLE_ADMIN")), true},
		{"role missing", user, identity.RequireRole(identity.RoleAdmin), false},
		{"all roles", admin, identity.RequireAllRoles(identity.RoleAdmin, identity.RoleUser), true},
		{"all roles partial", user, identity.RequireAllRoles(identity.RoleAdmin, identity.RoleUser), false},
		{"all roles empty", admin, identity.RequireAllRoles(), false},
		{"any role", user, identity.RequireAnyRole(identity.RoleAdmin, identity.RoleUser), true},
		{"any role empty", admin, identity.RequireAnyRole(), false},
		{"unknown kind", admin, identity.Requirement{Kind: 99}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := authz.Authorize(context.Background(), tc.principal, tc.req)
			if tc.allowed {
				assert.NoError(t, err)
				return
			}
			assert.True(t, identity.IsForbidden(err), "expected forbidden, got %v", err)
		})
	}
}

func TestAuthorizeUnauthenticated(t *testing.T) {
	authz := newTestAuthorizer()

	for _, p := range []*identity.Principal{
		nil,
		{Name: "anonymousUser", Authenticated: true},
		{ID: uuid.NewString(), Roles: []identity.Role{identity.RoleAdmin}},
	} {
		err := authz.Authorize(context.Background(), p, identity.RequireRole(identity.RoleAdmin))
		assert.True(t, identity.HasTextCode(err, identity.TextCodeUnauthenticated))
	}
}

func TestCanUsesContextPrincipal(t *testing.T) {
	authz := newTestAuthorizer()
	req := identity.RequirePermission(identity.PermissionUsersDeactivate)

	assert.False(t, identity.Can(context.Background(), authz, req))

	admin := identity.NewPrincipal(uuid.NewString(), "root", "", []string{"ADMIN"})
	ctx := identity.WithPrincipal(context.Background(), admin)
	assert.True(t, identity.Can(ctx, authz, req))

	got, ok := identity.PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, admin, got)
}

func TestRequirementString(t *testing.T) {
	assert.Equal(t, "any_role(ADMIN,USER)", identity.RequireAnyRole(identity.RoleAdmin, identity.RoleUser).String())
	assert.Equal(t, "permission(users:read)", identity.RequirePermission(identity.PermissionUsersRead).String())
}
