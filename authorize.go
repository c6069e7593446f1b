package identity

import (
	"context"
	"fmt"
	"strings"
)

// RequirementKind tags the Requirement variant
type RequirementKind int

const (
	RequirePermissionKind RequirementKind = iota + 1
	RequireAnyPermissionKind
	RequireRoleKind
	RequireAllRolesKind
	RequireAnyRoleKind
)

// Requirement is what a protected operation demands from its caller. Build
// it with RequirePermission, RequireAnyPermission, RequireRole,
// RequireAllRoles or RequireAnyRole.
type Requirement struct {
	Kind        RequirementKind
	Permissions []Permission
	Roles       []Role
}

func RequirePermission(p Permission) Requirement {
	return Requirement{Kind: RequirePermissionKind, Permissions: []Permission{p}}
}

func RequireAnyPermission(ps ...Permission) Requirement {
	return Requirement{Kind: RequireAnyPermissionKind, Permissions: ps}
}

func RequireRole(r Role) Requirement {
	return Requirement{Kind: RequireRoleKind, Roles: []Role{r}}
}

func RequireAllRoles(rs ...Role) Requirement {
	return Requirement{Kind: RequireAllRolesKind, Roles: rs}
}

func RequireAnyRole(rs ...Role) Requirement {
	return Requirement{Kind: RequireAnyRoleKind, Roles: rs}
}

func (r Requirement) String() string {
	switch r.Kind {
	case RequirePermissionKind:
		return "permission(" + joinPermissions(r.Permissions) + ")"
	case RequireAnyPermissionKind:
		return "any_permission(" + joinPermissions(r.Permissions) + ")"
	case RequireRoleKind:
		return "role(" + joinRoles(r.Roles) + ")"
	case RequireAllRolesKind:
		return "all_roles(" + joinRoles(r.Roles) + ")"
	case RequireAnyRoleKind:
		return "any_role(" + joinRoles(r.Roles) + ")"
	default:
		return fmt.Sprintf("unknown(%d)", r.Kind)
	}
}

// Authorizer makes the explicit allow/deny decision at the entry of each
// protected operation.
type Authorizer struct {
	permissions *PermissionAuthorizationService
	logger      Logger
}

func NewAuthorizer(permissions *PermissionAuthorizationService, logger Logger) *Authorizer {
	if logger == nil {
		logger = defLogger{}
	}
	return &Authorizer{
		permissions: permissions,
		logger:      logger,
	}
}

// Authorize returns nil, ErrUnauthenticated or ErrForbidden. Empty
// requirement lists and unknown kinds deny.
func (a *Authorizer) Authorize(ctx context.Context, principal *Principal, req Requirement) error {
	if !principal.IsAuthenticated() {
		return ErrUnauthenticated.Clone()
	}

	if a.granted(ctx, principal, req) {
		return nil
	}

	a.logger.Debug("access denied for %s: requires %s", principal.CacheKey(), req)
	return WithMeta(ErrForbidden, map[string]any{
		"requirement": req.String(),
	})
}

func (a *Authorizer) granted(ctx context.Context, principal *Principal, req Requirement) bool {
	switch req.Kind {
	case RequirePermissionKind:
		if len(req.Permissions) != 1 {
			return false
		}
		return a.permissions.HasPermission(ctx, principal, req.Permissions[0])
	case RequireAnyPermissionKind:
		return a.permissions.HasAnyPermission(ctx, principal, req.Permissions...)
	case RequireRoleKind:
		if len(req.Roles) != 1 {
			return false
		}
		return principal.RoleSet().Has(NormalizeRole(string(req.Roles[0])))
	case RequireAllRolesKind:
		if len(req.Roles) == 0 {
			return false
		}
		held := principal.RoleSet()
		for _, r := range req.Roles {
			if !held.Has(NormalizeRole(string(r))) {
				return false
			}
		}
		return true
	case RequireAnyRoleKind:
		held := principal.RoleSet()
		for _, r := range req.Roles {
			if held.Has(NormalizeRole(string(r))) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func joinPermissions(ps []Permission) string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return strings.Join(out, ",")
}

func joinRoles(rs []Role) string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return strings.Join(out, ",")
}
