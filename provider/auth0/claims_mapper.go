package auth0

import (
	"context"
	"strings"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	identity "github.com/goliatone/go-identity"
)

// ClaimsMapper transforms validated Auth0 claims into a principal.
type ClaimsMapper interface {
	Map(ctx context.Context, claims *validator.ValidatedClaims) (*identity.Principal, error)
}

// ClaimsMapperFunc adapts a function into a ClaimsMapper.
type ClaimsMapperFunc func(ctx context.Context, claims *validator.ValidatedClaims) (*identity.Principal, error)

// Map implements ClaimsMapper.
func (f ClaimsMapperFunc) Map(ctx context.Context, claims *validator.ValidatedClaims) (*identity.Principal, error) {
	return f(ctx, claims)
}

// Auth0ClaimsMapper maps Auth0 JWT claims to an identity.Principal. Auth0
// only emits custom claims under a namespace, so roles are read from
// "{Namespace}roles" first.
type Auth0ClaimsMapper struct {
	Namespace string

	// DefaultRole is used when the token carries no role at all.
	DefaultRole         string
	PermissionToRoleMap map[string]string

	RoleClaimKey     string
	UsernameClaimKey string
	EmailClaimKey    string
}

// Map implements ClaimsMapper.
func (m *Auth0ClaimsMapper) Map(ctx context.Context, validated *validator.ValidatedClaims) (*identity.Principal, error) {
	if validated == nil {
		return nil, identity.ErrTokenMalformed.Clone()
	}

	customClaims, ok := validated.CustomClaims.(*Auth0CustomClaims)
	if !ok || customClaims == nil {
		customClaims = &Auth0CustomClaims{}
	}

	subject := validated.RegisteredClaims.Subject
	if subject == "" {
		return nil, identity.WithMeta(identity.ErrTokenMalformed, map[string]any{
			"provider": "auth0",
			"reason":   "missing subject",
		})
	}

	return identity.NewPrincipal(
		LocalID(subject),
		m.extractUsername(customClaims, subject),
		m.extractEmail(customClaims),
		m.extractRoles(customClaims),
	), nil
}

// LocalID strips the connection prefix from an Auth0 user id so it lines
// up with the directory id, "auth0|<uuid>" becomes "<uuid>".
func LocalID(subject string) string {
	if idx := strings.LastIndex(subject, "|"); idx >= 0 {
		return subject[idx+1:]
	}
	return subject
}

func (m *Auth0ClaimsMapper) extractRoles(claims *Auth0CustomClaims) []string {
	if roles := m.claimSlice(claims, m.roleClaimKeys()...); len(roles) > 0 {
		return roles
	}

	if len(claims.Roles) > 0 {
		return append([]string(nil), claims.Roles...)
	}

	if claims.Metadata != nil {
		if roles := stringSliceFromAny(claims.Metadata["roles"]); len(roles) > 0 {
			return roles
		}
	}

	if m.PermissionToRoleMap != nil {
		var roles []string
		for _, perm := range m.permissionsFromClaims(claims) {
			if mapped, ok := m.PermissionToRoleMap[perm]; ok {
				roles = append(roles, mapped)
			}
		}
		if len(roles) > 0 {
			return roles
		}
	}

	if m.DefaultRole != "" {
		return []string{m.DefaultRole}
	}
	return nil
}

func (m *Auth0ClaimsMapper) extractUsername(claims *Auth0CustomClaims, subject string) string {
	if name := m.claimString(claims, m.usernameClaimKeys()...); name != "" {
		return name
	}
	for _, candidate := range []string{claims.PreferredUsername, claims.Nickname, claims.Name} {
		if candidate != "" {
			return candidate
		}
	}
	return subject
}

func (m *Auth0ClaimsMapper) extractEmail(claims *Auth0CustomClaims) string {
	if email := m.claimString(claims, m.emailClaimKeys()...); email != "" {
		return email
	}
	return claims.Email
}

func (m *Auth0ClaimsMapper) permissionsFromClaims(claims *Auth0CustomClaims) []string {
	if len(claims.Permissions) > 0 {
		return append([]string(nil), claims.Permissions...)
	}

	if claims.Scope != "" {
		return strings.Fields(claims.Scope)
	}

	return nil
}

func (m *Auth0ClaimsMapper) roleClaimKeys() []string {
	return uniqueKeys(
		m.RoleClaimKey,
		m.namespacedKey("roles"),
		m.namespacedKey("role"),
	)
}

func (m *Auth0ClaimsMapper) usernameClaimKeys() []string {
	return uniqueKeys(
		m.UsernameClaimKey,
		m.namespacedKey("username"),
	)
}

func (m *Auth0ClaimsMapper) emailClaimKeys() []string {
	return uniqueKeys(
		m.EmailClaimKey,
		m.namespacedKey("email"),
	)
}

func (m *Auth0ClaimsMapper) claimString(claims *Auth0CustomClaims, keys ...string) string {
	for _, key := range keys {
		if val, ok := claimValue(claims, key); ok {
			if str, ok := val.(string); ok && str != "" {
				return str
			}
		}
	}
	return ""
}

func (m *Auth0ClaimsMapper) claimSlice(claims *Auth0CustomClaims, keys ...string) []string {
	for _, key := range keys {
		if val, ok := claimValue(claims, key); ok {
			if slice := stringSliceFromAny(val); len(slice) > 0 {
				return slice
			}
		}
	}
	return nil
}

func (m *Auth0ClaimsMapper) namespacePrefix() string {
	namespace := strings.TrimSpace(m.Namespace)
	if namespace == "" {
		return ""
	}
	if strings.HasSuffix(namespace, "/") || strings.HasSuffix(namespace, ":") {
		return namespace
	}
	return namespace + "/"
}

func (m *Auth0ClaimsMapper) namespacedKey(key string) string {
	prefix := m.namespacePrefix()
	if prefix == "" {
		return ""
	}
	return prefix + key
}

func claimValue(claims *Auth0CustomClaims, key string) (any, bool) {
	if claims == nil || key == "" || claims.Raw == nil {
		return nil, false
	}
	val, ok := claims.Raw[key]
	return val, ok
}

func stringSliceFromAny(val any) []string {
	switch typed := val.(type) {
	case []string:
		return append([]string(nil), typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, entry := range typed {
			if str, ok := entry.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		if typed == "" {
			return nil
		}
		return []string{typed}
	}
	return nil
}

func uniqueKeys(values ...string) []string {
	seen := map[string]struct{}{}
	keys := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		keys = append(keys, value)
	}
	return keys
}
