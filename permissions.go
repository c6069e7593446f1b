package identity

import (
	"sort"
	"strings"
)

// Permission is a granular capability identifier from a closed set
type Permission string

const (
	PermissionUsersRead        Permission = "users:read"
	PermissionUsersCreate      Permission = "users:create"
	PermissionUsersUpdate      Permission = "users:update"
	PermissionUsersDelete      Permission = "users:delete"
	PermissionUsersActivate    Permission = "users:activate"
	PermissionUsersDeactivate  Permission = "users:deactivate"
	PermissionUsersManageRoles Permission = "users:manage-roles"

	PermissionAuthChangePassword Permission = "auth:change-password"
	PermissionAuthChangeEmail    Permission = "auth:change-email"

	PermissionReportsRead     Permission = "reports:read"
	PermissionReportsGenerate Permission = "reports:generate"
	PermissionReportsDelete   Permission = "reports:delete"

	PermissionSettingsManage    Permission = "settings:manage"
	PermissionPermissionsManage Permission = "permissions:manage"
)

var allPermissions = []Permission{
	PermissionUsersRead,
	PermissionUsersCreate,
	PermissionUsersUpdate,
	PermissionUsersDelete,
	PermissionUsersActivate,
	PermissionUsersDeactivate,
	PermissionUsersManageRoles,
	PermissionAuthChangePassword,
	PermissionAuthChangeEmail,
	PermissionReportsRead,
	PermissionReportsGenerate,
	PermissionReportsDelete,
	PermissionSettingsManage,
	PermissionPermissionsManage,
}

// AllPermissions returns every known permission
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

func (p Permission) IsValid() bool {
	for _, known := range allPermissions {
		if p == known {
			return true
		}
	}
	return false
}

func (p Permission) String() string {
	return string(p)
}

// ParsePermission accepts the wire value, case-insensitively
func ParsePermission(raw string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(raw)))
	if !p.IsValid() {
		return "", WithMeta(ErrUnknownPermission, map[string]any{"permission": raw})
	}
	return p, nil
}

// PermissionSet is an immutable set of permissions once built
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAny is false for an empty request
func (s PermissionSet) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

func (s PermissionSet) Len() int {
	return len(s)
}

// Slice returns the permissions sorted by name
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PermissionSet) Strings() []string {
	perms := s.Slice()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

// DefaultRolePermissions is the initial role to permission matrix. The SQL
// seed migration carries the same rows.
func DefaultRolePermissions() map[Role][]Permission {
	return map[Role][]Permission{
		RoleSuperAdmin: AllPermissions(),
		RoleAdmin: {
			PermissionUsersRead,
			PermissionUsersCreate,
			PermissionUsersUpdate,
			PermissionUsersActivate,
			PermissionUsersDeactivate,
			PermissionUsersManageRoles,
			PermissionAuthChangePassword,
			PermissionAuthChangeEmail,
			PermissionReportsRead,
			PermissionReportsGenerate,
		},
		RoleModerator: {
			PermissionUsersRead,
			PermissionAuthChangePassword,
			PermissionAuthChangeEmail,
			PermissionReportsRead,
		},
		RoleUser: {
			PermissionAuthChangePassword,
			PermissionAuthChangeEmail,
		},
	}
}
