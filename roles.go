package identity

import (
	"sort"
	"strings"
)

// Role is a normalized, upper-case role name
type Role string

const (
	RoleSuperAdmin Role = "SUPERADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleModerator  Role = "MODERATOR"
	RoleUser       Role = "USER"

	// identity provider built-ins, carried on tokens but never granted locally
	RoleOfflineAccess     Role = "OFFLINE_ACCESS"
	RoleUMAAuthorization  Role = "UMA_AUTHORIZATION"
	RoleFactorBearer      Role = "FACTOR_BEARER"
	RoleDefaultRolesRealm Role = "DEFAULT-ROLES-REALM"
)

// RolePrefix is the authority prefix some providers put on role names
const RolePrefix = "ROLE_"

var knownRoles = map[Role]struct{}{
	RoleSuperAdmin:        {},
	RoleAdmin:             {},
	RoleModerator:         {},
	RoleUser:              {},
	RoleOfflineAccess:     {},
	RoleUMAAuthorization:  {},
	RoleFactorBearer:      {},
	RoleDefaultRolesRealm: {},
}

// NormalizeRole strips the ROLE_ prefix and upper-cases the name
func NormalizeRole(raw string) Role {
	s := strings.TrimSpace(raw)
	if len(s) >= len(RolePrefix) && strings.EqualFold(s[:len(RolePrefix)], RolePrefix) {
		s = s[len(RolePrefix):]
	}
	return Role(strings.ToUpper(s))
}

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	_, ok := knownRoles[r]
	return ok
}

// Assignable reports whether the role can be stored on a SystemUser
func (r Role) Assignable() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleModerator, RoleUser:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// ParseRole normalizes raw and checks it against the known roles
func ParseRole(raw string) (Role, error) {
	role := NormalizeRole(raw)
	if !role.IsValid() {
		return "", WithMeta(ErrUnknownRole, map[string]any{"role": raw})
	}
	return role, nil
}

// AssignableRoles returns the roles that can be granted to users
func AssignableRoles() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleModerator, RoleUser}
}

// RoleSet has set semantics: duplicates collapse, order is irrelevant
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		set[r] = struct{}{}
	}
	return set
}

// ParseRoleSet parses every raw role, failing on the first unknown one
func ParseRoleSet(raw []string) (RoleSet, error) {
	set := make(RoleSet, len(raw))
	for _, r := range raw {
		role, err := ParseRole(r)
		if err != nil {
			return nil, err
		}
		set[role] = struct{}{}
	}
	return set, nil
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

func (s RoleSet) Len() int {
	return len(s)
}

// Slice returns the roles sorted by name
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted role names
func (s RoleSet) Strings() []string {
	roles := s.Slice()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func (s RoleSet) Clone() RoleSet {
	out := make(RoleSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

func (s RoleSet) Equal(other RoleSet) bool {
	if len(s) != len(other) {
		return false
	}
	for r := range s {
		if !other.Has(r) {
			return false
		}
	}
	return true
}
