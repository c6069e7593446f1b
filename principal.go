package identity

import (
	"strings"

	"github.com/google/uuid"
)

const anonymousName = "anonymousUser"

// Principal is the authenticated caller of a protected operation
type Principal struct {
	ID            string
	Name          string
	Email         string
	Roles         []Role
	Authenticated bool
}

// NewPrincipal normalizes raw role names, unknown ones are kept upper-cased
// so role requirements still compare correctly.
func NewPrincipal(id, name, email string, rawRoles []string) *Principal {
	roles := make([]Role, 0, len(rawRoles))
	for _, r := range rawRoles {
		if role := NormalizeRole(r); role != "" {
			roles = append(roles, role)
		}
	}
	return &Principal{
		ID:            id,
		Name:          name,
		Email:         email,
		Roles:         roles,
		Authenticated: true,
	}
}

// IsAuthenticated is false for nil, anonymous and nameless principals
func (p *Principal) IsAuthenticated() bool {
	if p == nil || !p.Authenticated {
		return false
	}
	key := p.CacheKey()
	return key != "" && !strings.EqualFold(key, anonymousName)
}

// CacheKey identifies the principal in the permission cache
func (p *Principal) CacheKey() string {
	if p == nil {
		return ""
	}
	if p.ID != "" {
		return p.ID
	}
	return p.Name
}

func (p *Principal) RoleSet() RoleSet {
	if p == nil {
		return RoleSet{}
	}
	return NewRoleSet(p.Roles...)
}

// UserID parses the principal id as a directory id
func (p *Principal) UserID() (uuid.UUID, error) {
	if p == nil {
		return uuid.Nil, ErrUnauthenticated
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return uuid.Nil, WithCause(ErrUnauthenticated, err, map[string]any{"reason": "principal id is not a user id"})
	}
	return id, nil
}
