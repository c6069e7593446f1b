package identity

import (
	"time"

	"github.com/google/uuid"
)

// RolePermissionMapping grants a permission to a role. (Role, Permission)
// is unique across all mappings.
type RolePermissionMapping struct {
	ID         uuid.UUID  `json:"id"`
	Role       Role       `json:"role"`
	Permission Permission `json:"permission"`
	Version    *int64     `json:"version,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewRolePermissionMapping returns an unsaved mapping with a fresh id
func NewRolePermissionMapping(role Role, permission Permission, now time.Time) *RolePermissionMapping {
	return &RolePermissionMapping{
		ID:         uuid.New(),
		Role:       role,
		Permission: permission,
		CreatedAt:  now.UTC(),
	}
}

// UserView is the serializable projection of a SystemUser
type UserView struct {
	ID      string   `json:"id"`
	Active  bool     `json:"active"`
	Roles   []string `json:"roles"`
	Version *int64   `json:"version,omitempty"`
}

// NewUserView projects user for transport
func NewUserView(user *SystemUser) UserView {
	view := UserView{
		ID:     user.ID().String(),
		Active: user.IsActive(),
		Roles:  user.Roles().Strings(),
	}
	if v, ok := user.Version(); ok {
		view.Version = &v
	}
	return view
}
