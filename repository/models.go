package repository

import (
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SystemUserModel is the Bun model for directory records.
type SystemUserModel struct {
	bun.BaseModel `bun:"table:system_users"`

	ID        uuid.UUID `bun:"id,pk,type:varchar(36)"`
	Active    bool      `bun:"active,notnull"`
	Roles     []string  `bun:"roles,notnull"`
	Version   int64     `bun:"version,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// RolePermissionModel is the Bun model for role to permission mappings.
type RolePermissionModel struct {
	bun.BaseModel `bun:"table:role_permissions"`

	ID         uuid.UUID `bun:"id,pk,type:varchar(36)"`
	Role       string    `bun:"role,notnull"`
	Permission string    `bun:"permission,notnull"`
	Version    int64     `bun:"version,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

func toSystemUser(m *SystemUserModel) *identity.SystemUser {
	roles := make([]identity.Role, 0, len(m.Roles))
	for _, r := range m.Roles {
		roles = append(roles, identity.NormalizeRole(r))
	}
	return identity.ReconstituteSystemUser(m.ID, m.Active, identity.NewRoleSet(roles...), m.Version)
}

func fromSystemUser(u *identity.SystemUser, now time.Time) *SystemUserModel {
	version, _ := u.Version()
	return &SystemUserModel{
		ID:        u.ID(),
		Active:    u.IsActive(),
		Roles:     u.Roles().Strings(),
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func toMapping(m *RolePermissionModel) *identity.RolePermissionMapping {
	version := m.Version
	return &identity.RolePermissionMapping{
		ID:         m.ID,
		Role:       identity.Role(m.Role),
		Permission: identity.Permission(m.Permission),
		Version:    &version,
		CreatedAt:  m.CreatedAt,
	}
}

func fromMapping(m *identity.RolePermissionMapping) *RolePermissionModel {
	model := &RolePermissionModel{
		ID:         m.ID,
		Role:       string(m.Role),
		Permission: string(m.Permission),
		CreatedAt:  m.CreatedAt,
	}
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	if m.Version != nil {
		model.Version = *m.Version
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	return model
}
