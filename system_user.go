package identity

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SystemUser is the local record of an identity provider account. The id is
// immutable, roles are never empty and active follows Inactive <-> Active.
type SystemUser struct {
	id      uuid.UUID
	active  bool
	roles   RoleSet
	version int64
	stored  bool
}

// NewSystemUser builds a not yet persisted user
func NewSystemUser(id uuid.UUID, active bool, roles RoleSet) (*SystemUser, error) {
	if id == uuid.Nil {
		return nil, goerrors.New("user id is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	if roles.Len() == 0 {
		return nil, WithMeta(ErrEmptyRoleSet, map[string]any{"user_id": id.String()})
	}
	return &SystemUser{
		id:     id,
		active: active,
		roles:  roles.Clone(),
	}, nil
}

// ReconstituteSystemUser rebuilds a stored user without re-checking
// construction invariants. Only stores call it.
func ReconstituteSystemUser(id uuid.UUID, active bool, roles RoleSet, version int64) *SystemUser {
	return &SystemUser{
		id:      id,
		active:  active,
		roles:   roles.Clone(),
		version: version,
		stored:  true,
	}
}

func (u *SystemUser) ID() uuid.UUID {
	return u.id
}

func (u *SystemUser) IsActive() bool {
	return u.active
}

// Roles returns a copy of the role set
func (u *SystemUser) Roles() RoleSet {
	return u.roles.Clone()
}

// Version returns the optimistic lock counter, absent before first save
func (u *SystemUser) Version() (int64, bool) {
	return u.version, u.stored
}

// MarkStored is called by stores after a successful write.
func (u *SystemUser) MarkStored(version int64) {
	u.version = version
	u.stored = true
}

func (u *SystemUser) Activate() error {
	if u.active {
		return WithMeta(ErrAlreadyActive, map[string]any{"user_id": u.id.String()})
	}
	u.active = true
	return nil
}

// Deactivate is the administrative path, requester may not be the user.
func (u *SystemUser) Deactivate(requesterID uuid.UUID) error {
	if !u.active {
		return WithMeta(ErrAlreadyInactive, map[string]any{"user_id": u.id.String()})
	}
	if requesterID == u.id {
		return WithMeta(ErrSelfDeactivationForbidden, map[string]any{"user_id": u.id.String()})
	}
	u.active = false
	return nil
}

// DeactivateSelf is used to force re-verification after an email change.
func (u *SystemUser) DeactivateSelf() error {
	if !u.active {
		return WithMeta(ErrAlreadyInactive, map[string]any{"user_id": u.id.String()})
	}
	u.active = false
	return nil
}

// ReplaceRoles swaps the whole role set. An empty set leaves roles untouched.
func (u *SystemUser) ReplaceRoles(roles RoleSet) error {
	if roles.Len() == 0 {
		return WithMeta(ErrEmptyRoleSet, map[string]any{"user_id": u.id.String()})
	}
	u.roles = roles.Clone()
	return nil
}
