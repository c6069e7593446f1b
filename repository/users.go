package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SystemUserRepository implements identity.UserDirectory using Bun.
type SystemUserRepository struct {
	db  *bun.DB
	now func() time.Time
}

var _ identity.UserDirectory = (*SystemUserRepository)(nil)

func NewSystemUserRepository(db *bun.DB) *SystemUserRepository {
	return &SystemUserRepository{db: db, now: time.Now}
}

// Create inserts a new record. It fails with identity.ErrUserExists when the
// id is taken.
func (r *SystemUserRepository) Create(ctx context.Context, user *identity.SystemUser) (*identity.SystemUser, error) {
	db := idb(ctx, r.db)

	exists, err := db.NewSelect().
		Model((*SystemUserModel)(nil)).
		Where("id = ?", user.ID()).
		Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, identity.WithMeta(identity.ErrUserExists, map[string]any{
			"user_id": user.ID().String(),
		})
	}

	model := fromSystemUser(user, r.now().UTC())
	model.Version = 1

	if _, err := db.NewInsert().Model(model).Exec(ctx); err != nil {
		return nil, err
	}

	user.MarkStored(model.Version)
	return user, nil
}

// FindByID implements identity.UserDirectory.
func (r *SystemUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.SystemUser, error) {
	var model SystemUserModel
	err := idb(ctx, r.db).NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.WithMeta(identity.ErrUserNotFound, map[string]any{
				"user_id": id.String(),
			})
		}
		return nil, err
	}
	return toSystemUser(&model), nil
}

// FindAll implements identity.UserDirectory.
func (r *SystemUserRepository) FindAll(ctx context.Context) ([]*identity.SystemUser, error) {
	var models []SystemUserModel
	err := idb(ctx, r.db).NewSelect().
		Model(&models).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	users := make([]*identity.SystemUser, len(models))
	for i := range models {
		users[i] = toSystemUser(&models[i])
	}
	return users, nil
}

// Save writes the user guarded by its version. A stale version fails with
// identity.ErrConcurrentModification. Users never stored are created.
func (r *SystemUserRepository) Save(ctx context.Context, user *identity.SystemUser) (*identity.SystemUser, error) {
	expected, stored := user.Version()
	if !stored {
		return r.Create(ctx, user)
	}

	db := idb(ctx, r.db)
	model := fromSystemUser(user, r.now().UTC())
	model.Version = expected + 1

	res, err := db.NewUpdate().
		Model(model).
		Column("active", "roles", "version", "updated_at").
		Where("id = ?", model.ID).
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := r.FindByID(ctx, user.ID()); err != nil {
			return nil, err
		}
		return nil, identity.WithMeta(identity.ErrConcurrentModification, map[string]any{
			"user_id": user.ID().String(),
			"version": expected,
		})
	}

	user.MarkStored(model.Version)
	return user, nil
}
