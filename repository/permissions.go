package repository

import (
	"context"
	"database/sql"
	"errors"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RolePermissionRepository implements identity.PermissionStore using Bun.
type RolePermissionRepository struct {
	db *bun.DB
}

var _ identity.PermissionStore = (*RolePermissionRepository)(nil)

func NewRolePermissionRepository(db *bun.DB) *RolePermissionRepository {
	return &RolePermissionRepository{db: db}
}

// FindByRoleIn implements identity.PermissionStore.
func (r *RolePermissionRepository) FindByRoleIn(ctx context.Context, roles []identity.Role) ([]*identity.RolePermissionMapping, error) {
	if len(roles) == 0 {
		return []*identity.RolePermissionMapping{}, nil
	}

	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}

	return r.find(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("role IN (?)", bun.In(names))
	})
}

// FindByRole implements identity.PermissionStore.
func (r *RolePermissionRepository) FindByRole(ctx context.Context, role identity.Role) ([]*identity.RolePermissionMapping, error) {
	return r.find(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("role = ?", string(role))
	})
}

// FindAll implements identity.PermissionStore.
func (r *RolePermissionRepository) FindAll(ctx context.Context) ([]*identity.RolePermissionMapping, error) {
	return r.find(ctx, nil)
}

// ExistsByRoleAndPermission implements identity.PermissionStore.
func (r *RolePermissionRepository) ExistsByRoleAndPermission(ctx context.Context, role identity.Role, permission identity.Permission) (bool, error) {
	return idb(ctx, r.db).NewSelect().
		Model((*RolePermissionModel)(nil)).
		Where("role = ? AND permission = ?", string(role), string(permission)).
		Exists(ctx)
}

// Save inserts new mappings and updates stored ones guarded by version.
func (r *RolePermissionRepository) Save(ctx context.Context, mapping *identity.RolePermissionMapping) (*identity.RolePermissionMapping, error) {
	db := idb(ctx, r.db)
	model := fromMapping(mapping)

	if mapping.Version == nil {
		model.Version = 1
		if _, err := db.NewInsert().Model(model).Exec(ctx); err != nil {
			return nil, err
		}
		return toMapping(model), nil
	}

	expected := *mapping.Version
	model.Version = expected + 1
	res, err := db.NewUpdate().
		Model(model).
		Column("role", "permission", "version").
		Where("id = ?", model.ID).
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, identity.WithMeta(identity.ErrConcurrentModification, map[string]any{
			"mapping_id": model.ID.String(),
			"version":    expected,
		})
	}
	return toMapping(model), nil
}

// DeleteByID never fails for unknown ids.
func (r *RolePermissionRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := idb(ctx, r.db).NewDelete().
		Model((*RolePermissionModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *RolePermissionRepository) find(ctx context.Context, criteria func(*bun.SelectQuery) *bun.SelectQuery) ([]*identity.RolePermissionMapping, error) {
	var models []RolePermissionModel
	q := idb(ctx, r.db).NewSelect().
		Model(&models).
		Order("role ASC", "permission ASC")
	if criteria != nil {
		q = criteria(q)
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	mappings := make([]*identity.RolePermissionMapping, len(models))
	for i := range models {
		mappings[i] = toMapping(&models[i])
	}
	return mappings, nil
}
