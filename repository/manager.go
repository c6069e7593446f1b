package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	identity "github.com/goliatone/go-identity"
	"github.com/uptrace/bun"
)

type txKey struct{}

// Manager groups the bun backed stores and the transaction runner that
// shares a bun.Tx with them through the context.
type Manager struct {
	db          *bun.DB
	users       *SystemUserRepository
	permissions *RolePermissionRepository
}

var _ identity.TxRunner = (*Manager)(nil)

func NewRepositoryManager(db *bun.DB) *Manager {
	return &Manager{
		db:          db,
		users:       NewSystemUserRepository(db),
		permissions: NewRolePermissionRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.permissions == nil {
		return errors.New("repository permissions should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// RunInTx implements identity.TxRunner. Nested calls join the outer
// transaction.
func (m *Manager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}

	return m.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (m *Manager) Users() *SystemUserRepository {
	return m.users
}

func (m *Manager) Permissions() *RolePermissionRepository {
	return m.permissions
}

// idb returns the transaction carried by ctx, or db.
func idb(ctx context.Context, db *bun.DB) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return db
}
