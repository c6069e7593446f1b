// Package mongostore keeps the user directory and the role permission mappings
// in MongoDB. Transactions need a replica set or sharded cluster.
package mongostore

import (
	"context"
	"fmt"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection       = "system_users"
	permissionsCollection = "role_permissions"
)

// Store groups the collections and runs transactions over a client session.
type Store struct {
	client      *mongo.Client
	users       *UserStore
	permissions *PermissionStore
}

var _ identity.TxRunner = (*Store)(nil)

// Connect dials uri and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

func New(db *mongo.Database) *Store {
	return &Store{
		client:      db.Client(),
		users:       NewUserStore(db),
		permissions: NewPermissionStore(db),
	}
}

func (s *Store) Users() *UserStore {
	return s.users
}

func (s *Store) Permissions() *PermissionStore {
	return s.permissions
}

// RunInTx implements identity.TxRunner. Calls made with a context that
// already carries a session join it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// EnsureIndexes creates the indexes the stores rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.permissions.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "role", Value: 1}, {Key: "permission", Value: 1}},
			Options: options.Index().SetName("idx_role_permission").SetUnique(true),
		},
	}); err != nil {
		return fmt.Errorf("role_permissions indexes: %w", err)
	}

	if _, err := s.users.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_users_created"),
		},
	}); err != nil {
		return fmt.Errorf("system_users indexes: %w", err)
	}
	return nil
}

// Seed loads identity.DefaultRolePermissions into an empty mapping
// collection and reports how many rows were written.
func (s *Store) Seed(ctx context.Context) (int, error) {
	count, err := s.permissions.c.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	var docs []any
	for role, perms := range identity.DefaultRolePermissions() {
		for _, perm := range perms {
			docs = append(docs, permissionDoc{
				ID:         seedID(role, perm).String(),
				Role:       string(role),
				Permission: string(perm),
				Version:    1,
				CreatedAt:  now,
			})
		}
	}

	if _, err := s.permissions.c.InsertMany(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func seedID(role identity.Role, perm identity.Permission) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("identity:role_permission:"+string(role)+":"+string(perm)))
}
