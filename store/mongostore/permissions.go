package mongostore

import (
	"context"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type permissionDoc struct {
	ID         string    `bson:"_id"`
	Role       string    `bson:"role"`
	Permission string    `bson:"permission"`
	Version    int64     `bson:"version"`
	CreatedAt  time.Time `bson:"created_at"`
}

// PermissionStore implements identity.PermissionStore.
type PermissionStore struct {
	c *mongo.Collection
}

var _ identity.PermissionStore = (*PermissionStore)(nil)

func NewPermissionStore(db *mongo.Database) *PermissionStore {
	return &PermissionStore{c: db.Collection(permissionsCollection)}
}

func (s *PermissionStore) FindByRoleIn(ctx context.Context, roles []identity.Role) ([]*identity.RolePermissionMapping, error) {
	if len(roles) == 0 {
		return []*identity.RolePermissionMapping{}, nil
	}
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return s.find(ctx, bson.M{"role": bson.M{"$in": names}})
}

func (s *PermissionStore) FindByRole(ctx context.Context, role identity.Role) ([]*identity.RolePermissionMapping, error) {
	return s.find(ctx, bson.M{"role": string(role)})
}

func (s *PermissionStore) FindAll(ctx context.Context) ([]*identity.RolePermissionMapping, error) {
	return s.find(ctx, bson.M{})
}

func (s *PermissionStore) ExistsByRoleAndPermission(ctx context.Context, role identity.Role, permission identity.Permission) (bool, error) {
	count, err := s.c.CountDocuments(ctx,
		bson.M{"role": string(role), "permission": string(permission)},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Save inserts new mappings and updates stored ones guarded by version.
// The unique (role, permission) index turns a racing duplicate insert into
// identity.ErrDuplicateMapping.
func (s *PermissionStore) Save(ctx context.Context, mapping *identity.RolePermissionMapping) (*identity.RolePermissionMapping, error) {
	doc := permissionDoc{
		ID:         mapping.ID.String(),
		Role:       string(mapping.Role),
		Permission: string(mapping.Permission),
		CreatedAt:  mapping.CreatedAt,
	}
	if mapping.ID == uuid.Nil {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if mapping.Version == nil {
		doc.Version = 1
		if _, err := s.c.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, identity.WithCause(identity.ErrDuplicateMapping, err, map[string]any{
					"role":       doc.Role,
					"permission": doc.Permission,
				})
			}
			return nil, err
		}
		return doc.toMapping()
	}

	expected := *mapping.Version
	doc.Version = expected + 1
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": doc.ID, "version": expected},
		bson.M{"$set": bson.M{
			"role":       doc.Role,
			"permission": doc.Permission,
			"version":    doc.Version,
		}},
	)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, identity.WithMeta(identity.ErrConcurrentModification, map[string]any{
			"mapping_id": doc.ID,
			"version":    expected,
		})
	}
	return doc.toMapping()
}

// DeleteByID never fails for unknown ids.
func (s *PermissionStore) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id.String()})
	return err
}

func (s *PermissionStore) find(ctx context.Context, filter bson.M) ([]*identity.RolePermissionMapping, error) {
	opts := options.Find().SetSort(bson.D{{Key: "role", Value: 1}, {Key: "permission", Value: 1}})
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []permissionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	mappings := make([]*identity.RolePermissionMapping, 0, len(docs))
	for i := range docs {
		mapping, err := docs[i].toMapping()
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, mapping)
	}
	return mappings, nil
}

func (d *permissionDoc) toMapping() (*identity.RolePermissionMapping, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	version := d.Version
	return &identity.RolePermissionMapping{
		ID:         id,
		Role:       identity.Role(d.Role),
		Permission: identity.Permission(d.Permission),
		Version:    &version,
		CreatedAt:  d.CreatedAt,
	}, nil
}
