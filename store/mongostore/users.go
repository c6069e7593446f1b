package mongostore

import (
	"context"
	"errors"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type userDoc struct {
	ID        string    `bson:"_id"`
	Active    bool      `bson:"active"`
	Roles     []string  `bson:"roles"`
	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// UserStore implements identity.UserDirectory.
type UserStore struct {
	c   *mongo.Collection
	now func() time.Time
}

var _ identity.UserDirectory = (*UserStore)(nil)

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{c: db.Collection(usersCollection), now: time.Now}
}

func (s *UserStore) Create(ctx context.Context, user *identity.SystemUser) (*identity.SystemUser, error) {
	now := s.now().UTC()
	doc := userDoc{
		ID:        user.ID().String(),
		Active:    user.IsActive(),
		Roles:     user.Roles().Strings(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.c.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, identity.WithCause(identity.ErrUserExists, err, map[string]any{
				"user_id": doc.ID,
			})
		}
		return nil, err
	}

	user.MarkStored(doc.Version)
	return user, nil
}

func (s *UserStore) FindByID(ctx context.Context, id uuid.UUID) (*identity.SystemUser, error) {
	var doc userDoc
	if err := s.c.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, identity.WithMeta(identity.ErrUserNotFound, map[string]any{
				"user_id": id.String(),
			})
		}
		return nil, err
	}
	return doc.toUser()
}

func (s *UserStore) FindAll(ctx context.Context) ([]*identity.SystemUser, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	users := make([]*identity.SystemUser, 0, len(docs))
	for i := range docs {
		user, err := docs[i].toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// Save writes the user guarded by its version, users never stored are
// created.
func (s *UserStore) Save(ctx context.Context, user *identity.SystemUser) (*identity.SystemUser, error) {
	expected, stored := user.Version()
	if !stored {
		return s.Create(ctx, user)
	}

	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": user.ID().String(), "version": expected},
		bson.M{"$set": bson.M{
			"active":     user.IsActive(),
			"roles":      user.Roles().Strings(),
			"version":    expected + 1,
			"updated_at": s.now().UTC(),
		}},
	)
	if err != nil {
		return nil, err
	}

	if res.MatchedCount == 0 {
		if _, err := s.FindByID(ctx, user.ID()); err != nil {
			return nil, err
		}
		return nil, identity.WithMeta(identity.ErrConcurrentModification, map[string]any{
			"user_id": user.ID().String(),
			"version": expected,
		})
	}

	user.MarkStored(expected + 1)
	return user, nil
}

func (d *userDoc) toUser() (*identity.SystemUser, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	roles := make([]identity.Role, 0, len(d.Roles))
	for _, r := range d.Roles {
		roles = append(roles, identity.NormalizeRole(r))
	}
	return identity.ReconstituteSystemUser(id, d.Active, identity.NewRoleSet(roles...), d.Version), nil
}
