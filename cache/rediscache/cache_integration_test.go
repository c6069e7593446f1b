//go:build integration

package rediscache_test

import (
	"context"
	"os"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/cache/rediscache"
	"github.com/goliatone/go-identity/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type CacheSuite struct {
	suite.Suite
	client *redis.Client
	cache  *rediscache.Cache
}

func TestCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL must be set")
	}

	client, err := rediscache.Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &CacheSuite{client: client})
}

func (s *CacheSuite) SetupTest() {
	s.cache = rediscache.New(s.client, rediscache.WithPrefix("test-"+uuid.NewString()))
}

func (s *CacheSuite) TestGetAfterPut() {
	ctx := context.Background()
	gen, err := s.cache.Generation(ctx)
	s.Require().NoError(err)
	s.Equal(uint64(0), gen)

	_, ok, err := s.cache.Get(ctx, gen, "alice")
	s.Require().NoError(err)
	s.False(ok)

	perms := identity.NewPermissionSet(identity.PermissionReportsRead, identity.PermissionAuthChangeEmail)
	s.Require().NoError(s.cache.Put(ctx, gen, "alice", perms))

	got, ok, err := s.cache.Get(ctx, gen, "alice")
	s.Require().NoError(err)
	s.True(ok)
	s.True(perms.Equal(got))
}

func (s *CacheSuite) TestInvalidateAllDropsEntries() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Put(ctx, 0, "alice", identity.NewPermissionSet(identity.PermissionReportsRead)))

	s.Require().NoError(s.cache.InvalidateAll(ctx))

	gen, err := s.cache.Generation(ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), gen)

	_, ok, err := s.cache.Get(ctx, gen, "alice")
	s.Require().NoError(err)
	s.False(ok)

	_, ok, err = s.cache.Get(ctx, 0, "alice")
	s.Require().NoError(err)
	s.False(ok, "old generation entries are purged")
}

func (s *CacheSuite) TestStalePutIsDropped() {
	ctx := context.Background()
	gen, err := s.cache.Generation(ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.cache.InvalidateAll(ctx))
	s.Require().NoError(s.cache.Put(ctx, gen, "alice", identity.NewPermissionSet(identity.PermissionReportsRead)))

	_, ok, err := s.cache.Get(ctx, gen, "alice")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *CacheSuite) TestAuthorizationServiceOverRedis() {
	ctx := context.Background()
	db, err := repository.Open(repository.DriverSQLite, ":memory:")
	s.Require().NoError(err)
	defer db.Close()
	_, err = repository.Migrate(ctx, db)
	s.Require().NoError(err)

	store := repository.NewRolePermissionRepository(db)
	svc := identity.NewPermissionAuthorizationService(store, identity.WithPermissionCache(s.cache))
	principal := identity.NewPrincipal(uuid.NewString(), "mod", "", []string{"MODERATOR"})

	s.False(svc.HasPermission(ctx, principal, identity.PermissionReportsGenerate))

	_, err = svc.CreateMapping(ctx, identity.ActorRef{ID: "root"}, identity.RoleModerator, identity.PermissionReportsGenerate)
	s.Require().NoError(err)
	s.True(svc.HasPermission(ctx, principal, identity.PermissionReportsGenerate))
}
