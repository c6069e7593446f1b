package identity_test

import (
	"context"
	"errors"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) InvalidateCache(context.Context) error {
	c.calls++
	return nil
}

func TestLifecycleCreateUserRejectsExisting(t *testing.T) {
	dir := newMemoryDirectory()
	svc := identity.NewAccountLifecycleService(dir, identity.WithLifecycleLogger(silentLogger{}))
	id := uuid.New()
	admin := identity.ActorRef{ID: uuid.NewString(), Type: "user"}

	created, err := svc.CreateUser(context.Background(), admin, id, true, identity.NewRoleSet(identity.RoleModerator))
	require.NoError(t, err)
	assert.True(t, created.IsActive())

	_, err = svc.CreateUser(context.Background(), admin, id, false, identity.NewRoleSet(identity.RoleUser))
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeUserExists))

	_, err = svc.CreateUser(context.Background(), admin, uuid.New(), true, identity.NewRoleSet())
	assert.True(t, identity.IsEmptyRoleSet(err))
}

func TestLifecycleDeactivateRejectsSelf(t *testing.T) {
	dir := newMemoryDirectory()
	svc := identity.NewAccountLifecycleService(dir, identity.WithLifecycleLogger(silentLogger{}))
	id := uuid.New()

	_, err := svc.CreateUser(context.Background(), identity.ActorRef{}, id, true, identity.NewRoleSet(identity.RoleAdmin))
	require.NoError(t, err)

	err = svc.Deactivate(context.Background(), id, id)
	require.Error(t, err)
	assert.True(t, identity.IsForbidden(err))
	assert.True(t, dir.get(id).IsActive())

	require.NoError(t, svc.Deactivate(context.Background(), id, uuid.New()))
	assert.False(t, dir.get(id).IsActive())
}

func TestLifecycleActivateMissingUser(t *testing.T) {
	svc := identity.NewAccountLifecycleService(newMemoryDirectory(), identity.WithLifecycleLogger(silentLogger{}))

	err := svc.Activate(context.Background(), identity.ActorRef{}, uuid.New())
	require.Error(t, err)
	assert.True(t, identity.IsNotFound(err))
}

func TestLifecycleReplaceRolesEvictsPermissionCache(t *testing.T) {
	dir := newMemoryDirectory()
	inv := &countingInvalidator{}
	svc := identity.NewAccountLifecycleService(dir,
		identity.WithLifecycleLogger(silentLogger{}),
		identity.WithLifecycleCacheInvalidator(inv),
	)
	id := uuid.New()

	_, err := svc.CreateUser(context.Background(), identity.ActorRef{}, id, true, identity.NewRoleSet(identity.RoleUser))
	require.NoError(t, err)

	err = svc.ReplaceRoles(context.Background(), identity.ActorRef{}, id, identity.NewRoleSet())
	require.Error(t, err)
	assert.Equal(t, 0, inv.calls)

	require.NoError(t, svc.ReplaceRoles(context.Background(), identity.ActorRef{}, id, identity.NewRoleSet(identity.RoleAdmin)))
	assert.Equal(t, 1, inv.calls)
	assert.True(t, dir.get(id).Roles().Equal(identity.NewRoleSet(identity.RoleAdmin)))
}

func TestLifecycleSaveFailureIsUpstream(t *testing.T) {
	dir := newMemoryDirectory()
	svc := identity.NewAccountLifecycleService(dir, identity.WithLifecycleLogger(silentLogger{}))
	id := uuid.New()

	_, err := svc.Register(context.Background(), id, identity.NewRoleSet(identity.RoleUser))
	require.NoError(t, err)

	dir.saveErr = errors.New("deadlock detected")
	err = svc.Activate(context.Background(), identity.ActorRef{}, id)
	assert.True(t, identity.IsUpstreamFailure(err))
	assert.False(t, dir.get(id).IsActive())
}

func TestLifecycleRunsMutationsInTransaction(t *testing.T) {
	dir := newMemoryDirectory()
	var txCalls int
	tx := identity.TxRunnerFunc(func(ctx context.Context, fn func(context.Context) error) error {
		txCalls++
		return fn(ctx)
	})
	sink := &MockActivitySink{}
	sink.On("Record", mock.Anything, mock.MatchedBy(func(e identity.ActivityEvent) bool {
		return e.EventType == identity.ActivityEventUserActivated
	})).Return(nil).Once()

	svc := identity.NewAccountLifecycleService(dir,
		identity.WithLifecycleLogger(silentLogger{}),
		identity.WithLifecycleTxRunner(tx),
		identity.WithLifecycleActivitySink(sink),
	)
	id := uuid.New()
	_, err := svc.Register(context.Background(), id, identity.NewRoleSet(identity.RoleUser))
	require.NoError(t, err)

	require.NoError(t, svc.Activate(context.Background(), identity.ActorRef{ID: "admin"}, id))
	assert.Equal(t, 1, txCalls)
	sink.AssertExpectations(t)
}
