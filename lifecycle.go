package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PermissionCacheInvalidator evicts every cached permission set
type PermissionCacheInvalidator interface {
	InvalidateCache(ctx context.Context) error
}

// AccountLifecycleService enforces the SystemUser state machine and saves
// after each mutation.
type AccountLifecycleService struct {
	users        UserDirectory
	tx           TxRunner
	invalidator  PermissionCacheInvalidator
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

// LifecycleOption customizes AccountLifecycleService construction.
type LifecycleOption func(*AccountLifecycleService)

func WithLifecycleTxRunner(tx TxRunner) LifecycleOption {
	return func(s *AccountLifecycleService) {
		s.tx = normalizeTxRunner(tx)
	}
}

// WithLifecycleCacheInvalidator evicts cached permissions after role changes.
func WithLifecycleCacheInvalidator(inv PermissionCacheInvalidator) LifecycleOption {
	return func(s *AccountLifecycleService) {
		s.invalidator = inv
	}
}

func WithLifecycleActivitySink(sink ActivitySink) LifecycleOption {
	return func(s *AccountLifecycleService) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(s *AccountLifecycleService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(s *AccountLifecycleService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAccountLifecycleService(users UserDirectory, opts ...LifecycleOption) *AccountLifecycleService {
	s := &AccountLifecycleService{
		users:        users,
		tx:           noTx{},
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateUser is the administrative create path, active is explicit.
func (s *AccountLifecycleService) CreateUser(ctx context.Context, actor ActorRef, id uuid.UUID, active bool, roles RoleSet) (*SystemUser, error) {
	user, err := NewSystemUser(id, active, roles)
	if err != nil {
		return nil, err
	}

	var created *SystemUser
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.FindByID(ctx, id); err == nil {
			return WithMeta(ErrUserExists, map[string]any{"user_id": id.String()})
		} else if !IsNotFound(err) {
			return Upstream(err, "directory.find_by_id")
		}

		created, err = s.users.Create(ctx, user)
		return Upstream(err, "directory.create")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user %s created with roles %v", id, roles.Strings())
	s.record(ctx, actor, ActivityEventUserCreated, id, map[string]any{
		"active": active,
		"roles":  roles.Strings(),
	})
	return created, nil
}

// Register records a self-registered account: inactive with roles.
func (s *AccountLifecycleService) Register(ctx context.Context, id uuid.UUID, roles RoleSet) (*SystemUser, error) {
	user, err := NewSystemUser(id, false, roles)
	if err != nil {
		return nil, err
	}
	created, err := s.users.Create(ctx, user)
	if err != nil {
		return nil, Upstream(err, "directory.create")
	}
	return created, nil
}

func (s *AccountLifecycleService) GetUser(ctx context.Context, id uuid.UUID) (*SystemUser, error) {
	s.logger.Debug("fetching user by id: %s", id)
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, Upstream(err, "directory.find_by_id")
	}
	return user, nil
}

func (s *AccountLifecycleService) ListUsers(ctx context.Context) ([]*SystemUser, error) {
	users, err := s.users.FindAll(ctx)
	if err != nil {
		return nil, Upstream(err, "directory.find_all")
	}
	return users, nil
}

// Activate fails with ErrAlreadyActive for active users.
func (s *AccountLifecycleService) Activate(ctx context.Context, actor ActorRef, id uuid.UUID) error {
	err := s.mutate(ctx, id, func(u *SystemUser) error {
		return u.Activate()
	})
	if err != nil {
		return err
	}
	s.logger.Info("user %s activated", id)
	s.record(ctx, actor, ActivityEventUserActivated, id, nil)
	return nil
}

// Deactivate is the administrative path: requester may not deactivate
// their own account.
func (s *AccountLifecycleService) Deactivate(ctx context.Context, id, requesterID uuid.UUID) error {
	err := s.mutate(ctx, id, func(u *SystemUser) error {
		return u.Deactivate(requesterID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("user %s deactivated by %s", id, requesterID)
	s.record(ctx, ActorRef{ID: requesterID.String(), Type: "user"}, ActivityEventUserDeactivated, id, nil)
	return nil
}

// DeactivateSelf forces re-verification, there is no self check.
func (s *AccountLifecycleService) DeactivateSelf(ctx context.Context, id uuid.UUID) error {
	err := s.mutate(ctx, id, func(u *SystemUser) error {
		return u.DeactivateSelf()
	})
	if err != nil {
		return err
	}
	s.logger.Info("user %s deactivated pending re-verification", id)
	s.record(ctx, ActorRef{ID: id.String(), Type: "user"}, ActivityEventUserDeactivated, id, map[string]any{
		"self": true,
	})
	return nil
}

// ReplaceRoles swaps the role set atomically. Empty sets are rejected.
func (s *AccountLifecycleService) ReplaceRoles(ctx context.Context, actor ActorRef, id uuid.UUID, roles RoleSet) error {
	err := s.mutate(ctx, id, func(u *SystemUser) error {
		return u.ReplaceRoles(roles)
	})
	if err != nil {
		return err
	}

	if s.invalidator != nil {
		if err := s.invalidator.InvalidateCache(ctx); err != nil {
			s.logger.Warn("permission cache eviction after role change failed: %v", err)
		}
	}

	s.logger.Info("roles for user %s replaced with %v", id, roles.Strings())
	s.record(ctx, actor, ActivityEventUserRolesReplaced, id, map[string]any{
		"roles": roles.Strings(),
	})
	return nil
}

func (s *AccountLifecycleService) mutate(ctx context.Context, id uuid.UUID, fn func(*SystemUser) error) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.FindByID(ctx, id)
		if err != nil {
			return Upstream(err, "directory.find_by_id")
		}
		if err := fn(user); err != nil {
			return err
		}
		_, err = s.users.Save(ctx, user)
		return Upstream(err, "directory.save")
	})
}

func (s *AccountLifecycleService) record(ctx context.Context, actor ActorRef, kind ActivityEventType, id uuid.UUID, meta map[string]any) {
	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: kind,
		Actor:     actor,
		UserID:    id.String(),
		Metadata:  meta,
	})
}
