package identity

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// PermissionAuthorizationService resolves the permissions granted to a
// principal's roles and administers the role to permission mappings.
//
// Readers run in parallel. Mapping writes are serialized and each one is
// followed by a single global eviction.
type PermissionAuthorizationService struct {
	store        PermissionStore
	cache        PermissionCache
	fills        singleflight.Group
	writeMu      sync.Mutex
	activitySink ActivitySink
	metrics      *Metrics
	logger       Logger
	now          func() time.Time
}

// AuthorizationOption customizes PermissionAuthorizationService construction.
type AuthorizationOption func(*PermissionAuthorizationService)

// WithPermissionCache swaps the in-memory cache, e.g. for rediscache.
func WithPermissionCache(cache PermissionCache) AuthorizationOption {
	return func(s *PermissionAuthorizationService) {
		if cache != nil {
			s.cache = cache
		}
	}
}

func WithAuthorizationActivitySink(sink ActivitySink) AuthorizationOption {
	return func(s *PermissionAuthorizationService) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

func WithAuthorizationMetrics(m *Metrics) AuthorizationOption {
	return func(s *PermissionAuthorizationService) {
		s.metrics = m
	}
}

func WithAuthorizationLogger(logger Logger) AuthorizationOption {
	return func(s *PermissionAuthorizationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuthorizationClock(now func() time.Time) AuthorizationOption {
	return func(s *PermissionAuthorizationService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewPermissionAuthorizationService(store PermissionStore, opts ...AuthorizationOption) *PermissionAuthorizationService {
	s := &PermissionAuthorizationService{
		store:        store,
		cache:        NewMemoryPermissionCache(),
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

// ResolvePermissions is a pure function of the mapping table, uncached.
// No roles resolves to the empty set.
func (s *PermissionAuthorizationService) ResolvePermissions(ctx context.Context, roles RoleSet) (PermissionSet, error) {
	if roles.Len() == 0 {
		return PermissionSet{}, nil
	}

	ctx, span := tracer.Start(ctx, "identity.ResolvePermissions")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("identity.roles", roles.Strings()))

	start := time.Now()
	mappings, err := s.store.FindByRoleIn(ctx, roles.Slice())
	s.metrics.resolved(start)
	if err != nil {
		span.RecordError(err)
		return nil, Upstream(err, "permissions.find_by_role_in")
	}

	perms := make(PermissionSet, len(mappings))
	for _, m := range mappings {
		perms[m.Permission] = struct{}{}
	}
	return perms, nil
}

// PermissionsFor returns the cached permission set of principal.
// Unauthenticated principals get the empty set without touching the store
// or the cache.
func (s *PermissionAuthorizationService) PermissionsFor(ctx context.Context, principal *Principal) (PermissionSet, error) {
	if !principal.IsAuthenticated() {
		return PermissionSet{}, nil
	}

	key := principal.CacheKey()
	generation, err := s.cache.Generation(ctx)
	if err != nil {
		s.logger.Warn("permission cache unavailable, resolving from store: %v", err)
		return s.ResolvePermissions(ctx, principal.RoleSet())
	}

	perms, ok, err := s.cache.Get(ctx, generation, key)
	if err != nil {
		s.logger.Warn("permission cache read for %s failed: %v", key, err)
	}
	if ok {
		s.metrics.cacheLookup(true)
		return perms, nil
	}
	s.metrics.cacheLookup(false)

	flightKey := strconv.FormatUint(generation, 10) + ":" + key
	v, err, _ := s.fills.Do(flightKey, func() (any, error) {
		resolved, err := s.ResolvePermissions(ctx, principal.RoleSet())
		if err != nil {
			return nil, err
		}
		if err := s.cache.Put(ctx, generation, key, resolved); err != nil {
			s.logger.Warn("permission cache write for %s failed: %v", key, err)
		}
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet), nil
}

// HasPermission denies on resolution errors.
func (s *PermissionAuthorizationService) HasPermission(ctx context.Context, principal *Principal, permission Permission) bool {
	if !principal.IsAuthenticated() {
		return false
	}
	perms, err := s.PermissionsFor(ctx, principal)
	if err != nil {
		s.logger.Error("permission check for %s failed: %v", principal.CacheKey(), err)
		return false
	}
	return perms.Has(permission)
}

// HasAnyPermission is false for an empty request.
func (s *PermissionAuthorizationService) HasAnyPermission(ctx context.Context, principal *Principal, permissions ...Permission) bool {
	if !principal.IsAuthenticated() || len(permissions) == 0 {
		return false
	}
	perms, err := s.PermissionsFor(ctx, principal)
	if err != nil {
		s.logger.Error("permission check for %s failed: %v", principal.CacheKey(), err)
		return false
	}
	return perms.HasAny(permissions...)
}

func (s *PermissionAuthorizationService) ListMappings(ctx context.Context) ([]*RolePermissionMapping, error) {
	mappings, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, Upstream(err, "permissions.find_all")
	}
	return mappings, nil
}

func (s *PermissionAuthorizationService) MappingsByRole(ctx context.Context, role Role) ([]*RolePermissionMapping, error) {
	mappings, err := s.store.FindByRole(ctx, role)
	if err != nil {
		return nil, Upstream(err, "permissions.find_by_role")
	}
	return mappings, nil
}

// CreateMapping fails with ErrDuplicateMapping when the pair exists.
func (s *PermissionAuthorizationService) CreateMapping(ctx context.Context, actor ActorRef, role Role, permission Permission) (*RolePermissionMapping, error) {
	if !role.IsValid() {
		return nil, WithMeta(ErrUnknownRole, map[string]any{"role": role})
	}
	if !permission.IsValid() {
		return nil, WithMeta(ErrUnknownPermission, map[string]any{"permission": permission})
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	exists, err := s.store.ExistsByRoleAndPermission(ctx, role, permission)
	if err != nil {
		return nil, Upstream(err, "permissions.exists")
	}
	if exists {
		return nil, WithMeta(ErrDuplicateMapping, map[string]any{
			"role":       role,
			"permission": permission,
		})
	}

	saved, err := s.store.Save(ctx, NewRolePermissionMapping(role, permission, s.now()))
	if err != nil {
		return nil, Upstream(err, "permissions.save")
	}

	s.evict(ctx)
	s.logger.Info("permission mapping created: %s -> %s", role, permission)
	s.record(ctx, actor, ActivityEventMappingCreated, map[string]any{
		"mapping_id": saved.ID.String(),
		"role":       role,
		"permission": permission,
	})
	return saved, nil
}

// DeleteMapping is idempotent: deleting an absent mapping succeeds.
func (s *PermissionAuthorizationService) DeleteMapping(ctx context.Context, actor ActorRef, id uuid.UUID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.store.DeleteByID(ctx, id); err != nil {
		return Upstream(err, "permissions.delete")
	}

	s.evict(ctx)
	s.logger.Info("permission mapping deleted: %s", id)
	s.record(ctx, actor, ActivityEventMappingDeleted, map[string]any{
		"mapping_id": id.String(),
	})
	return nil
}

// InvalidateCache evicts every cached permission set.
func (s *PermissionAuthorizationService) InvalidateCache(ctx context.Context) error {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		return Upstream(err, "permission_cache.invalidate_all")
	}
	s.metrics.cacheEvicted()
	return nil
}

func (s *PermissionAuthorizationService) evict(ctx context.Context) {
	if err := s.InvalidateCache(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("permission cache eviction failed: %v", err)
	}
}

func (s *PermissionAuthorizationService) record(ctx context.Context, actor ActorRef, kind ActivityEventType, meta map[string]any) {
	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: kind,
		Actor:     actor,
		Metadata:  meta,
	})
}
