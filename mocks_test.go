package identity_test

import (
	"context"
	"sync"
	"sync/atomic"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockIdentityGateway implements identity.IdentityGateway
type MockIdentityGateway struct {
	mock.Mock
}

func (m *MockIdentityGateway) CreateUser(ctx context.Context, req identity.NewIdentity) (uuid.UUID, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockIdentityGateway) DeleteUser(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityGateway) ActivateUser(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityGateway) ChangePassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	args := m.Called(ctx, id, newPassword)
	return args.Error(0)
}

func (m *MockIdentityGateway) ChangeEmail(ctx context.Context, id uuid.UUID, newEmail string) error {
	args := m.Called(ctx, id, newEmail)
	return args.Error(0)
}

func (m *MockIdentityGateway) VerifyPassword(ctx context.Context, username, password string) error {
	args := m.Called(ctx, username, password)
	return args.Error(0)
}

func (m *MockIdentityGateway) GetUsernameByID(ctx context.Context, id uuid.UUID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityGateway) FindUserByEmail(ctx context.Context, email string) (*identity.GatewayUser, error) {
	args := m.Called(ctx, email)
	if u := args.Get(0); u != nil {
		return u.(*identity.GatewayUser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdentityGateway) IssueTokens(ctx context.Context, username, password string) (*identity.TokenPair, error) {
	args := m.Called(ctx, username, password)
	if p := args.Get(0); p != nil {
		return p.(*identity.TokenPair), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdentityGateway) RefreshTokens(ctx context.Context, refreshToken string) (*identity.TokenPair, error) {
	args := m.Called(ctx, refreshToken)
	if p := args.Get(0); p != nil {
		return p.(*identity.TokenPair), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdentityGateway) RevokeTokens(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

// MockNotifier implements identity.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendEmailVerification(ctx context.Context, email, username, link string) error {
	args := m.Called(ctx, email, username, link)
	return args.Error(0)
}

func (m *MockNotifier) SendPasswordResetEmail(ctx context.Context, email, username, link string) error {
	args := m.Called(ctx, email, username, link)
	return args.Error(0)
}

func (m *MockNotifier) SendWelcomeEmail(ctx context.Context, email, username string) error {
	args := m.Called(ctx, email, username)
	return args.Error(0)
}

// MockActivitySink implements identity.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event identity.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// memoryDirectory is an in-memory identity.UserDirectory with optional
// failure injection.
type memoryDirectory struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*identity.SystemUser
	createErr error
	saveErr   error
	creates   int
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{users: map[uuid.UUID]*identity.SystemUser{}}
}

func (d *memoryDirectory) Create(_ context.Context, user *identity.SystemUser) (*identity.SystemUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creates++
	if d.createErr != nil {
		return nil, d.createErr
	}
	if _, ok := d.users[user.ID()]; ok {
		return nil, identity.ErrUserExists.Clone()
	}
	user.MarkStored(1)
	d.users[user.ID()] = copyUser(user)
	return user, nil
}

func (d *memoryDirectory) FindByID(_ context.Context, id uuid.UUID) (*identity.SystemUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound.Clone()
	}
	return copyUser(u), nil
}

func (d *memoryDirectory) FindAll(context.Context) ([]*identity.SystemUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*identity.SystemUser, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, copyUser(u))
	}
	return out, nil
}

func (d *memoryDirectory) Save(_ context.Context, user *identity.SystemUser) (*identity.SystemUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saveErr != nil {
		return nil, d.saveErr
	}
	v, _ := user.Version()
	user.MarkStored(v + 1)
	d.users[user.ID()] = copyUser(user)
	return user, nil
}

func (d *memoryDirectory) get(id uuid.UUID) *identity.SystemUser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[id]
}

func copyUser(u *identity.SystemUser) *identity.SystemUser {
	v, _ := u.Version()
	return identity.ReconstituteSystemUser(u.ID(), u.IsActive(), u.Roles(), v)
}

// memoryPermissionStore is an in-memory identity.PermissionStore that
// counts reads so tests can observe cache behavior.
type memoryPermissionStore struct {
	mu       sync.RWMutex
	mappings map[uuid.UUID]*identity.RolePermissionMapping
	reads    atomic.Int64
	readHook func()
}

func newMemoryPermissionStore(seed ...*identity.RolePermissionMapping) *memoryPermissionStore {
	s := &memoryPermissionStore{mappings: map[uuid.UUID]*identity.RolePermissionMapping{}}
	for _, m := range seed {
		s.mappings[m.ID] = m
	}
	return s
}

func (s *memoryPermissionStore) FindByRoleIn(_ context.Context, roles []identity.Role) ([]*identity.RolePermissionMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.reads.Add(1)
	if s.readHook != nil {
		s.readHook()
	}
	wanted := identity.NewRoleSet(roles...)
	var out []*identity.RolePermissionMapping
	for _, m := range s.mappings {
		if wanted.Has(m.Role) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryPermissionStore) FindByRole(ctx context.Context, role identity.Role) ([]*identity.RolePermissionMapping, error) {
	return s.FindByRoleIn(ctx, []identity.Role{role})
}

func (s *memoryPermissionStore) ExistsByRoleAndPermission(_ context.Context, role identity.Role, permission identity.Permission) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.mappings {
		if m.Role == role && m.Permission == permission {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryPermissionStore) Save(_ context.Context, mapping *identity.RolePermissionMapping) (*identity.RolePermissionMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[mapping.ID] = mapping
	return mapping, nil
}

func (s *memoryPermissionStore) DeleteByID(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, id)
	return nil
}

func (s *memoryPermissionStore) FindAll(context.Context) ([]*identity.RolePermissionMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*identity.RolePermissionMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		out = append(out, m)
	}
	return out, nil
}

func (s *memoryPermissionStore) readCount() int {
	return int(s.reads.Load())
}

// silentLogger discards everything
type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")
