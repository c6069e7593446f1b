package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type accountFixture struct {
	now       time.Time
	gateway   *MockIdentityGateway
	notifier  *MockNotifier
	directory *memoryDirectory
	codec     *identity.TokenCodec
	svc       *identity.AccountService
}

func newAccountFixture(t *testing.T, opts ...identity.AccountOption) *accountFixture {
	t.Helper()
	f := &accountFixture{
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		gateway:   &MockIdentityGateway{},
		notifier:  &MockNotifier{},
		directory: newMemoryDirectory(),
	}
	clock := func() time.Time { return f.now }
	f.codec = newTestCodec(t, clock)

	lifecycle := identity.NewAccountLifecycleService(f.directory,
		identity.WithLifecycleLogger(silentLogger{}),
		identity.WithLifecycleClock(clock),
	)
	base := []identity.AccountOption{
		identity.WithAccountNotifier(f.notifier),
		identity.WithAccountLinks(identity.NewLinkBuilder("https://app.example.com/")),
		identity.WithAccountLogger(silentLogger{}),
		identity.WithAccountClock(clock),
	}
	f.svc = identity.NewAccountService(f.gateway, lifecycle, f.codec, append(base, opts...)...)
	return f
}

func (f *accountFixture) seed(t *testing.T, active bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	user, err := identity.NewSystemUser(id, active, identity.NewRoleSet(identity.RoleUser))
	require.NoError(t, err)
	_, err = f.directory.Create(context.Background(), user)
	require.NoError(t, err)
	return id
}

func TestVerifyEmailActivatesAccount(t *testing.T) {
	f := newAccountFixture(t)
	id := f.seed(t, false)

	token, err := f.codec.Issue(id, "alice@x.com", identity.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)

	f.gateway.On("ActivateUser", mock.Anything, id).Return(nil).Once()

	require.NoError(t, f.svc.VerifyEmail(context.Background(), token))
	assert.True(t, f.directory.get(id).IsActive())
	f.gateway.AssertExpectations(t)
}

func TestVerifyEmailRejectsExpiredToken(t *testing.T) {
	f := newAccountFixture(t)
	id := f.seed(t, false)

	token, err := f.codec.Issue(id, "alice@x.com", identity.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)
	f.now = f.now.Add(time.Hour + 5*time.Second)

	err = f.svc.VerifyEmail(context.Background(), token)
	require.Error(t, err)
	assert.True(t, identity.IsInvalidOrExpiredToken(err))
	assert.False(t, f.directory.get(id).IsActive())
	f.gateway.AssertNotCalled(t, "ActivateUser", mock.Anything, mock.Anything)
}

func TestVerifyEmailRejectsPasswordResetToken(t *testing.T) {
	f := newAccountFixture(t)
	id := f.seed(t, false)

	token, err := f.codec.Issue(id, "alice@x.com", identity.PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	err = f.svc.VerifyEmail(context.Background(), token)
	assert.True(t, identity.IsInvalidOrExpiredToken(err))
	assert.False(t, f.directory.get(id).IsActive())
}

func TestVerifyEmailReplayFailsWhenAlreadyActive(t *testing.T) {
	f := newAccountFixture(t)
	id := f.seed(t, false)

	token, err := f.codec.Issue(id, "alice@x.com", identity.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)
	f.gateway.On("ActivateUser", mock.Anything, id).Return(nil).Twice()

	require.NoError(t, f.svc.VerifyEmail(context.Background(), token))

	err = f.svc.VerifyEmail(context.Background(), token)
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeAlreadyActive))
}

func TestVerifyEmailSurfacesProviderFailure(t *testing.T) {
	f := newAccountFixture(t)
	id := f.seed(t, false)

	token, err := f.codec.Issue(id, "alice@x.com", identity.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)
	f.gateway.On("ActivateUser", mock.Anything, id).Return(errors.New("503")).Once()

	err = f.svc.VerifyEmail(context.Background(), token)
	assert.True(t, identity.IsUpstreamFailure(err))
	assert.False(t, f.directory.get(id).IsActive())
}

func TestInitiatePasswordResetSendsLink(t *testing.T) {
	f := newAccountFixture(t)
	id := uuid.New()

	f.gateway.On("FindUserByEmail", mock.Anything, "bob@x.com").
		Return(&identity.GatewayUser{ID: id, Username: "bob", Email: "bob@x.com"}, nil).Once()

	var link string
	f.notifier.On("SendPasswordResetEmail", mock.Anything, "bob@x.com", "bob", mock.Anything).
		Run(func(args mock.Arguments) { link = args.String(3) }).
		Return(nil).Once()

	require.NoError(t, f.svc.InitiatePasswordReset(context.Background(), " bob@x.com "))
	assert.Contains(t, link, "https://app.example.com/reset-password?token=")

	subject, err := f.codec.Verify(tokenFromLink(t, link), identity.PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, id, subject)
}

func TestInitiatePasswordResetUnknownEmailIsUniform(t *testing.T) {
	f := newAccountFixture(t)

	f.gateway.On("FindUserByEmail", mock.Anything, "ghost@x.com").
		Return(nil, identity.ErrUserNotFound.Clone()).Once()

	require.NoError(t, f.svc.InitiatePasswordReset(context.Background(), "ghost@x.com"))
	f.notifier.AssertNotCalled(t, "SendPasswordResetEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiatePasswordResetFallsBackToGenericName(t *testing.T) {
	f := newAccountFixture(t)

	f.gateway.On("FindUserByEmail", mock.Anything, "anon@x.com").
		Return(&identity.GatewayUser{ID: uuid.New(), Email: "anon@x.com"}, nil).Once()
	f.notifier.On("SendPasswordResetEmail", mock.Anything, "anon@x.com", "User", mock.Anything).Return(nil).Once()

	require.NoError(t, f.svc.InitiatePasswordReset(context.Background(), "anon@x.com"))
	f.notifier.AssertExpectations(t)
}

func TestInitiatePasswordResetIsRateLimited(t *testing.T) {
	f := newAccountFixture(t, identity.WithPasswordResetRateLimit(1, 2))

	f.gateway.On("FindUserByEmail", mock.Anything, mock.Anything).
		Return(nil, identity.ErrUserNotFound.Clone())

	require.NoError(t, f.svc.InitiatePasswordReset(context.Background(), "bob@x.com"))
	require.NoError(t, f.svc.InitiatePasswordReset(context.Background(), "BOB@x.com"))

	err := f.svc.InitiatePasswordReset(context.Background(), "bob@x.com")
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeRateLimited))

	require.NoError(t, f.svc.InitiatePasswordReset(context.Background(), "carol@x.com"))

	f.now = f.now.Add(2 * time.Minute)
	require.NoError(t, f.svc.InitiatePasswordReset(context.Background(), "bob@x.com"))
}

func TestResetPassword(t *testing.T) {
	f := newAccountFixture(t)
	id := uuid.New()

	token, err := f.codec.Issue(id, "bob@x.com", identity.PurposePasswordReset, time.Hour)
	require.NoError(t, err)
	f.gateway.On("ChangePassword", mock.Anything, id, "n3w-passw0rd").Return(nil).Once()

	require.NoError(t, f.svc.ResetPassword(context.Background(), token, "n3w-passw0rd"))
	f.gateway.AssertExpectations(t)
}

func TestResetPasswordRejectsVerificationToken(t *testing.T) {
	f := newAccountFixture(t)

	token, err := f.codec.Issue(uuid.New(), "bob@x.com", identity.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)

	err = f.svc.ResetPassword(context.Background(), token, "n3w-passw0rd")
	assert.True(t, identity.IsInvalidOrExpiredToken(err))
	f.gateway.AssertNotCalled(t, "ChangePassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestChangePasswordChecksCurrentPassword(t *testing.T) {
	f := newAccountFixture(t)
	id := uuid.New()

	f.gateway.On("GetUsernameByID", mock.Anything, id).Return("bob", nil)
	f.gateway.On("VerifyPassword", mock.Anything, "bob", "wrong").Return(identity.ErrInvalidCredentials.Clone()).Once()
	f.gateway.On("VerifyPassword", mock.Anything, "bob", "right").Return(nil).Once()
	f.gateway.On("ChangePassword", mock.Anything, id, "fresh-one").Return(nil).Once()

	err := f.svc.ChangePassword(context.Background(), id, "wrong", "fresh-one")
	require.Error(t, err)
	assert.True(t, identity.IsInvalidCredentials(err))
	f.gateway.AssertNotCalled(t, "ChangePassword", mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, f.svc.ChangePassword(context.Background(), id, "right", "fresh-one"))
	f.gateway.AssertExpectations(t)
}

func TestChangeEmailDeactivatesAndSendsVerification(t *testing.T) {
	f := newAccountFixture(t)
	id := f.seed(t, true)

	f.gateway.On("ChangeEmail", mock.Anything, id, "new@x.com").Return(nil).Once()
	f.gateway.On("GetUsernameByID", mock.Anything, id).Return("", errors.New("lookup failed")).Once()

	var link string
	f.notifier.On("SendEmailVerification", mock.Anything, "new@x.com", "User", mock.Anything).
		Run(func(args mock.Arguments) { link = args.String(3) }).
		Return(nil).Once()

	require.NoError(t, f.svc.ChangeEmail(context.Background(), id, "new@x.com"))
	assert.False(t, f.directory.get(id).IsActive())

	email, ok := f.codec.ExtractEmail(tokenFromLink(t, link))
	require.True(t, ok)
	assert.Equal(t, "new@x.com", email)
}

func TestResendVerificationOnlyForInactiveAccounts(t *testing.T) {
	f := newAccountFixture(t)
	inactive := f.seed(t, false)
	active := f.seed(t, true)

	f.gateway.On("FindUserByEmail", mock.Anything, "in@x.com").
		Return(&identity.GatewayUser{ID: inactive, Username: "in", Email: "in@x.com"}, nil)
	f.gateway.On("FindUserByEmail", mock.Anything, "on@x.com").
		Return(&identity.GatewayUser{ID: active, Username: "on", Email: "on@x.com"}, nil)
	f.gateway.On("FindUserByEmail", mock.Anything, "nobody@x.com").
		Return(nil, identity.ErrUserNotFound.Clone())
	f.notifier.On("SendEmailVerification", mock.Anything, "in@x.com", "in", mock.Anything).Return(nil).Once()

	require.NoError(t, f.svc.ResendVerification(context.Background(), "in@x.com"))
	require.NoError(t, f.svc.ResendVerification(context.Background(), "on@x.com"))
	require.NoError(t, f.svc.ResendVerification(context.Background(), "nobody@x.com"))

	f.notifier.AssertNumberOfCalls(t, "SendEmailVerification", 1)
}

func TestLoginDelegatesToProvider(t *testing.T) {
	f := newAccountFixture(t)
	pair := &identity.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresIn: 300}

	f.gateway.On("IssueTokens", mock.Anything, "bob", "pw").Return(pair, nil).Once()
	f.gateway.On("IssueTokens", mock.Anything, "bob", "bad").Return(nil, identity.ErrInvalidCredentials.Clone()).Once()

	got, err := f.svc.Login(context.Background(), "bob", "pw")
	require.NoError(t, err)
	assert.Equal(t, pair, got)

	_, err = f.svc.Login(context.Background(), "bob", "bad")
	assert.True(t, identity.IsInvalidCredentials(err))
}

func TestLoginRefusesInactiveDirectoryRecord(t *testing.T) {
	var subject string
	validator := identity.AccessTokenValidatorFunc(func(_ context.Context, token string) (*identity.Principal, error) {
		return identity.NewPrincipal(subject, "bob", "", []string{"USER"}), nil
	})
	f := newAccountFixture(t, identity.WithAccountTokenValidator(validator))
	pair := &identity.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}
	f.gateway.On("IssueTokens", mock.Anything, "bob", "pw").Return(pair, nil)
	f.gateway.On("RevokeTokens", mock.Anything, "r").Return(nil)

	pending := f.seed(t, false)
	subject = pending.String()
	_, err := f.svc.Login(context.Background(), "bob", "pw")
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeAccountInactive))
	f.gateway.AssertNumberOfCalls(t, "RevokeTokens", 1)

	subject = uuid.NewString()
	_, err = f.svc.Login(context.Background(), "bob", "pw")
	assert.True(t, identity.HasTextCode(err, identity.TextCodeAccountInactive))

	active := f.seed(t, true)
	subject = active.String()
	got, err := f.svc.Login(context.Background(), "bob", "pw")
	require.NoError(t, err)
	assert.Equal(t, pair, got)
	f.gateway.AssertNumberOfCalls(t, "RevokeTokens", 2)
}

func TestLoginSurfacesProviderInactiveAccount(t *testing.T) {
	f := newAccountFixture(t)
	f.gateway.On("IssueTokens", mock.Anything, "carol", "pw").
		Return(nil, identity.WithMeta(identity.ErrAccountInactive, nil)).Once()

	_, err := f.svc.Login(context.Background(), "carol", "pw")
	assert.True(t, identity.HasTextCode(err, identity.TextCodeAccountInactive))
}

func TestLogoutNeverFails(t *testing.T) {
	f := newAccountFixture(t)
	f.gateway.On("RevokeTokens", mock.Anything, "refresh").Return(errors.New("provider down")).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.svc.Logout(ctx, "refresh")
	f.svc.Logout(ctx, "")
	f.gateway.AssertNumberOfCalls(t, "RevokeTokens", 1)
}
