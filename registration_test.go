package identity_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type registrationFixture struct {
	gateway   *MockIdentityGateway
	notifier  *MockNotifier
	directory *memoryDirectory
	codec     *identity.TokenCodec
	events    []identity.Event
	metrics   *identity.Metrics
	orch      *identity.RegistrationOrchestrator
}

func newRegistrationFixture(t *testing.T) *registrationFixture {
	t.Helper()
	f := &registrationFixture{
		gateway:   &MockIdentityGateway{},
		notifier:  &MockNotifier{},
		directory: newMemoryDirectory(),
		codec:     newTestCodec(t, time.Now),
		metrics:   identity.NewMetrics(prometheus.NewRegistry()),
	}
	lifecycle := identity.NewAccountLifecycleService(f.directory, identity.WithLifecycleLogger(silentLogger{}))
	publisher := identity.EventPublisherFunc(func(_ context.Context, e identity.Event) error {
		f.events = append(f.events, e)
		return nil
	})
	f.orch = identity.NewRegistrationOrchestrator(f.gateway, lifecycle, f.codec,
		identity.WithRegistrationNotifier(f.notifier),
		identity.WithRegistrationPublisher(publisher),
		identity.WithRegistrationLinks(identity.NewLinkBuilder("https://app.example.com")),
		identity.WithRegistrationMetrics(f.metrics),
		identity.WithRegistrationLogger(silentLogger{}),
	)
	return f
}

func aliceMessage() identity.RegisterUserMessage {
	return identity.RegisterUserMessage{
		Username:  "alice",
		Email:     "alice@x.com",
		Password:  "pw123456",
		FirstName: "A",
		LastName:  "L",
	}
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestRegisterUserHappyPath(t *testing.T) {
	f := newRegistrationFixture(t)
	id := uuid.New()

	f.gateway.On("CreateUser", mock.Anything, identity.NewIdentity{
		Username:  "alice",
		Email:     "alice@x.com",
		Password:  "pw123456",
		FirstName: "A",
		LastName:  "L",
	}).Return(id, nil).Once()

	var links []string
	f.notifier.On("SendEmailVerification", mock.Anything, "alice@x.com", "alice", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { links = append(links, args.String(3)) }).
		Return(nil).Once()

	got, err := f.orch.RegisterUser(context.Background(), aliceMessage())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	user := f.directory.get(id)
	require.NotNil(t, user)
	assert.False(t, user.IsActive())
	assert.True(t, user.Roles().Equal(identity.NewRoleSet(identity.RoleUser)))

	require.Len(t, links, 1)
	subject, err := f.codec.Verify(tokenFromLink(t, links[0]), identity.PurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, id, subject)

	require.Len(t, f.events, 1)
	registered, ok := f.events[0].(identity.UserRegistered)
	require.True(t, ok)
	assert.Equal(t, id.String(), registered.UserID)
	assert.Equal(t, "alice@x.com", registered.Email)
	assert.NotEmpty(t, registered.EventID)

	f.gateway.AssertNotCalled(t, "DeleteUser", mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Registrations.WithLabelValues("success")))
}

func TestRegisterUserCompensatesDirectoryFailure(t *testing.T) {
	f := newRegistrationFixture(t)
	id := uuid.New()
	f.directory.createErr = errors.New("connection reset")

	f.gateway.On("CreateUser", mock.Anything, mock.Anything).Return(id, nil).Once()
	f.gateway.On("DeleteUser", mock.Anything, id).Return(nil).Once()

	_, err := f.orch.RegisterUser(context.Background(), aliceMessage())
	require.Error(t, err)
	assert.True(t, identity.IsUpstreamFailure(err))

	f.gateway.AssertNumberOfCalls(t, "DeleteUser", 1)
	f.gateway.AssertExpectations(t)
	f.notifier.AssertNotCalled(t, "SendEmailVerification", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.events)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Registrations.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Compensations.WithLabelValues("registration", "success")))
}

func TestRegisterUserCompensatesDuplicateDirectoryRecord(t *testing.T) {
	f := newRegistrationFixture(t)
	id := uuid.New()

	existing, err := identity.NewSystemUser(id, true, identity.NewRoleSet(identity.RoleAdmin))
	require.NoError(t, err)
	_, err = f.directory.Create(context.Background(), existing)
	require.NoError(t, err)

	f.gateway.On("CreateUser", mock.Anything, mock.Anything).Return(id, nil).Once()
	f.gateway.On("DeleteUser", mock.Anything, id).Return(nil).Once()

	_, err = f.orch.RegisterUser(context.Background(), aliceMessage())
	require.Error(t, err)
	assert.True(t, identity.IsConflict(err))
	f.gateway.AssertNumberOfCalls(t, "DeleteUser", 1)
}

func TestRegisterUserKeepsOriginalErrorWhenDeleteFails(t *testing.T) {
	f := newRegistrationFixture(t)
	id := uuid.New()
	f.directory.createErr = errors.New("disk full")

	f.gateway.On("CreateUser", mock.Anything, mock.Anything).Return(id, nil).Once()
	f.gateway.On("DeleteUser", mock.Anything, id).Return(errors.New("provider down")).Once()

	_, err := f.orch.RegisterUser(context.Background(), aliceMessage())
	require.Error(t, err)
	assert.True(t, identity.IsUpstreamFailure(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Compensations.WithLabelValues("registration", "failure")))
}

func TestRegisterUserGatewayConflictSkipsCompensation(t *testing.T) {
	f := newRegistrationFixture(t)

	f.gateway.On("CreateUser", mock.Anything, mock.Anything).
		Return(uuid.Nil, identity.WithMeta(identity.ErrUserExists, map[string]any{"username": "alice"})).Once()

	_, err := f.orch.RegisterUser(context.Background(), aliceMessage())
	require.Error(t, err)
	assert.True(t, identity.IsConflict(err))
	f.gateway.AssertNotCalled(t, "DeleteUser", mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.directory.creates)
}

func TestRegisterUserSwallowsNotificationFailure(t *testing.T) {
	f := newRegistrationFixture(t)
	id := uuid.New()

	f.gateway.On("CreateUser", mock.Anything, mock.Anything).Return(id, nil).Once()
	f.notifier.On("SendEmailVerification", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp timeout")).Once()

	got, err := f.orch.RegisterUser(context.Background(), aliceMessage())
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Len(t, f.events, 1)
	f.gateway.AssertNotCalled(t, "DeleteUser", mock.Anything, mock.Anything)
}

func TestRegisterUserSanitizesProfileFields(t *testing.T) {
	f := newRegistrationFixture(t)
	id := uuid.New()

	f.gateway.On("CreateUser", mock.Anything, mock.MatchedBy(func(req identity.NewIdentity) bool {
		return req.FirstName == "Ann" && req.Username == "alice"
	})).Return(id, nil).Once()
	f.notifier.On("SendEmailVerification", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	msg := aliceMessage()
	msg.FirstName = "<b>Ann</b>"
	msg.Username = " alice "

	_, err := f.orch.RegisterUser(context.Background(), msg)
	require.NoError(t, err)
	f.gateway.AssertExpectations(t)
}

func TestRegisterUserKeepsSpecialCharacters(t *testing.T) {
	f := newRegistrationFixture(t)
	id := uuid.New()

	var sent identity.NewIdentity
	f.gateway.On("CreateUser", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(identity.NewIdentity) }).
		Return(id, nil).Once()
	f.notifier.On("SendEmailVerification", mock.Anything, mock.Anything, "tom&jerry", mock.Anything).Return(nil).Once()

	msg := aliceMessage()
	msg.Username = "tom&jerry"
	msg.FirstName = "Zoë & Ann"
	msg.LastName = "O'Brien"

	_, err := f.orch.RegisterUser(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "tom&jerry", sent.Username)
	assert.Equal(t, "Zoë & Ann", sent.FirstName)
	assert.Equal(t, "O'Brien", sent.LastName)
	f.notifier.AssertExpectations(t)
}

func TestRegisterUserRejectsMarkupInUsername(t *testing.T) {
	cases := []string{"<b>x</b>", "<i></i>", "two words", ""}
	for _, username := range cases {
		t.Run(username, func(t *testing.T) {
			f := newRegistrationFixture(t)
			msg := aliceMessage()
			msg.Username = username

			_, err := f.orch.RegisterUser(context.Background(), msg)
			require.Error(t, err)
			assert.True(t, identity.HasTextCode(err, identity.TextCodeInvalidRequest))
			f.gateway.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
		})
	}
}

func TestValidUsername(t *testing.T) {
	assert.True(t, identity.ValidUsername("tom&jerry"))
	assert.True(t, identity.ValidUsername("o'brien.dev@example.com"))
	assert.False(t, identity.ValidUsername("<script>"))
	assert.False(t, identity.ValidUsername("a\tb"))
	assert.False(t, identity.ValidUsername(""))
}

func TestRegisterUserCancelledContext(t *testing.T) {
	f := newRegistrationFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.RegisterUser(ctx, aliceMessage())
	require.Error(t, err)
	f.gateway.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}
