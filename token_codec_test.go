package identity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, now func() time.Time) *identity.TokenCodec {
	t.Helper()
	codec, err := identity.NewTokenCodec(testSigningKey, identity.WithTokenClock(now), identity.WithTokenLogger(silentLogger{}))
	require.NoError(t, err)
	return codec
}

func TestTokenCodecRoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, func() time.Time { return now })
	subject := uuid.New()

	token, err := codec.Issue(subject, "ann@example.com", identity.PurposeEmailVerification, 24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	got, err := codec.Verify(token, identity.PurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, subject, got)

	email, ok := codec.ExtractEmail(token)
	require.True(t, ok)
	assert.Equal(t, "ann@example.com", email)
}

func TestTokenCodecRejectsShortKey(t *testing.T) {
	_, err := identity.NewTokenCodec([]byte("too-short"))
	require.Error(t, err)
}

func TestTokenCodecZeroTTLIsExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, func() time.Time { return now })

	token, err := codec.Issue(uuid.New(), "ann@example.com", identity.PurposePasswordReset, 0)
	require.NoError(t, err)

	_, err = codec.Verify(token, identity.PurposePasswordReset)
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTokenExpired))
}

func TestTokenCodecExpiresAfterTTL(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, func() time.Time { return current })

	token, err := codec.Issue(uuid.New(), "ann@example.com", identity.PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	current = current.Add(59 * time.Minute)
	_, err = codec.Verify(token, identity.PurposePasswordReset)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	_, err = codec.Verify(token, identity.PurposePasswordReset)
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTokenExpired))

	email, ok := codec.ExtractEmail(token)
	assert.True(t, ok, "expired tokens still decode their email")
	assert.Equal(t, "ann@example.com", email)
}

func TestTokenCodecRejectsCrossPurpose(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	token, err := codec.Issue(uuid.New(), "ann@example.com", identity.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)

	_, err = codec.Verify(token, identity.PurposePasswordReset)
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTokenPurposeMismatch))
}

func TestTokenCodecRejectsTamperedToken(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	token, err := codec.Issue(uuid.New(), "ann@example.com", identity.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = codec.Verify(tampered, identity.PurposeEmailVerification)
	require.Error(t, err)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTokenMalformed))

	_, ok := codec.ExtractEmail(tampered)
	assert.False(t, ok)
}

func TestTokenCodecRejectsForeignKey(t *testing.T) {
	codec := newTestCodec(t, time.Now)
	other, err := identity.NewTokenCodec([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	token, err := other.Issue(uuid.New(), "ann@example.com", identity.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)

	_, err = codec.Verify(token, identity.PurposeEmailVerification)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTokenMalformed))
}

func TestTokenCodecRejectsOtherAlgorithms(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	claims := &identity.VerificationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Purpose: identity.PurposeEmailVerification,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSigningKey)
	require.NoError(t, err)

	_, err = codec.Verify(token, identity.PurposeEmailVerification)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTokenMalformed))

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = codec.Verify(none, identity.PurposeEmailVerification)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTokenMalformed))
}

func TestTokenCodecRejectsGarbage(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	for _, token := range []string{"", "abc", "a.b.c"} {
		_, err := codec.Verify(token, identity.PurposeEmailVerification)
		assert.True(t, identity.HasTextCode(err, identity.TextCodeTokenMalformed), token)
	}

	_, ok := codec.ExtractEmail("not-a-token")
	assert.False(t, ok)
}

func TestTokenCodecRejectsNonUUIDSubject(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	claims := &identity.VerificationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Purpose: identity.PurposeEmailVerification,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	require.NoError(t, err)

	_, err = codec.Verify(token, identity.PurposeEmailVerification)
	assert.True(t, identity.HasTextCode(err, identity.TextCodeTokenMalformed))
}
