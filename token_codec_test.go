package auth_test

import (
	"strings"
	"testing"
	"time"

	auth "github.com/goliatone/go-account-auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newCodec(t *testing.T, purpose auth.TokenPurpose, secret string, lifetime time.Duration, clock *testClock) *auth.TokenCodec {
	t.Helper()
	codec, err := auth.NewTokenCodec(purpose, []byte(secret), lifetime,
		auth.WithCodecClock(clock.Now),
		auth.WithCodecIssuer("test-issuer"),
		auth.WithCodecLogger(nopLogger{}),
	)
	require.NoError(t, err)
	return codec
}

func TestNewTokenCodecRejectsMisconfiguration(t *testing.T) {
	_, err := auth.NewTokenCodec(auth.PurposeAccess, nil, time.Minute)
	assert.Error(t, err)

	_, err = auth.NewTokenCodec(auth.PurposeAccess, []byte("secret"), 0)
	assert.Error(t, err)
}

func TestTokenCodecIssueAndVerify(t *testing.T) {
	clock := newTestClock()
	codec := newCodec(t, auth.PurposeAccess, "access-secret", 15*time.Minute, clock)
	id := uuid.NewString()

	token, err := codec.Issue(auth.AccountClaims{
		UID:      id,
		Mail:     "a@x.com",
		Handle:   "alex",
		UserRole: "admin",
	})
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID())
	assert.Equal(t, id, claims.Subject)
	assert.Equal(t, "a@x.com", claims.Mail)
	assert.Equal(t, "alex", claims.Handle)
	assert.Equal(t, "admin", claims.Role())
	assert.Equal(t, auth.PurposeAccess, claims.Purpose)
	assert.Equal(t, "test-issuer", claims.Issuer)
	assert.Equal(t, clock.Now(), claims.IssuedAt().UTC())
	assert.Equal(t, clock.Now().Add(15*time.Minute), claims.Expires().UTC())
	assert.NotEmpty(t, claims.ID)
}

func TestTokenCodecExpiresExactlyAtLifetime(t *testing.T) {
	clock := newTestClock()
	lifetime := 15 * time.Minute
	codec := newCodec(t, auth.PurposeAccess, "access-secret", lifetime, clock)

	token, err := codec.Issue(auth.AccountClaims{UID: uuid.NewString()})
	require.NoError(t, err)

	clock.Advance(lifetime - time.Second)
	_, err = codec.Verify(token)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = codec.Verify(token)
	require.Error(t, err)
	assert.Equal(t, auth.KindTokenExpired, auth.KindOf(err))
}

func TestTokenCodecKeepsFullLifetimeWithFractionalIssueTime(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 700*int(time.Millisecond), time.UTC)}
	lifetime := 15 * time.Minute
	codec := newCodec(t, auth.PurposeAccess, "access-secret", lifetime, clock)

	token, err := codec.Issue(auth.AccountClaims{UID: uuid.NewString()})
	require.NoError(t, err)

	clock.Advance(lifetime - 500*time.Millisecond)
	_, err = codec.Verify(token)
	require.NoError(t, err, "token must stay valid for its whole lifetime")

	clock.Advance(time.Second)
	_, err = codec.Verify(token)
	require.Error(t, err)
	assert.Equal(t, auth.KindTokenExpired, auth.KindOf(err))
}

func TestTokenCodecRejectsTampering(t *testing.T) {
	clock := newTestClock()
	codec := newCodec(t, auth.PurposeAccess, "access-secret", time.Hour, clock)
	other := newCodec(t, auth.PurposeAccess, "another-secret", time.Hour, clock)

	token, err := codec.Issue(auth.AccountClaims{UID: uuid.NewString(), UserRole: "user"})
	require.NoError(t, err)
	forged, err := other.Issue(auth.AccountClaims{UID: uuid.NewString(), UserRole: "admin"})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	forgedParts := strings.Split(forged, ".")

	tests := []struct {
		name  string
		token string
	}{
		{name: "signed with another secret", token: forged},
		{name: "payload swapped", token: parts[0] + "." + forgedParts[1] + "." + parts[2]},
		{name: "signature stripped", token: parts[0] + "." + parts[1] + "."},
		{name: "garbage", token: "not-a-token"},
		{name: "empty", token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Verify(tt.token)
			require.Error(t, err)
			assert.Equal(t, auth.KindTokenMalformed, auth.KindOf(err))
		})
	}
}

func TestTokenCodecRejectsOtherPurpose(t *testing.T) {
	clock := newTestClock()
	access := newCodec(t, auth.PurposeAccess, "shared-secret", time.Hour, clock)
	verify := newCodec(t, auth.PurposeVerify, "shared-secret", time.Hour, clock)

	token, err := verify.Issue(auth.AccountClaims{UID: uuid.NewString(), Mail: "a@x.com"})
	require.NoError(t, err)

	_, err = access.Verify(token)
	require.Error(t, err)
	assert.Equal(t, auth.KindTokenMalformed, auth.KindOf(err))
}

func TestTokenCodecRejectsNoneAlgorithm(t *testing.T) {
	clock := newTestClock()
	codec := newCodec(t, auth.PurposeAccess, "access-secret", time.Hour, clock)

	claims := &auth.AccountClaims{
		UID:     uuid.NewString(),
		Purpose: auth.PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = codec.Verify(unsigned)
	require.Error(t, err)
	assert.Equal(t, auth.KindTokenMalformed, auth.KindOf(err))
}

func TestTokenCodecIssuesDistinctTokensWithinOneSecond(t *testing.T) {
	clock := newTestClock()
	codec := newCodec(t, auth.PurposeRefresh, "refresh-secret", time.Hour, clock)
	id := uuid.NewString()

	first, err := codec.Issue(auth.AccountClaims{UID: id})
	require.NoError(t, err)
	second, err := codec.Issue(auth.AccountClaims{UID: id})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestNewTokenCodecsUsesPerPurposeSettings(t *testing.T) {
	settings := testSettings()
	codecs, err := auth.NewTokenCodecs(settings)
	require.NoError(t, err)

	assert.Equal(t, auth.PurposeAccess, codecs.Access.Purpose())
	assert.Equal(t, settings.AccessTokenTTL, codecs.Access.Lifetime())
	assert.Equal(t, settings.RefreshTokenTTL, codecs.Refresh.Lifetime())
	assert.Equal(t, settings.ResetTokenTTL, codecs.Reset.Lifetime())
	assert.Equal(t, settings.VerifyTokenTTL, codecs.Verify.Lifetime())

	token, err := codecs.Reset.Issue(auth.AccountClaims{UID: uuid.NewString()})
	require.NoError(t, err)
	_, err = codecs.Verify.Verify(token)
	assert.Error(t, err)

	settings.VerifyTokenSecret = ""
	_, err = auth.NewTokenCodecs(settings)
	assert.Error(t, err)
}
