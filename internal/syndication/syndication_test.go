package syndication

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/pluginrt/internal/hooks"
)

// newTestService builds a Service with no database behind it. Create/Token
// need a live object store and so are left to integration testing; the
// signing/verification/revocation logic under test here never touches db.
func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(nil, hooks.New(), "refresh-secret", "access-secret", "pluginrt", nil)
}

func TestAccessTokenTTLIsSixtySeconds(t *testing.T) {
	assert.Equal(t, 60*time.Second, accessTokenTTL)
}

func TestBypassVerifySkipsValidation(t *testing.T) {
	s := newTestService(t)
	clientID, userRef, err := s.Verify("not-a-real-token", true)
	require.NoError(t, err)
	assert.Equal(t, "", clientID)
	assert.Equal(t, "", userRef)
}

func TestRevokedRefreshTokenIsRejected(t *testing.T) {
	s := newTestService(t)
	token, err := s.signRefresh("client-1")
	require.NoError(t, err)

	s.Revoke(token)
	_, err = s.verifyRefresh(token)
	require.ErrorIs(t, err, ErrRevoked)
}

func TestUnrevokedRefreshTokenVerifiesToItsClientID(t *testing.T) {
	s := newTestService(t)
	token, err := s.signRefresh("client-1")
	require.NoError(t, err)

	clientID, err := s.verifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "client-1", clientID)
}

func TestSignAndVerifyAccessToken(t *testing.T) {
	s := newTestService(t)
	claims := accessClaims{
		ClientID: "c1",
		UserRef:  "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(accessTokenTTL)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	require.NoError(t, err)

	clientID, userRef, err := s.Verify(tok, false)
	require.NoError(t, err)
	assert.Equal(t, "c1", clientID)
	assert.Equal(t, "u1", userRef)
}

func TestExpiredAccessTokenFailsVerify(t *testing.T) {
	s := newTestService(t)
	claims := accessClaims{
		ClientID: "c1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	require.NoError(t, err)

	_, _, err = s.Verify(tok, false)
	require.Error(t, err)
}

func TestAccessTokenSignedWithWrongSecretFailsVerify(t *testing.T) {
	s := newTestService(t)
	claims := accessClaims{ClientID: "c1"}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, _, err = s.Verify(tok, false)
	require.Error(t, err)
}
