package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "pingme/internal/errors"
	"pingme/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "auth-test-secret-value"

func newTestManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(models.AuthConfig{TokenSecret: testSecret, KeyIterations: 1000, TokenTTLHours: 1})
	require.NoError(t, err)
	return m
}

func TestNewTokenManager_RejectsShortSecret(t *testing.T) {
	_, err := NewTokenManager(models.AuthConfig{TokenSecret: "short"})
	assert.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	a := DeriveKey("secret", "salt", 1000)
	assert.Len(t, a, keySize)
	assert.Equal(t, a, DeriveKey("secret", "salt", 1000))
	assert.NotEqual(t, a, DeriveKey("secret", "other-salt", 1000))
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager(t)

	token, err := m.Issue("user-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)

	_, err = m.Issue("", "nobody")
	assert.Error(t, err)
}

func TestVerify_Failures(t *testing.T) {
	m := newTestManager(t)
	valid, err := m.Issue("user-1", "alice")
	require.NoError(t, err)

	other, err := NewTokenManager(models.AuthConfig{TokenSecret: "a-different-secret-value", KeyIterations: 1000})
	require.NoError(t, err)
	foreign, err := other.Issue("user-1", "alice")
	require.NoError(t, err)

	expiredManager := newTestManager(t)
	expiredManager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredManager.Issue("user-1", "alice")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(m.key)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"tampered":   valid[:len(valid)-2] + "xx",
		"foreign":    foreign,
		"expired":    expired,
		"alg none":   none,
		"no subject": noSubject,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Verify(token)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeUnauthenticated, apperrors.GetCode(err))
		})
	}
}

func TestRequireUser(t *testing.T) {
	m := newTestManager(t)
	logger, _ := test.NewNullLogger()
	token, err := m.Issue("user-42", "bob")
	require.NoError(t, err)

	var seen string
	handler := RequireUser(m, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("bearer header", func(t *testing.T) {
		seen = ""
		r := httptest.NewRequest(http.MethodGet, "/api/messages/unread", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "user-42", seen)
	})

	t.Run("cookie", func(t *testing.T) {
		seen = ""
		r := httptest.NewRequest(http.MethodGet, "/api/messages/unread", nil)
		r.AddCookie(&http.Cookie{Name: "token", Value: token})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "user-42", seen)
	})

	t.Run("query string is not accepted", func(t *testing.T) {
		seen = ""
		r := httptest.NewRequest(http.MethodGet, "/api/messages/unread?token="+token, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, seen)
		assert.Contains(t, w.Body.String(), `"UNAUTHENTICATED"`)
	})
}

func TestAuthenticate(t *testing.T) {
	m := newTestManager(t)
	token, err := m.Issue("user-7", "carol")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	userID, err := Authenticate(m, r)
	require.NoError(t, err)
	assert.Equal(t, "user-7", userID)

	_, err = Authenticate(m, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Error(t, err)
}

func TestUserIDFromContext_Empty(t *testing.T) {
	assert.Empty(t, UserIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
