package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour)
	m.now = func() time.Time { return now }

	token, err := m.Generate("ci")
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.Equal(t, scopeTrigger, claims.Scope)
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestTokenExpired(t *testing.T) {
	m := NewTokenManager(testSecret, time.Minute)
	m.now = func() time.Time { return now }
	token, err := m.Generate("ci")
	require.NoError(t, err)

	m.now = func() time.Time { return now.Add(time.Hour) }
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenRejected(t *testing.T) {
	m := NewTokenManager(testSecret, 0)
	other := NewTokenManager("another-secret-another-secret-xx", 0)
	forged, err := other.Generate("ci")
	require.NoError(t, err)
	_, err = m.Validate(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongScope := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Scope:            "runs:read",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
	})
	raw, err := wrongScope.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = m.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTriggerRequiresToken(t *testing.T) {
	tokens := NewTokenManager(testSecret, time.Hour)
	tokens.now = func() time.Time { return now }
	s, sched := newTestServer(t, Options{Tokens: tokens})

	w := do(t, s, http.MethodPost, "/runs")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="shopwalk"`, w.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, sched.triggered)

	token, err := tokens.Generate("ci")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"journey"}, sched.triggered)

	// Reads stay open.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/runs").Code)
}
