package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-tracking-server/internal/domain"
)

func TestAuthenticator_Middleware(t *testing.T) {
	env := newAPIEnv(t)
	auth := domain.AuthConfig{JWTSecret: testSecret, Issuer: "report-tracking"}

	valid, err := IssueToken(auth, "user-1", time.Hour)
	require.NoError(t, err)
	byUsername, err := IssueToken(auth, "jdoe", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(auth, "user-1", -time.Minute)
	require.NoError(t, err)
	otherIssuer, err := IssueToken(domain.AuthConfig{JWTSecret: testSecret, Issuer: "someone-else"}, "user-1", time.Hour)
	require.NoError(t, err)
	otherSecret, err := IssueToken(domain.AuthConfig{JWTSecret: "other", Issuer: "report-tracking"}, "user-1", time.Hour)
	require.NoError(t, err)
	unknownUser, err := IssueToken(auth, "ghost", time.Hour)
	require.NoError(t, err)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1", Issuer: "report-tracking"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		authz  string
		user   string
		status int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"bearer by ident", "Bearer " + valid, "", http.StatusOK},
		{"bearer by username", "Bearer " + byUsername, "", http.StatusOK},
		{"expired token", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + otherIssuer, "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + otherSecret, "", http.StatusUnauthorized},
		{"unknown subject", "Bearer " + unknownUser, "", http.StatusUnauthorized},
		{"unsigned token", "Bearer " + unsigned, "", http.StatusUnauthorized},
		{"malformed header", "Token " + valid, "", http.StatusUnauthorized},
		{"user header", "", "jdoe", http.StatusOK},
		{"unknown header user", "", "ghost", http.StatusUnauthorized},
		{"bad token wins over header", "Bearer garbage", "jdoe", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tracking/hooks", nil)
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			if tt.user != "" {
				req.Header.Set(userHeader, tt.user)
			}
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAuthenticator_HeaderDisabled(t *testing.T) {
	env := newAPIEnv(t)
	a := NewAuthenticator(domain.AuthConfig{JWTSecret: testSecret}, env.store.Users(), env.server.logger)

	_, err := a.authenticate(t.Context(), "", "jdoe")
	assert.ErrorIs(t, err, errUnauthenticated)
}

func TestAuthenticator_Anonymous(t *testing.T) {
	env := newAPIEnv(t)
	a := NewAuthenticator(domain.AuthConfig{}, env.store.Users(), env.server.logger)
	assert.False(t, a.Enabled())

	_, err := IssueToken(domain.AuthConfig{}, "user-1", time.Hour)
	assert.Error(t, err)
}

func TestAuthenticator_CachesUsers(t *testing.T) {
	env := newAPIEnv(t)
	a := NewAuthenticator(domain.AuthConfig{AllowUserHeader: true}, env.store.Users(), env.server.logger)

	first, err := a.authenticate(t.Context(), "", "user-1")
	require.NoError(t, err)
	second, err := a.authenticate(t.Context(), "", "user-1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, a.cache.Len())
}
