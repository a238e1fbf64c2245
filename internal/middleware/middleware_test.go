package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if ok {
			w.Header().Set("X-Client", claims.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestJWTMiddleware(t *testing.T) {
	h := JWTMiddleware(testSecret)(okHandler())

	valid, err := IssueToken(testSecret, "robot-1", "", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "robot-1", "", -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken("other-secret", "robot-1", "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"valid", "Bearer " + valid, "", http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, "", http.StatusNoContent},
		{"query token", "", "?token=" + valid, http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"basic", "Basic dXNlcjpwYXNz", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, "", http.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "robot-1", rec.Header().Get("X-Client"))
			}
		})
	}
}

func TestJWTMiddlewareDisabled(t *testing.T) {
	h := JWTMiddleware("")(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUnsignedTokenRejected(t *testing.T) {
	// alg=none token for {"sub":"x","exp":9999999999}
	none := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ4IiwiZXhwIjo5OTk5OTk5OTk5fQ."
	_, err := ParseToken(testSecret, none)
	assert.Error(t, err)
}

func TestSessionAllowed(t *testing.T) {
	assert.True(t, SessionAllowed(context.Background(), "any"))

	pinned := WithClaims(context.Background(), &Claims{Session: "s1"})
	assert.True(t, SessionAllowed(pinned, "s1"))
	assert.False(t, SessionAllowed(pinned, "s2"))

	token, err := IssueToken(testSecret, "robot", "s1", time.Hour)
	require.NoError(t, err)
	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.Session)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(0.001, 2)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	unlimited := RateLimit(0, 0)(okHandler())
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		unlimited.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}
