package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aurlink/waitlist/internal/config"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuth(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return New(config.AdminConfig{
		Username:     "admin",
		PasswordHash: string(hash),
		JWTSecret:    "test-secret",
		TokenTTL:     time.Hour,
	})
}

func TestLogin(t *testing.T) {
	a := newTestAuth(t)

	token, exp, err := a.Login("admin", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)

	_, _, err = a.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Login("root", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_Disabled(t *testing.T) {
	a := New(config.AdminConfig{})
	assert.False(t, a.Enabled())

	_, _, err := a.Login("admin", "anything")
	assert.ErrorIs(t, err, ErrAdminDisabled)
}

func TestParse_RejectsExpiredAndForeignTokens(t *testing.T) {
	a := newTestAuth(t)

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := a.Sign("admin")
	require.NoError(t, err)
	a.now = time.Now

	_, err = a.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := New(config.AdminConfig{JWTSecret: "another-secret"})
	foreign, _, err := other.Sign("admin")
	require.NoError(t, err)
	_, err = a.Parse(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, Claims{Role: "admin"})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)
	token, _, err := a.Sign("admin")
	require.NoError(t, err)

	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		seen = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		build  func(r *http.Request)
		status int
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized},
		{"bad scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, http.StatusUnauthorized},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=" + token }, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/admin/ws", nil)
			tt.build(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "admin", seen)
			} else {
				assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, rec.Body.String())
			}
		})
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))

	_, err = HashPassword("")
	assert.Error(t, err)
}
