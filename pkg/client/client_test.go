package client

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tg "github.com/tastebook/tastebook/pkg/tokengenerator"
)

func newTestGenerator() tg.TokenGenerator {
	return tg.NewJwtTokenGenerator("test-secret-at-least-32-bytes-long", "tastebook-test", "tastebook-app")
}

func issueToken(t *testing.T, gen tg.TokenGenerator, subject, tokenType string) string {
	t.Helper()
	tokenStr, _, _, err := gen.GenerateToken(subject, tokenType, time.Minute, tg.IdentityClaims{
		Email:       "ada@example.com",
		DisplayName: "Ada",
	})
	require.NoError(t, err)
	return tokenStr
}

// protectedEcho records the AuthContext the middleware stack produced.
func protectedEcho(captured *AuthContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = GetAuthContext(r)
		w.WriteHeader(http.StatusOK)
	})
}

func TestVerifier_BearerHeader(t *testing.T) {
	gen := newTestGenerator()
	var got AuthContext
	handler := Verifier(gen)(RequireAuth(protectedEcho(&got)))

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, gen, "42", tg.TOKEN_TYPE_ACCESS))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.IsAuthenticated)
	assert.Equal(t, int64(42), got.User.UserID)
	assert.Equal(t, "ada@example.com", got.User.Email)
}

func TestVerifier_AccessTokenCookie(t *testing.T) {
	gen := newTestGenerator()
	var got AuthContext
	handler := Verifier(gen)(RequireAuth(protectedEcho(&got)))

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	req.AddCookie(&http.Cookie{Name: tg.ACCESS_TOKEN_NAME, Value: issueToken(t, gen, "7", tg.TOKEN_TYPE_ACCESS)})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), got.User.UserID)
}

func TestVerifier_HeaderWinsOverCookie(t *testing.T) {
	gen := newTestGenerator()
	var got AuthContext
	handler := Verifier(gen)(RequireAuth(protectedEcho(&got)))

	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, gen, "1", tg.TOKEN_TYPE_ACCESS))
	req.AddCookie(&http.Cookie{Name: tg.ACCESS_TOKEN_NAME, Value: issueToken(t, gen, "2", tg.TOKEN_TYPE_ACCESS)})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), got.User.UserID)
}

func TestRequireAuth_Rejections(t *testing.T) {
	gen := newTestGenerator()
	otherGen := tg.NewJwtTokenGenerator("a-completely-different-32b-secret!", "tastebook-test", "tastebook-app")

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{
			name:  "no token",
			setup: func(r *http.Request) {},
		},
		{
			name: "garbage token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not-a-jwt")
			},
		},
		{
			name: "wrong signing key",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+issueToken(t, otherGen, "42", tg.TOKEN_TYPE_ACCESS))
			},
		},
		{
			name: "refresh token instead of access",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+issueToken(t, gen, "42", tg.TOKEN_TYPE_REFRESH))
			},
		},
		{
			name: "non-numeric subject",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+issueToken(t, gen, "not-a-number", tg.TOKEN_TYPE_ACCESS))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got AuthContext
			handler := Verifier(gen)(RequireAuth(protectedEcho(&got)))

			req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, got.IsAuthenticated)
		})
	}
}

func TestVerifier_PublicRouteStaysOpen(t *testing.T) {
	gen := newTestGenerator()
	var got AuthContext
	// No RequireAuth: the verifier alone never blocks
	handler := Verifier(gen)(protectedEcho(&got))

	req := httptest.NewRequest(http.MethodGet, "/recipes/public", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, got.IsAuthenticated)
}

func TestGetAuthContext_WithoutVerifier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	authCtx := GetAuthContext(req)
	assert.False(t, authCtx.IsAuthenticated)
}
