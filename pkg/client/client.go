// Package client authenticates incoming requests against issued access
// tokens and exposes the authenticated user to downstream handlers.
package client

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tg "github.com/tastebook/tastebook/pkg/tokengenerator"
)

// AuthUser is the authenticated caller as carried in the request context.
type AuthUser struct {
	UserID      int64  `json:"user_id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (u AuthUser) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("user_id", u.UserID),
		slog.String("email", u.Email),
	)
}

// AuthContext is what the verifier middleware stores in the request context.
type AuthContext struct {
	IsAuthenticated bool
	User            AuthUser
}

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation. This technique
// for defining context keys was copied from Go 1.7's new use of context in net/http.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "tastebook context value " + k.name
}

var AuthContextKey = &contextKey{"AuthContext"}

// GetAuthContext returns the AuthContext for the request. Requests that never
// passed through the verifier middleware get an unauthenticated context.
func GetAuthContext(r *http.Request) AuthContext {
	if authCtx, ok := r.Context().Value(AuthContextKey).(AuthContext); ok {
		return authCtx
	}
	return AuthContext{}
}

// TokenFromHeader extracts a bearer token from the Authorization header.
func TokenFromHeader(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return header[7:]
	}
	return ""
}

// TokenFromCookie extracts the access token cookie.
func TokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(tg.ACCESS_TOKEN_NAME)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Verifier returns a middleware that validates the access token from the
// Authorization header or the access_token cookie and stores the result in
// the request context. It never rejects: enforcement belongs to RequireAuth
// so public and protected routes can share the verifier.
func Verifier(tokenGen tg.TokenGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := verifyRequest(tokenGen, r)
			ctx := context.WithValue(r.Context(), AuthContextKey, authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyRequest(tokenGen tg.TokenGenerator, r *http.Request) AuthContext {
	tokenStr := TokenFromHeader(r)
	if tokenStr == "" {
		tokenStr = TokenFromCookie(r)
	}
	if tokenStr == "" {
		return AuthContext{}
	}

	claims, err := tokenGen.ParseToken(tokenStr)
	if err != nil {
		slog.Debug("Access token rejected", "err", err)
		return AuthContext{}
	}

	// Refresh tokens never authenticate a request
	if claims.TokenType != tg.TOKEN_TYPE_ACCESS {
		slog.Debug("Non-access token presented for authentication", "token_type", claims.TokenType)
		return AuthContext{}
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		slog.Warn("Access token carries non-numeric subject", "subject", claims.Subject)
		return AuthContext{}
	}

	return AuthContext{
		IsAuthenticated: true,
		User: AuthUser{
			UserID:      userID,
			Email:       claims.Email,
			DisplayName: claims.DisplayName,
			AvatarURL:   claims.AvatarURL,
		},
	}
}
