package tokengenerator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type discriminator carried in every Tastebook JWT. The guard accepts
// only access tokens and the rotation endpoint only refresh tokens.
const (
	TOKEN_TYPE_ACCESS  = "access"
	TOKEN_TYPE_REFRESH = "refresh"
)

// Cookie names
const (
	ACCESS_TOKEN_NAME  = "access_token"
	REFRESH_TOKEN_NAME = "refresh_token"
)

// Default token expiry durations
const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
)

// IdentityClaims are the user-facing claims embedded in access tokens.
type IdentityClaims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Claims is the full Tastebook JWT claim set.
type Claims struct {
	TokenType string `json:"token_type"`
	IdentityClaims
	jwt.RegisteredClaims
}

// TokenGenerator interface defines methods for token operations
type TokenGenerator interface {
	// GenerateToken signs a token of the given type for the subject. The
	// returned jti is the registered ID claim, used as the ledger key for
	// refresh tokens.
	GenerateToken(subject, tokenType string, expiry time.Duration, identity IdentityClaims) (tokenStr string, jti string, expiresAt time.Time, err error)

	// ParseToken parses and validates a token, returning its typed claims.
	ParseToken(tokenStr string) (*Claims, error)
}

// JwtTokenGenerator implements TokenGenerator with HMAC-SHA256 signing.
type JwtTokenGenerator struct {
	Secret   string
	Issuer   string
	Audience string
}

// NewJwtTokenGenerator creates a new JwtTokenGenerator
func NewJwtTokenGenerator(secret, issuer, audience string) *JwtTokenGenerator {
	return &JwtTokenGenerator{
		Secret:   secret,
		Issuer:   issuer,
		Audience: audience,
	}
}

// GenerateToken creates a new signed token for the given subject.
func (g *JwtTokenGenerator) GenerateToken(subject, tokenType string, expiry time.Duration, identity IdentityClaims) (string, string, time.Time, error) {
	now := time.Now().UTC()
	jti := uuid.New().String()

	claims := Claims{
		TokenType:      tokenType,
		IdentityClaims: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    g.Issuer,
			Subject:   subject,
			ID:        jti,
			Audience:  jwt.ClaimStrings{g.Audience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(g.Secret))
	if err != nil {
		slog.Error("Failed to sign JWT claims", "err", err)
		return "", "", time.Time{}, err
	}
	return ss, jti, claims.ExpiresAt.Time, nil
}

// ParseToken parses and validates a token string. Signature, expiry and
// signing method are enforced here; token_type is checked by the caller
// because the acceptable type depends on the endpoint.
func (g *JwtTokenGenerator) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(g.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	return claims, nil
}
