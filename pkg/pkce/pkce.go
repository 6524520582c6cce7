package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// ChallengeMethod represents the PKCE challenge method
type ChallengeMethod string

const (
	// ChallengePlain represents the "plain" challenge method (not recommended for production)
	ChallengePlain ChallengeMethod = "plain"
	// ChallengeS256 represents the "S256" challenge method (recommended)
	ChallengeS256 ChallengeMethod = "S256"
)

// Material holds everything generated for one authorization attempt: the
// code verifier kept server-side, the derived S256 challenge sent to the
// provider, and the CSRF state round-tripped through the provider.
type Material struct {
	Verifier  string
	Challenge string
	State     string
}

// GenerateCodeVerifier generates a cryptographically random code verifier.
// The code verifier is a random string over [A-Z] / [a-z] / [0-9] / "-" / "." /
// "_" / "~", with a minimum length of 43 characters and a maximum of 128.
func GenerateCodeVerifier() (string, error) {
	// 32 random bytes become 43 characters when base64url encoded
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateState generates a cryptographically random state parameter.
func GenerateState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// ChallengeFromVerifier derives the code challenge for the given verifier
// using the specified method.
func ChallengeFromVerifier(verifier string, method ChallengeMethod) (string, error) {
	switch method {
	case ChallengePlain:
		return verifier, nil
	case ChallengeS256:
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]), nil
	default:
		return "", fmt.Errorf("unsupported challenge method: %s", method)
	}
}

// Generate produces a fresh verifier, its S256 challenge and a state token.
func Generate() (*Material, error) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, err
	}

	challenge, err := ChallengeFromVerifier(verifier, ChallengeS256)
	if err != nil {
		return nil, err
	}

	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	return &Material{
		Verifier:  verifier,
		Challenge: challenge,
		State:     state,
	}, nil
}

// ValidateCodeVerifier validates that a code verifier matches the given code challenge
func ValidateCodeVerifier(verifier string, challenge string, method ChallengeMethod) error {
	if verifier == "" {
		return fmt.Errorf("code verifier cannot be empty")
	}

	if challenge == "" {
		return fmt.Errorf("code challenge cannot be empty")
	}

	// Validate verifier length (43-128 characters)
	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("code verifier must be between 43 and 128 characters")
	}

	if !isValidCodeVerifier(verifier) {
		return fmt.Errorf("code verifier contains invalid characters")
	}

	expected, err := ChallengeFromVerifier(verifier, method)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) != 1 {
		return fmt.Errorf("code verifier does not match challenge")
	}

	return nil
}

// StatesEqual compares two state parameters byte-for-byte in constant time.
func StatesEqual(a, b string) bool {
	return len(a) > 0 && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// IsValidChallengeMethod checks if the given challenge method is valid
func IsValidChallengeMethod(method string) bool {
	return method == string(ChallengePlain) || method == string(ChallengeS256)
}

// isValidCodeVerifier checks if the code verifier contains only allowed characters
func isValidCodeVerifier(verifier string) bool {
	allowedChars := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
	for _, char := range verifier {
		if !strings.ContainsRune(allowedChars, char) {
			return false
		}
	}
	return true
}
