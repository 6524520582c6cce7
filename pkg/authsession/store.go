// Package authsession provides ephemeral storage for in-flight PKCE
// authorization attempts. A session is created when the browser is redirected
// to the identity provider and consumed exactly once when the provider
// redirects back; anything older than the TTL is swept regardless.
package authsession

import (
	"context"
	"errors"
	"time"
)

// Default lifetime and sweep cadence for pending sessions. A login round-trip
// completes in seconds; ten minutes bounds the exposure window of a leaked
// session id.
const (
	DefaultTTL           = 10 * time.Minute
	DefaultSweepInterval = 60 * time.Second
)

// ErrNotFound is returned by Consume when the session does not exist, has
// expired, or was already consumed.
var ErrNotFound = errors.New("auth session not found")

// Session is one pending authorization attempt.
type Session struct {
	ID           string    `json:"id"`
	CodeVerifier string    `json:"code_verifier"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store holds pending sessions keyed by an opaque id carried in a short-lived
// browser cookie.
type Store interface {
	// Create stores a new session and returns its generated id.
	Create(ctx context.Context, codeVerifier, state string) (string, error)

	// Consume atomically retrieves and deletes the session. A second call
	// with the same id returns ErrNotFound.
	Consume(ctx context.Context, id string) (*Session, error)

	// Close releases store resources (sweeper goroutines, connections).
	Close() error
}
