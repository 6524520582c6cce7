// Package token maintains the refresh-token ledger: a persistent allowlist of
// issued refresh tokens keyed by jti. Access tokens are stateless and never
// appear here; refresh tokens must be present, unrevoked and unexpired to be
// redeemed, which is what makes revocation and rotation-on-use enforceable.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for ledger operations
var (
	// ErrNotFound means the jti was never issued (or already reaped).
	ErrNotFound = errors.New("refresh token not found")

	// ErrReused means the jti exists but was already revoked: either a
	// logout, or the reuse of a rotated token. Callers should treat this
	// as a breach signal.
	ErrReused = errors.New("refresh token already revoked")

	// ErrInvalid means the record exists but cannot be redeemed: expired,
	// or the presented token string does not match the stored one.
	ErrInvalid = errors.New("refresh token invalid")
)

// RefreshTokenRecord is one ledger row. Rows are never mutated after
// revocation; expired rows are removed by the reaper.
type RefreshTokenRecord struct {
	JTI       uuid.UUID
	Token     string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// LedgerRepository defines the interface for refresh-token ledger operations
type LedgerRepository interface {
	// Save persists a newly issued refresh token before it is handed to
	// the client.
	Save(ctx context.Context, record RefreshTokenRecord) error

	// Get retrieves a record by jti.
	Get(ctx context.Context, jti uuid.UUID) (RefreshTokenRecord, error)

	// ConsumeForRotation atomically validates and revokes the record in a
	// single conditional update: the record must exist, be unrevoked,
	// unexpired, and store exactly the presented token string. Exactly one
	// of two concurrent calls with the same token can succeed; the loser
	// gets ErrReused.
	ConsumeForRotation(ctx context.Context, jti uuid.UUID, token string) (RefreshTokenRecord, error)

	// Revoke marks a record revoked. Revoking an already-revoked or
	// nonexistent jti is not an error.
	Revoke(ctx context.Context, jti uuid.UUID) error

	// RevokeAllForUser revokes every outstanding record for the user and
	// returns the number of records revoked.
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)

	// DeleteExpired removes records past their expiry and returns the
	// number removed.
	DeleteExpired(ctx context.Context) (int64, error)
}
