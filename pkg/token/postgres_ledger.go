package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger implements LedgerRepository using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE refresh_tokens (
//	    jti        UUID PRIMARY KEY,
//	    token      TEXT NOT NULL,
//	    user_id    BIGINT NOT NULL REFERENCES users (id),
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    expires_at TIMESTAMPTZ NOT NULL,
//	    revoked    BOOLEAN NOT NULL DEFAULT false
//	);
//	CREATE INDEX refresh_tokens_user_id_idx ON refresh_tokens (user_id);
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL-based refresh-token ledger
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Save persists a newly issued refresh token.
func (l *PostgresLedger) Save(ctx context.Context, record RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (jti, token, user_id, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, false)
	`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := l.db.Exec(ctx, query, record.JTI, record.Token, record.UserID, createdAt, record.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// Get retrieves a record by jti.
func (l *PostgresLedger) Get(ctx context.Context, jti uuid.UUID) (RefreshTokenRecord, error) {
	query := `
		SELECT jti, token, user_id, created_at, expires_at, revoked
		FROM refresh_tokens
		WHERE jti = $1
	`

	var r RefreshTokenRecord
	err := l.db.QueryRow(ctx, query, jti).Scan(
		&r.JTI,
		&r.Token,
		&r.UserID,
		&r.CreatedAt,
		&r.ExpiresAt,
		&r.Revoked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshTokenRecord{}, ErrNotFound
	}
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return r, nil
}

// ConsumeForRotation validates and revokes in a single conditional update so
// two concurrent refresh calls with the same token cannot both succeed.
func (l *PostgresLedger) ConsumeForRotation(ctx context.Context, jti uuid.UUID, token string) (RefreshTokenRecord, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = true
		WHERE jti = $1 AND token = $2 AND revoked = false AND expires_at > now()
		RETURNING jti, token, user_id, created_at, expires_at, revoked
	`

	var r RefreshTokenRecord
	err := l.db.QueryRow(ctx, query, jti, token).Scan(
		&r.JTI,
		&r.Token,
		&r.UserID,
		&r.CreatedAt,
		&r.ExpiresAt,
		&r.Revoked,
	)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RefreshTokenRecord{}, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	// Zero rows affected: distinguish a race/reuse from a bad token
	existing, getErr := l.Get(ctx, jti)
	if errors.Is(getErr, ErrNotFound) {
		return RefreshTokenRecord{}, ErrNotFound
	}
	if getErr != nil {
		return RefreshTokenRecord{}, getErr
	}
	if existing.Revoked {
		return existing, ErrReused
	}
	return RefreshTokenRecord{}, ErrInvalid
}

// Revoke marks a record revoked; idempotent.
func (l *PostgresLedger) Revoke(ctx context.Context, jti uuid.UUID) error {
	query := `UPDATE refresh_tokens SET revoked = true WHERE jti = $1`

	if _, err := l.db.Exec(ctx, query, jti); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every outstanding record for the user.
func (l *PostgresLedger) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`

	tag, err := l.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes records past their expiry.
func (l *PostgresLedger) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at <= now()`

	tag, err := l.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
