package token

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const ledgerTestSchema = `
	CREATE TABLE users (
		id           BIGSERIAL PRIMARY KEY,
		subject      TEXT NOT NULL UNIQUE,
		email        TEXT NOT NULL,
		display_name TEXT NOT NULL,
		avatar_url   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE refresh_tokens (
		jti        UUID PRIMARY KEY,
		token      TEXT NOT NULL,
		user_id    BIGINT NOT NULL REFERENCES users (id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT false
	);
	CREATE INDEX refresh_tokens_user_id_idx ON refresh_tokens (user_id);
`

func TestPostgresLedger(t *testing.T) {
	if os.Getenv("SKIP_CONTAINER_TESTS") != "" {
		t.Skip("container tests disabled")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, ledgerTestSchema)
	require.NoError(t, err)

	var userID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO users (subject, email, display_name) VALUES ('prov-42', 'ada@example.com', 'Ada') RETURNING id`,
	).Scan(&userID)
	require.NoError(t, err)

	ledger := NewPostgresLedger(pool)

	t.Run("SaveAndGet", func(t *testing.T) {
		record := RefreshTokenRecord{
			JTI:       uuid.New(),
			Token:     "token-a",
			UserID:    userID,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		require.NoError(t, ledger.Save(ctx, record))

		got, err := ledger.Get(ctx, record.JTI)
		require.NoError(t, err)
		assert.Equal(t, "token-a", got.Token)
		assert.Equal(t, userID, got.UserID)
		assert.False(t, got.Revoked)
	})

	t.Run("ConsumeForRotation", func(t *testing.T) {
		record := RefreshTokenRecord{
			JTI:       uuid.New(),
			Token:     "token-b",
			UserID:    userID,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		require.NoError(t, ledger.Save(ctx, record))

		consumed, err := ledger.ConsumeForRotation(ctx, record.JTI, "token-b")
		require.NoError(t, err)
		assert.Equal(t, record.JTI, consumed.JTI)

		// Second redemption of the same token is reuse
		_, err = ledger.ConsumeForRotation(ctx, record.JTI, "token-b")
		assert.ErrorIs(t, err, ErrReused)
	})

	t.Run("ConsumeForRotation_TokenMismatch", func(t *testing.T) {
		record := RefreshTokenRecord{
			JTI:       uuid.New(),
			Token:     "token-c",
			UserID:    userID,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		require.NoError(t, ledger.Save(ctx, record))

		_, err := ledger.ConsumeForRotation(ctx, record.JTI, "forged")
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("ConsumeForRotation_Expired", func(t *testing.T) {
		record := RefreshTokenRecord{
			JTI:       uuid.New(),
			Token:     "token-d",
			UserID:    userID,
			ExpiresAt: time.Now().UTC().Add(-time.Minute),
		}
		require.NoError(t, ledger.Save(ctx, record))

		_, err := ledger.ConsumeForRotation(ctx, record.JTI, "token-d")
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("ConsumeForRotation_UnknownJTI", func(t *testing.T) {
		_, err := ledger.ConsumeForRotation(ctx, uuid.New(), "whatever")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RevokeIsIdempotent", func(t *testing.T) {
		record := RefreshTokenRecord{
			JTI:       uuid.New(),
			Token:     "token-e",
			UserID:    userID,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		require.NoError(t, ledger.Save(ctx, record))

		require.NoError(t, ledger.Revoke(ctx, record.JTI))
		require.NoError(t, ledger.Revoke(ctx, record.JTI))
		require.NoError(t, ledger.Revoke(ctx, uuid.New()))

		got, err := ledger.Get(ctx, record.JTI)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	})

	t.Run("RevokeAllForUserAndDeleteExpired", func(t *testing.T) {
		var otherID int64
		err := pool.QueryRow(ctx,
			`INSERT INTO users (subject, email, display_name) VALUES ('prov-77', 'gh@example.com', 'Grace') RETURNING id`,
		).Scan(&otherID)
		require.NoError(t, err)

		fresh := RefreshTokenRecord{
			JTI:       uuid.New(),
			Token:     "token-f",
			UserID:    otherID,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		expired := RefreshTokenRecord{
			JTI:       uuid.New(),
			Token:     "token-g",
			UserID:    otherID,
			ExpiresAt: time.Now().UTC().Add(-time.Hour),
		}
		require.NoError(t, ledger.Save(ctx, fresh))
		require.NoError(t, ledger.Save(ctx, expired))

		revoked, err := ledger.RevokeAllForUser(ctx, otherID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), revoked)

		removed, err := ledger.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, int64(1))

		_, err = ledger.Get(ctx, expired.JTI)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
