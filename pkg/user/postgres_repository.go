package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    id           BIGSERIAL PRIMARY KEY,
//	    subject      TEXT NOT NULL UNIQUE,
//	    email        TEXT NOT NULL,
//	    display_name TEXT NOT NULL,
//	    avatar_url   TEXT NOT NULL DEFAULT '',
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// The unique constraint on subject is what makes concurrent find-or-create
// idempotent.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL-based user repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetBySubject retrieves a user by the provider subject identifier.
func (r *PostgresRepository) GetBySubject(ctx context.Context, subject string) (User, error) {
	query := `
		SELECT id, subject, email, display_name, avatar_url, created_at
		FROM users
		WHERE subject = $1
	`

	var u User
	err := r.db.QueryRow(ctx, query, subject).Scan(
		&u.ID,
		&u.Subject,
		&u.Email,
		&u.DisplayName,
		&u.AvatarURL,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user by subject: %w", err)
	}

	return u, nil
}

// GetByID retrieves a user by internal id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (User, error) {
	query := `
		SELECT id, subject, email, display_name, avatar_url, created_at
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Subject,
		&u.Email,
		&u.DisplayName,
		&u.AvatarURL,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user by id: %w", err)
	}

	return u, nil
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, params CreateUserParams) (User, error) {
	query := `
		INSERT INTO users (subject, email, display_name, avatar_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, subject, email, display_name, avatar_url, created_at
	`

	var u User
	err := r.db.QueryRow(ctx, query,
		params.Subject,
		params.Email,
		params.DisplayName,
		params.AvatarURL,
	).Scan(
		&u.ID,
		&u.Subject,
		&u.Email,
		&u.DisplayName,
		&u.AvatarURL,
		&u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateSubject
		}
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}

	return u, nil
}
