package user

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for repository operations
var (
	ErrNotFound         = errors.New("user not found")
	ErrDuplicateSubject = errors.New("user with subject already exists")
)

// User represents a Tastebook account. Accounts are keyed internally by a
// numeric id and externally by the identity provider's stable subject.
type User struct {
	ID          int64
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

// CreateUserParams represents parameters for creating a user
type CreateUserParams struct {
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Repository defines the interface for user-related database operations
type Repository interface {
	GetBySubject(ctx context.Context, subject string) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)

	// Create inserts a new user. A concurrent insert for the same subject
	// returns ErrDuplicateSubject so callers can fall back to a fetch.
	Create(ctx context.Context, params CreateUserParams) (User, error)
}
