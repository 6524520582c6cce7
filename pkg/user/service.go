package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tastebook/tastebook/pkg/provider"
)

// Service resolves provider identities to Tastebook users.
type Service struct {
	repo Repository
}

// NewService creates a new user service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Resolve finds the user for a provider identity, creating one on first
// sign-in. The returned bool reports whether a new account was created.
//
// Resolve is idempotent under concurrent duplicate calls for the same
// subject: a duplicate-key error from Create means another request won the
// insert race, so the existing row is fetched instead.
func (s *Service) Resolve(ctx context.Context, identity provider.Identity) (User, bool, error) {
	u, err := s.repo.GetBySubject(ctx, identity.Subject)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, fmt.Errorf("failed to look up user: %w", err)
	}

	displayName := identity.DisplayName
	if displayName == "" {
		displayName = emailLocalPart(identity.Email)
	}

	u, err = s.repo.Create(ctx, CreateUserParams{
		Subject:     identity.Subject,
		Email:       identity.Email,
		DisplayName: displayName,
		AvatarURL:   identity.AvatarURL,
	})
	if errors.Is(err, ErrDuplicateSubject) {
		// Lost the insert race against a concurrent callback
		existing, getErr := s.repo.GetBySubject(ctx, identity.Subject)
		if getErr != nil {
			return User{}, false, fmt.Errorf("failed to fetch user after duplicate insert: %w", getErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("Created user for external identity", "user_id", u.ID, "subject", u.Subject, "email", u.Email)
	return u, true, nil
}

// GetByID retrieves a user by internal id.
func (s *Service) GetByID(ctx context.Context, id int64) (User, error) {
	return s.repo.GetByID(ctx, id)
}

func emailLocalPart(email string) string {
	if idx := strings.Index(email, "@"); idx > 0 {
		return email[:idx]
	}
	return email
}
