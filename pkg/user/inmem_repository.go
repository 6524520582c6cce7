package user

import (
	"context"
	"sync"
	"time"
)

// InMemRepository is an in-memory Repository for tests and demos. It enforces
// the same subject uniqueness as the Postgres implementation.
type InMemRepository struct {
	mu        sync.Mutex
	users     map[int64]User
	bySubject map[string]int64
	nextID    int64
}

// NewInMemRepository creates an empty in-memory user repository.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		users:     make(map[int64]User),
		bySubject: make(map[string]int64),
		nextID:    1,
	}
}

func (r *InMemRepository) GetBySubject(ctx context.Context, subject string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySubject[subject]
	if !ok {
		return User{}, ErrNotFound
	}
	return r.users[id], nil
}

func (r *InMemRepository) GetByID(ctx context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *InMemRepository) Create(ctx context.Context, params CreateUserParams) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySubject[params.Subject]; exists {
		return User{}, ErrDuplicateSubject
	}

	u := User{
		ID:          r.nextID,
		Subject:     params.Subject,
		Email:       params.Email,
		DisplayName: params.DisplayName,
		AvatarURL:   params.AvatarURL,
		CreatedAt:   time.Now().UTC(),
	}
	r.nextID++
	r.users[u.ID] = u
	r.bySubject[u.Subject] = u.ID

	return u, nil
}
