package authsession

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// MemoryStore is an in-memory Store suitable for a single-instance
// deployment. Sessions live in a mutex-guarded map and a background sweeper
// evicts anything older than the TTL. In a horizontally scaled deployment the
// callback may land on a different instance than the one that created the
// session; use RedisStore there instead.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl       time.Duration
	stopSweep chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.ttl = ttl
	}
}

// NewMemoryStore creates a MemoryStore and starts its sweeper with the
// default interval.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	return NewMemoryStoreWithInterval(DefaultSweepInterval, opts...)
}

// NewMemoryStoreWithInterval creates a MemoryStore with a custom sweep
// interval. Short intervals are useful in tests.
func NewMemoryStoreWithInterval(sweepInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions:  make(map[string]*Session),
		ttl:       DefaultTTL,
		stopSweep: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop(sweepInterval)

	return s
}

// Create stores a new session and returns its generated id.
func (s *MemoryStore) Create(ctx context.Context, codeVerifier, state string) (string, error) {
	id := ksuid.New().String()
	session := &Session{
		ID:           id,
		CodeVerifier: codeVerifier,
		State:        state,
		CreatedAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	return id, nil
}

// Consume atomically retrieves and deletes the session.
func (s *MemoryStore) Consume(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.sessions, id)

	// Expired but not yet swept counts as gone
	if time.Since(session.CreatedAt) > s.ttl {
		return nil, ErrNotFound
	}

	return session, nil
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopSweep)
	})
	return nil
}

// Len reports the number of pending sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	cutoff := time.Now().UTC().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if session.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		slog.Debug("Swept expired auth sessions", "removed", removed, "remaining", len(s.sessions))
	}
}
