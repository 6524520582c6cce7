package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
)

const redisKeyPrefix = "tastebook:authsession:"

// RedisStore is a Store backed by Redis with native TTL eviction. It keeps
// the same create/consume contract as MemoryStore while allowing the
// authorization redirect and the callback to be served by different
// instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL overrides the session lifetime.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a RedisStore on top of an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ttl:    DefaultTTL,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create stores a new session under a TTL'd key and returns its id.
func (s *RedisStore) Create(ctx context.Context, codeVerifier, state string) (string, error) {
	id := ksuid.New().String()
	session := &Session{
		ID:           id,
		CodeVerifier: codeVerifier,
		State:        state,
		CreatedAt:    time.Now().UTC(),
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+id, payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	return id, nil
}

// Consume atomically retrieves and deletes the session. GETDEL guarantees
// single use even with concurrent callbacks racing on the same id.
func (s *RedisStore) Consume(ctx context.Context, id string) (*Session, error) {
	payload, err := s.client.GetDel(ctx, redisKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
