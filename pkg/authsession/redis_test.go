package authsession

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, opts ...RedisOption) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, opts...)
}

func TestRedisStore_CreateAndConsume(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	id, err := store.Create(ctx, "verifier-value", "state-value")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	session, err := store.Consume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, session.ID)
	assert.Equal(t, "verifier-value", session.CodeVerifier)
	assert.Equal(t, "state-value", session.State)
}

func TestRedisStore_ConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	id, err := store.Create(ctx, "verifier-value", "state-value")
	require.NoError(t, err)

	_, err = store.Consume(ctx, id)
	require.NoError(t, err)

	_, err = store.Consume(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TTLEviction(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, WithRedisTTL(time.Minute))

	id, err := store.Create(ctx, "verifier-value", "state-value")
	require.NoError(t, err)

	// Redis owns expiry; advance its clock past the TTL
	mr.FastForward(2 * time.Minute)

	_, err = store.Consume(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ConsumeUnknownID(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	_, err := store.Consume(ctx, "no-such-session")
	assert.ErrorIs(t, err, ErrNotFound)
}
