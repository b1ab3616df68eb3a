package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_IncrementWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWindow(ctx, "ratelimit:fixed:k:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, ttl)

	count, _, err = store.IncrementWindow(ctx, "ratelimit:fixed:k:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:fixed:k:1"))

	mr.FastForward(time.Minute + time.Second)
	count, _, err = store.IncrementWindow(ctx, "ratelimit:fixed:k:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisStore_RestoresMissingTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("orphan", "4"))

	count, ttl, err := store.IncrementWindow(context.Background(), "orphan", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.Equal(t, 30*time.Second, ttl)
	assert.Equal(t, 30*time.Second, mr.TTL("orphan"))
}

func TestRedisStore_SlidingLimiter(t *testing.T) {
	store, _ := newRedisStore(t)
	clock := newFakeClock()
	limiter := NewSlidingWindowLimiter(store, 2, 10*time.Second, WithClock(clock.Now))
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "user:alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	clock.Advance(3 * time.Second)
	res, err = limiter.Allow(ctx, "user:alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, err = limiter.Allow(ctx, "user:alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, baseTime.Add(10*time.Second), res.ResetAt)

	clock.Advance(7 * time.Second)
	res, err = limiter.Allow(ctx, "user:alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisStore_FixedLimiter(t *testing.T) {
	store, _ := newRedisStore(t)
	clock := newFakeClock()
	limiter := NewFixedWindow(store, 2, time.Minute, WithClock(clock.Now), WithKeyPrefix("test"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(3), res.Count)

	clock.Advance(time.Minute)
	res, err = limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, _, err := store.IncrementWindow(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.Error(t, store.Ping(context.Background()))
}
