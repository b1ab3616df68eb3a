package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "k", "v", time.Minute))

	val, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	val, err = client.GetDel(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	_, err = client.Get(ctx, "k")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestNewRedis_UnreachableStillReturnsClient(t *testing.T) {
	client, err := NewRedis(RedisOptions{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	require.Error(t, err)
	require.NotNil(t, client)
	defer client.Close()

	assert.Error(t, client.Ping(context.Background()))
}
