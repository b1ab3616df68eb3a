package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// INCR and the first PEXPIRE run in one script so a crash between them cannot
// leave a counter without a TTL. A counter found without one gets it back.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Sorted set of request timestamps in milliseconds
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local admitted = 0
if count < limit then
	redis.call("ZADD", key, now, ARGV[4])
	count = count + 1
	admitted = 1
end
redis.call("PEXPIRE", key, window)

local oldest = now
local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if #first > 0 then
	oldest = tonumber(first[2])
end
return {count, admitted, oldest}
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	vals, err := incrementScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("increment %s: %w", key, err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("increment %s: unexpected reply %v", key, vals)
	}

	return vals[0], time.Duration(vals[1]) * time.Millisecond, nil
}

func (s *RedisStore) AppendLog(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (LogResult, error) {
	vals, err := slidingLogScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return LogResult{}, fmt.Errorf("append %s: %w", key, err)
	}
	if len(vals) != 3 {
		return LogResult{}, fmt.Errorf("append %s: unexpected reply %v", key, vals)
	}

	return LogResult{
		Count:    vals[0],
		Admitted: vals[1] == 1,
		Oldest:   time.UnixMilli(vals[2]),
	}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
