package ratelimit

import (
	"context"
	"time"
)

// Limiter admits or refuses one request for a key
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)

	Limit() int

	Window() time.Duration
}

type Result struct {
	Allowed bool
	// Requests counted in the active window, this one included
	Count     int64
	Remaining int
	// When the window that produced this result stops counting
	ResetAt time.Time
}

// Store holds the counters. Implementations must make each call atomic with
// respect to concurrent callers on the same key.
type Store interface {
	// Increments the counter at key. The first increment starts a TTL of ttl.
	// Returns the new count and the time left before the counter expires.
	IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)

	// Drops log entries at or before now-window, then records now if fewer than
	// limit entries remain. Returns the entry count afterwards, the oldest
	// surviving entry and whether now was recorded.
	AppendLog(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (LogResult, error)

	Ping(ctx context.Context) error
}

type LogResult struct {
	Count    int64
	Oldest   time.Time
	Admitted bool
}
