package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Counts requests in windows aligned to the epoch, so every instance agrees
// on where a window starts. Denied requests are counted too.
type FixedWindowLimiter struct {
	store  Store
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewFixedWindow(store Store, limit int, window time.Duration, opts ...Option) *FixedWindowLimiter {
	o := buildOptions(opts)
	return &FixedWindowLimiter{
		store:  store,
		prefix: o.prefix,
		limit:  limit,
		window: window,
		now:    o.now,
	}
}

func (f *FixedWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := f.now()
	bucket := now.UnixNano() / f.window.Nanoseconds()
	redisKey := fmt.Sprintf("%s:fixed:%s:%d", f.prefix, key, bucket)

	count, _, err := f.store.IncrementWindow(ctx, redisKey, f.window)
	if err != nil {
		return Result{}, err
	}

	remaining := f.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(f.limit),
		Count:     count,
		Remaining: remaining,
		ResetAt:   time.Unix(0, (bucket+1)*f.window.Nanoseconds()),
	}, nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}
