package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Keeps a log of admitted request times; a request is admitted while fewer
// than limit entries fall inside the trailing window. Denied requests are not
// logged.
type SlidingWindowLimiter struct {
	store  Store
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindowLimiter(store Store, limit int, window time.Duration, opts ...Option) *SlidingWindowLimiter {
	o := buildOptions(opts)
	return &SlidingWindowLimiter{
		store:  store,
		prefix: o.prefix,
		limit:  limit,
		window: window,
		now:    o.now,
	}
}

func (s *SlidingWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := fmt.Sprintf("%s:sliding:%s", s.prefix, key)

	res, err := s.store.AppendLog(ctx, redisKey, s.now(), s.window, s.limit)
	if err != nil {
		return Result{}, err
	}

	remaining := s.limit - int(res.Count)
	if remaining < 0 {
		remaining = 0
	}

	// The oldest entry leaving the window frees the next slot
	return Result{
		Allowed:   res.Admitted,
		Count:     res.Count,
		Remaining: remaining,
		ResetAt:   res.Oldest.Add(s.window),
	}, nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}
