package ratelimit

import (
	"context"
	"time"

	"github.com/aman-churiwal/property-listings/internal/circuitbreaker"
)

// Wraps a Store so a dead backend is given up on quickly instead of costing
// every request a full network timeout. Refused calls return
// circuitbreaker.ErrCircuitOpen, which callers treat like any store error.
type BreakerStore struct {
	store   Store
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerStore(store Store, breaker *circuitbreaker.CircuitBreaker) *BreakerStore {
	return &BreakerStore{store: store, breaker: breaker}
}

func (b *BreakerStore) IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	var (
		count int64
		left  time.Duration
	)
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		count, left, err = b.store.IncrementWindow(ctx, key, ttl)
		return err
	})
	return count, left, err
}

func (b *BreakerStore) AppendLog(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (LogResult, error) {
	var res LogResult
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = b.store.AppendLog(ctx, key, now, window, limit)
		return err
	})
	return res, err
}

// Goes straight to the backend so health reporting sees the real state
func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}

func (b *BreakerStore) Breaker() *circuitbreaker.CircuitBreaker {
	return b.breaker
}
