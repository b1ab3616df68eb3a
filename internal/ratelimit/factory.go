package ratelimit

import (
	"time"
)

const (
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
)

const defaultKeyPrefix = "ratelimit"

type options struct {
	prefix string
	now    func() time.Time
}

type Option func(*options)

// Namespaces every counter key
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// Overrides the clock that picks windows
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{prefix: defaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Fixed window unless the sliding log is asked for
func NewLimiter(store Store, algorithm string, limit int, window time.Duration, opts ...Option) Limiter {
	switch algorithm {
	case AlgorithmSlidingWindow:
		return NewSlidingWindowLimiter(store, limit, window, opts...)
	case AlgorithmFixedWindow:
		return NewFixedWindow(store, limit, window, opts...)
	default:
		return NewFixedWindow(store, limit, window, opts...)
	}
}
