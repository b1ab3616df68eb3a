package ratelimit

import (
	"context"
	"sync"
	"time"
)

// In-process Store for tests and single-instance development. Counters are
// not shared between processes.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	logs     map[string][]time.Time
	now      func() time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

type MemoryOption func(*MemoryStore)

// Overrides the clock used for expiry
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		counters: make(map[string]*memoryCounter),
		logs:     make(map[string][]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) IncrementWindow(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c, ok := m.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &memoryCounter{expiresAt: now.Add(ttl)}
		m.counters[key] = c
	}
	c.count++

	return c.count, c.expiresAt.Sub(now), nil
}

func (m *MemoryStore) AppendLog(_ context.Context, key string, now time.Time, window time.Duration, limit int) (LogResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	entries := m.logs[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	admitted := false
	if len(kept) < limit {
		kept = append(kept, now)
		admitted = true
	}
	m.logs[key] = kept

	oldest := now
	if len(kept) > 0 {
		oldest = kept[0]
	}

	return LogResult{Count: int64(len(kept)), Oldest: oldest, Admitted: admitted}, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Drops expired counters and empty logs
func (m *MemoryStore) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, c := range m.counters {
		if !now.Before(c.expiresAt) {
			delete(m.counters, key)
		}
	}
	for key, entries := range m.logs {
		// entries are appended in time order; a log whose newest entry is far
		// behind any sane window has nothing left to count
		if len(entries) == 0 || now.Sub(entries[len(entries)-1]) > maxLogAge {
			delete(m.logs, key)
		}
	}
}

const maxLogAge = 24 * time.Hour

// Runs Sweep every interval until ctx is done
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

func (m *MemoryStore) keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters) + len(m.logs)
}
