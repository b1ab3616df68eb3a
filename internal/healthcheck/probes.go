package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Runs a trivial query against the datastore
type DatabaseProbe struct {
	db Pinger
}

func NewDatabaseProbe(db Pinger) *DatabaseProbe {
	return &DatabaseProbe{db: db}
}

func (p *DatabaseProbe) Name() string { return "database" }

func (p *DatabaseProbe) Check(ctx context.Context) error {
	return p.db.Ping(ctx)
}

type KeyValue interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

const cacheProbeTTL = 5 * time.Second

// Writes a short-lived key and reads it back. Each check uses its own key so
// concurrent checks cannot see each other's values.
type CacheProbe struct {
	cache KeyValue
}

func NewCacheProbe(cache KeyValue) *CacheProbe {
	return &CacheProbe{cache: cache}
}

func (p *CacheProbe) Name() string { return "cache" }

func (p *CacheProbe) Check(ctx context.Context) error {
	key := "healthcheck:" + uuid.NewString()
	want := "ok"

	if err := p.cache.Set(ctx, key, want, cacheProbeTTL); err != nil {
		return err
	}
	got, err := p.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	_ = p.cache.Del(ctx, key)

	if got != want {
		return fmt.Errorf("read back %q, wrote %q", got, want)
	}
	return nil
}

// Adapts a function into a Probe
type FuncProbe struct {
	name string
	fn   func(ctx context.Context) error
}

func NewFuncProbe(name string, fn func(ctx context.Context) error) *FuncProbe {
	return &FuncProbe{name: name, fn: fn}
}

func (p *FuncProbe) Name() string { return p.name }

func (p *FuncProbe) Check(ctx context.Context) error {
	return p.fn(ctx)
}
