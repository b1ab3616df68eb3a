package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

type Config struct {
	// Per-probe deadline (default: 2s)
	Timeout time.Duration
	Logger  *slog.Logger
}

type registration struct {
	probe    Probe
	critical bool
}

// Runs every registered probe on demand. Only critical probes can turn the
// report degraded.
type Reporter struct {
	mu       sync.Mutex
	probes   []registration
	timeout  time.Duration
	logger   *slog.Logger
	lastSeen map[string]bool
}

func NewReporter(cfg Config) *Reporter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Reporter{
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		lastSeen: make(map[string]bool),
	}
}

// Adds a probe. Must be called before the reporter serves requests.
func (r *Reporter) Register(p Probe, critical bool) {
	r.probes = append(r.probes, registration{probe: p, critical: critical})
}

// Runs all probes concurrently and waits for them, each bounded by the
// configured timeout
func (r *Reporter) Check(ctx context.Context) (Report, []Status) {
	statuses := make([]Status, len(r.probes))

	var wg sync.WaitGroup
	for i, reg := range r.probes {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			statuses[i] = Status{
				Name:     reg.probe.Name(),
				Critical: reg.critical,
				Err:      r.run(ctx, reg.probe),
			}
		}(i, reg)
	}
	wg.Wait()

	report := Report{Status: Healthy, Services: make(map[string]string, len(statuses))}
	for _, st := range statuses {
		report.Services[st.Name] = st.String()
		if st.Critical && !st.Healthy() {
			report.Status = Degraded
		}
		r.recordTransition(st)
	}

	return report, statuses
}

func (r *Reporter) run(ctx context.Context, p Probe) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("probe panicked: %v", rec)
			}
		}()
		done <- p.Check(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s", r.timeout)
		}
		return ctx.Err()
	}
}

// Logs only when a dependency changes between healthy and failing
func (r *Reporter) recordTransition(st Status) {
	r.mu.Lock()
	prev, seen := r.lastSeen[st.Name]
	r.lastSeen[st.Name] = st.Healthy()
	r.mu.Unlock()

	switch {
	case !st.Healthy() && (!seen || prev):
		r.logger.Warn("dependency unhealthy", "probe", st.Name, "critical", st.Critical, "error", st.Err)
	case st.Healthy() && seen && !prev:
		r.logger.Info("dependency recovered", "probe", st.Name)
	}
}
