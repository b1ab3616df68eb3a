// Package audit persists security events off the request path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/property-listings/internal/models"
	"golang.org/x/time/rate"
)

type Sink interface {
	CreateBatch(ctx context.Context, events []models.SecurityEvent) error
}

type Config struct {
	BufferSize      int           // Default: 1000
	BatchSize       int           // Default: 100
	FlushInterval   time.Duration // Default: 5s
	EventsPerSecond float64       // Events accepted per second, burst of the same size. Zero disables the cap.
	Logger          *slog.Logger
}

// Recorder queues events and writes them to the sink in batches from a
// single worker. Record never blocks: when the queue is full or the
// throttle is exhausted the event is dropped and counted. A nil *Recorder
// discards everything.
type Recorder struct {
	sink          Sink
	events        chan models.SecurityEvent
	limiter       *rate.Limiter
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	dropped  atomic.Int64
}

func NewRecorder(sink Sink, cfg Config) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.EventsPerSecond > 0 {
		burst := int(cfg.EventsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
	}

	return &Recorder{
		sink:          sink,
		events:        make(chan models.SecurityEvent, cfg.BufferSize),
		limiter:       limiter,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Starts the background worker
func (r *Recorder) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run()
}

func (r *Recorder) Record(ev models.SecurityEvent) {
	if r == nil || r.stopped.Load() {
		return
	}
	if r.limiter != nil && !r.limiter.Allow() {
		r.dropped.Add(1)
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev = sanitize(ev)

	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Number of events discarded because of the throttle or a full queue
func (r *Recorder) Dropped() int64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Stops accepting events, flushes what is queued and waits for the worker.
func (r *Recorder) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stop)
	})
	if !r.started.Load() {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]models.SecurityEvent, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.write(batch)
		batch = make([]models.SecurityEvent, 0, r.batchSize)
	}

	for {
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stop:
			for {
				select {
				case ev := <-r.events:
					batch = append(batch, ev)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) write(batch []models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.sink.CreateBatch(ctx, batch)
	if err == nil {
		return
	}
	if len(batch) == 1 {
		r.logger.Error("failed to persist security events", "count", 1, "error", err)
		return
	}

	// One bad row fails the whole insert; retry singly so the rest are kept
	r.logger.Warn("security event batch rejected, retrying one by one", "count", len(batch), "error", err)
	failed := 0
	for i := range batch {
		if rowErr := r.sink.CreateBatch(ctx, batch[i:i+1]); rowErr != nil {
			failed++
			err = rowErr
		}
	}
	if failed > 0 {
		r.logger.Error("failed to persist security events", "count", failed, "error", err)
	}
}
