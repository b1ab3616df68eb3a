package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the guarded dependency is considered down
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Guards calls to a dependency that may be down. Once MaxFailures consecutive
// calls fail, calls are refused until OpenTimeout has passed; then a single
// trial call decides whether the breaker closes again.
type CircuitBreaker struct {
	mu              sync.Mutex
	name            string
	state           State
	failureCount    int
	successCount    int
	trialInFlight   bool
	lastFailureTime time.Time
	lastStateChange time.Time

	maxFailures     int
	openTimeout     time.Duration
	halfOpenSuccess int
	onStateChange   func(name string, from, to State)
	now             func() time.Time
}

type Config struct {
	Name            string
	MaxFailures     int           // Default: 5
	OpenTimeout     time.Duration // Default: 30 seconds
	HalfOpenSuccess int           // Default: 1
	// Called with the breaker lock held; must not call back into the breaker
	OnStateChange func(name string, from, to State)
	// Clock override for tests
	Now func() time.Time
}

func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenSuccess <= 0 {
		cfg.HalfOpenSuccess = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &CircuitBreaker{
		name:            cfg.Name,
		state:           StateClosed,
		maxFailures:     cfg.MaxFailures,
		openTimeout:     cfg.OpenTimeout,
		halfOpenSuccess: cfg.HalfOpenSuccess,
		onStateChange:   cfg.OnStateChange,
		now:             cfg.Now,
		lastStateChange: cfg.Now(),
	}
}

// Runs fn unless the circuit is open. Cancellation of the caller's context is
// not held against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}

	switch {
	case err == nil:
		cb.onSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// caller went away
	default:
		cb.onFailure()
	}

	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.openTimeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.successCount = 0
		cb.trialInFlight = true
	case StateHalfOpen:
		// One trial at a time
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
	}

	return nil
}

func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		cb.setState(StateOpen)
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenSuccess {
			cb.setState(StateClosed)
			cb.failureCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	from := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, newState)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Manually closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.trialInFlight = false
}

// Returns a snapshot for status reporting
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Metrics{
		Name:            cb.name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

type Metrics struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
}
