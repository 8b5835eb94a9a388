// Package circuitbreaker keeps an optional backend (the shared Redis cache and
// the claim lock) from adding a network timeout to every request while it is
// down.
//
// After Threshold consecutive failures the breaker opens and rejects calls with
// ErrCircuitOpen. Once Cooldown has passed a single probe is let through: a
// success closes the breaker, a failure opens it again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the backend.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a breaker. Zero values take the defaults noted.
type Settings struct {
	Name string

	// Threshold is the run of failures that opens the breaker (default 5).
	Threshold int

	// Cooldown is the pause before the probe (default 30s).
	Cooldown time.Duration

	// IsFailure picks the errors that say the backend is unhealthy.
	// Nil counts every error.
	IsFailure func(error) bool

	// OnStateChange runs under the breaker lock and must not call back into it.
	OnStateChange func(name string, from, to State)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Counts are running totals since the breaker was built.
type Counts struct {
	Requests            int
	Failures            int
	ConsecutiveFailures int
	Rejected            int
	LastLatency         time.Duration
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
}

// New creates a closed breaker.
func New(s Settings) *CircuitBreaker {
	if s.Threshold <= 0 {
		s.Threshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &CircuitBreaker{settings: s}
}

// RedisBreaker returns the breaker for the optional Redis backend: it opens
// after three failures and probes again after 15 seconds. Cache misses must
// be excluded through isFailure.
func RedisBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:          "redis",
		Threshold:     3,
		Cooldown:      15 * time.Second,
		IsFailure:     isFailure,
		OnStateChange: onStateChange,
	})
}

// Execute runs fn unless the breaker rejects it, and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	start := cb.settings.Now()
	err := fn(ctx)
	cb.record(err, cb.settings.Now().Sub(start))
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.settings.Now().Sub(cb.openedAt) >= cb.settings.Cooldown {
			cb.setState(StateHalfOpen)
			return nil
		}
	case StateHalfOpen:
		// the probe is still running
	default:
		return nil
	}
	cb.counts.Rejected++
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) record(err error, latency time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++
	cb.counts.LastLatency = latency

	failed := err != nil && (cb.settings.IsFailure == nil || cb.settings.IsFailure(err))
	if !failed {
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
		return
	}

	cb.counts.Failures++
	cb.counts.ConsecutiveFailures++
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.settings.Threshold {
		cb.openedAt = cb.settings.Now()
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.counts.ConsecutiveFailures = 0
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a snapshot of the totals.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Name returns the backend name.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}
