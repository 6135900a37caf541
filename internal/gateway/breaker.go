package gateway

import (
	"fmt"
	"sync"
	"time"

	"orbtrader/internal/ports"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "Closed"   // requests pass through
	BreakerOpen     BreakerState = "Open"     // requests are rejected
	BreakerHalfOpen BreakerState = "HalfOpen" // a single probe is allowed through
)

// CircuitBreaker stops calling a failing provider for a cooldown period.
// One instance per provider, shared across all sessions; all methods are
// safe for concurrent use.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	clock            ports.Clock

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
}

// NewCircuitBreaker creates a breaker in the Closed state.
func NewCircuitBreaker(name string, failureThreshold int, cooldown time.Duration, clock ports.Clock) *CircuitBreaker {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		clock:            clock,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call may proceed. While Open it fails fast with
// ErrCircuitOpen until the cooldown elapses, then lets exactly one probe
// through in the HalfOpen state. Further callers are rejected until the probe
// resolves via RecordSuccess or RecordFailure.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		return fmt.Errorf("%w: breaker %q has a probe in flight", ports.ErrCircuitOpen, b.name)
	}

	elapsed := b.clock.Now().Sub(b.lastFailureTime)
	if elapsed >= b.cooldown {
		b.state = BreakerHalfOpen
		return nil
	}
	return fmt.Errorf("%w: breaker %q rejects calls for another %s",
		ports.ErrCircuitOpen, b.name, (b.cooldown - elapsed).Round(time.Second))
}

// RecordSuccess resets the failure counter and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.consecutiveFailures = 0
}

// RecordFailure increments the failure counter. The breaker opens when the
// threshold is reached; a failed HalfOpen probe reopens it and restarts the
// cooldown clock.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	b.lastFailureTime = b.clock.Now()
	if b.state == BreakerHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		b.state = BreakerOpen
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// stateGaugeValue maps the state onto the metric scale (0 closed, 1 half-open, 2 open).
func (b *CircuitBreaker) stateGaugeValue() float64 {
	switch b.State() {
	case BreakerOpen:
		return 2
	case BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}
