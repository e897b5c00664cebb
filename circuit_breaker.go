package smarterid

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"    // requests pass through
	BreakerOpen     BreakerState = "open"      // requests fail fast
	BreakerHalfOpen BreakerState = "half-open" // one probe decides
)

// CircuitBreaker stops a generator from waiting on a dependency that keeps
// failing. After maxFailures consecutive failures it opens and rejects calls
// with ErrBackendUnavailable until resetTimeout has passed, then lets a single
// probe through.
//
// Use case: wrap the Redis clock sequencer so version 1 generation falls back
// to a local sequence instead of timing out on every call while Redis is down.
type CircuitBreaker struct {
	mu            sync.Mutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	lastFailTime  time.Time
	state         BreakerState
	probing       bool
	onStateChange func(from, to BreakerState)
	now           func() time.Time
}

// NewCircuitBreaker creates a circuit breaker.
//
// Example:
//
//	cb := NewCircuitBreaker(5, 30*time.Second)
//	err := cb.Execute(ctx, func() error {
//	    return redisClient.Ping(ctx).Err()
//	})
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
		now:          time.Now,
	}
}

// WithStateChangeCallback adds a callback for state transitions.
// The callback runs with the breaker locked and must not call back into it.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to BreakerState)) *CircuitBreaker {
	cb.onStateChange = fn
	return cb
}

// WithMetrics counts transitions under MetricBreakerTransition, labelled name and state.
func (cb *CircuitBreaker) WithMetrics(m Metrics, name string) *CircuitBreaker {
	prev := cb.onStateChange
	return cb.WithStateChangeCallback(func(from, to BreakerState) {
		m.Increment(MetricBreakerTransition, "name", name, "state", string(to))
		if prev != nil {
			prev(from, to)
		}
	})
}

// Execute runs fn unless the breaker is open.
// Returns ErrBackendUnavailable without calling fn when it is.
// Context cancellation is not counted as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"reason": "circuit breaker is open",
			"state":  string(cb.State()),
		})
	}

	err := fn()
	if err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil) {
		cb.release()
		return err
	}
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailTime) < cb.resetTimeout {
			return false
		}
		cb.setState(BreakerHalfOpen)
		cb.probing = true
		return true
	case BreakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// release frees a half-open probe slot without a verdict.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false

	if err != nil {
		cb.failures++
		cb.lastFailTime = cb.now()

		if cb.state == BreakerHalfOpen || (cb.state == BreakerClosed && cb.failures >= cb.maxFailures) {
			cb.setState(BreakerOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state != BreakerClosed {
		cb.setState(BreakerClosed)
	}
}

func (cb *CircuitBreaker) setState(newState BreakerState) {
	oldState := cb.state
	cb.state = newState
	if cb.onStateChange != nil {
		cb.onStateChange(oldState, newState)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	if cb.state != BreakerClosed {
		cb.setState(BreakerClosed)
	}
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
