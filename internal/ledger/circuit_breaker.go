package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Fantasim/solmigrate/internal/config"
)

// CircuitBreaker stops hammering an indexer that keeps failing.
//
// State machine:
//   - Closed: requests pass; consecutive failures >= threshold trips to Open.
//   - Open: requests fail fast with ErrCircuitOpen until the cooldown elapses.
//   - Half-Open: one probe request; success closes, failure reopens.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	state            string
	consecutiveFails int
	threshold        int
	cooldown         time.Duration
	lastFailure      time.Time
	halfOpenAllowed  int
	halfOpenCount    int
}

// NewCircuitBreaker creates a breaker for the named endpoint.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:            name,
		state:           config.CircuitClosed,
		threshold:       threshold,
		cooldown:        cooldown,
		halfOpenAllowed: config.CircuitBreakerHalfOpenMax,
	}
}

// Allow returns true if a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case config.CircuitClosed:
		return true

	case config.CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.cooldown {
			slog.Debug("circuit breaker transitioning to half-open",
				"endpoint", cb.name,
				"consecutiveFails", cb.consecutiveFails,
			)
			cb.state = config.CircuitHalfOpen
			cb.halfOpenCount = 1
			return true
		}
		return false

	case config.CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenAllowed {
			cb.halfOpenCount++
			return true
		}
		return false

	default:
		return false
	}
}

// Do runs fn if the breaker allows it and records the outcome. Context
// cancellation is not counted as an endpoint failure.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.Allow() {
		return fmt.Errorf("%s: %w", cb.name, config.ErrCircuitOpen)
	}
	err := fn()
	switch {
	case err == nil:
		cb.RecordSuccess()
	case isContextErr(err):
	default:
		cb.RecordFailure()
	}
	return err
}

// RecordSuccess resets the breaker to closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	previousState := cb.state

	cb.consecutiveFails = 0
	cb.state = config.CircuitClosed
	cb.halfOpenCount = 0

	if previousState != config.CircuitClosed {
		slog.Info("circuit breaker closed after success",
			"endpoint", cb.name,
			"previousState", previousState,
		)
	}
}

// RecordFailure records a failed call and may trip the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	if cb.state == config.CircuitHalfOpen {
		slog.Warn("circuit breaker reopened from half-open after failure",
			"endpoint", cb.name,
			"consecutiveFails", cb.consecutiveFails,
		)
		cb.state = config.CircuitOpen
		cb.halfOpenCount = 0
		return
	}

	if cb.consecutiveFails >= cb.threshold && cb.state != config.CircuitOpen {
		slog.Warn("circuit breaker tripped to open",
			"endpoint", cb.name,
			"consecutiveFails", cb.consecutiveFails,
			"threshold", cb.threshold,
		)
		cb.state = config.CircuitOpen
		cb.halfOpenCount = 0
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}
