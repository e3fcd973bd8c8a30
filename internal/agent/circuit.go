package agent

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the breaker's position.
type CircuitState int

const (
	// CircuitClosed passes requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen lets probe requests test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the breaker is rejecting requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig tunes the breaker. Zero values take defaults:
// 5 consecutive failures open it, 2 probe successes close it again, and an
// open breaker holds for 30 seconds before probing.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// CircuitBreaker shields the model provider from request storms after
// consecutive failures. Transitions: closed opens once FailureThreshold
// consecutive failures accumulate; after Cooldown the next Allow moves it to
// half-open; SuccessThreshold probe successes close it, one probe failure
// reopens it.
type CircuitBreaker struct {
	mu sync.RWMutex

	state          CircuitState
	failureStreak  int
	probeSuccesses int
	openedAt       time.Time

	maxFailures int
	probeTarget int
	cooldown    time.Duration

	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		maxFailures: cfg.FailureThreshold,
		probeTarget: cfg.SuccessThreshold,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// Allow reports whether a request may proceed. A cooled-down open breaker
// moves to half-open and lets the request through as a probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.openedAt) <= cb.cooldown {
		return ErrCircuitOpen
	}
	cb.state = CircuitHalfOpen
	cb.probeSuccesses = 0
	return nil
}

// Success records a completed call. Enough probe successes in half-open
// close the breaker; in closed it clears the failure streak.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureStreak = 0
	case CircuitHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.probeTarget {
			cb.state = CircuitClosed
			cb.failureStreak = 0
			cb.probeSuccesses = 0
		}
	}
}

// Failure records a failed call. A failing probe reopens the breaker
// immediately and restarts the cooldown.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureStreak++
	cb.openedAt = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failureStreak >= cb.maxFailures {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.probeSuccesses = 0
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
