package infra

import (
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// CircuitBreaker gates calls to one venue endpoint group. Consecutive
// failures trip it open; while open every call is refused without
// touching the venue. After the cool-off it half-opens and lets trial
// calls through until enough succeed to close again. Safe for concurrent use.
type CircuitBreaker struct {
	name string

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	failureThreshold int
	successThreshold int
	cooloff          time.Duration
}

// CircuitBreakerConfig tunes one breaker instance.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultCircuitBreakerConfig trips after five straight failures, which
// covers a full broker submission cycle (initial call plus its retry
// budget) and one more, and cools off for as long as the retry schedule's
// cap before trying the venue again.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          retryCap,
	}
}

// NewCircuitBreaker creates a closed breaker with the given tuning.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooloff:          cfg.Timeout,
	}
}

// Allow reports whether the next call may proceed. An open breaker that
// has cooled off moves to half-open and admits the call as a trial.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) <= cb.cooloff {
			return false
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		slog.Info("circuit breaker half-open, trying venue",
			slog.String("name", cb.name))
		return true
	default:
		return true
	}
}

// RecordSuccess notes a completed call. Enough successful trials close a
// half-open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
			slog.Info("circuit breaker closed",
				slog.String("name", cb.name))
		}
	}
}

// RecordFailure notes a failed call. Reaching the threshold, or any
// failed trial while half-open, opens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
			slog.Warn("circuit breaker opened",
				slog.String("name", cb.name),
				slog.Int("failures", cb.failures))
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successes = 0
		slog.Warn("circuit breaker reopened, trial failed",
			slog.String("name", cb.name))
	}
}

// GetState returns the breaker's position, for monitoring.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
