package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker stops calling a failing dependency for a cool-down period
// after maxFailures consecutive failures.
type CircuitBreaker struct {
	name             string
	maxFailures      uint32
	timeout          time.Duration
	halfOpenMaxCalls uint32
	now              func() time.Time
	onStateChange    func(name string, from, to State)

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint32

	logger *logrus.Logger
}

// Option customizes a CircuitBreaker.
type Option func(*CircuitBreaker)

func WithLogger(logger *logrus.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = logger }
}

// WithHalfOpenCalls sets how many trial calls are let through after the
// cool-down, and how many must succeed to close the circuit again.
func WithHalfOpenCalls(n uint32) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.halfOpenMaxCalls = n
		}
	}
}

// WithStateChangeHook registers fn to run on every transition. It is
// called with the breaker's lock held and must not call back into it.
func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(cb *CircuitBreaker) { cb.onStateChange = fn }
}

func withClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// New creates a new circuit breaker
func New(name string, maxFailures uint32, timeout time.Duration, opts ...Option) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		timeout:          timeout,
		halfOpenMaxCalls: 3,
		now:              time.Now,
		state:            StateClosed,
		logger:           logrus.New(),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the circuit is open. Context cancellation is not
// counted as a failure of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return &CircuitBreakerError{Name: cb.name, State: StateOpen}
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.onSuccess()
	case errors.Is(err, context.Canceled):
		cb.release()
	default:
		cb.onFailure()
	}
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advanceLocked()
	switch cb.state {
	case StateClosed:
		cb.requestCount++
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		cb.requestCount++
		return true
	default:
		return false
	}
}

// advanceLocked moves an open circuit to half-open once the cool-down
// has elapsed.
func (cb *CircuitBreaker) advanceLocked() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
		cb.setStateLocked(StateHalfOpen)
		cb.halfOpenCalls = 0
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxCalls {
			cb.setStateLocked(StateClosed)
			cb.failures = 0
			cb.successCount = 0
			cb.halfOpenCalls = 0
		}
	case StateClosed:
		cb.failures = 0
		cb.successCount++
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.setStateLocked(StateOpen)
	}
}

// release gives back a half-open trial slot without judging the dependency.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
}

func (cb *CircuitBreaker) setStateLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	entry := cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from":            from.String(),
		"state":           to.String(),
		"failures":        cb.failures,
	})
	if to == StateOpen {
		entry.Warn("Circuit breaker opened due to failures")
	} else {
		entry.Info("Circuit breaker state changed")
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advanceLocked()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requestCount,
		Successes:       cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string
	State           State
	Failures        uint32
	Requests        uint32
	Successes       uint32
	LastFailureTime time.Time
}

// CircuitBreakerError represents an error when the circuit breaker is open
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
