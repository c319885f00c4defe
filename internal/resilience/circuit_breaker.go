// ABOUTME: Circuit breaker guarding calls to the Koodous API
// ABOUTME: Opens after consecutive upstream failures and probes recovery in half-open state

package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Default circuit breaker configuration values.
const (
	DefaultMaxFailures      = 5
	DefaultResetTimeout     = 30 * time.Second
	DefaultHalfOpenMaxCalls = 1
)

// State is the position of a circuit breaker.
type State int

const (
	// StateClosed allows requests through normally.
	StateClosed State = iota

	// StateOpen rejects all requests immediately.
	StateOpen

	// StateHalfOpen allows a limited number of probe requests.
	StateHalfOpen
)

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

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a CircuitBreaker.
type Config struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxFailures is the consecutive failure count that opens the circuit.
	// Zero uses DefaultMaxFailures.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Zero uses DefaultResetTimeout.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent probes while half-open.
	// Zero uses DefaultHalfOpenMaxCalls.
	HalfOpenMaxCalls int

	// IsFailure decides which errors count against the upstream. Errors it
	// rejects, such as a 404, count as successful round trips. Nil counts
	// every non-nil error.
	IsFailure func(error) bool
}

// Statistics holds circuit breaker counters.
type Statistics struct {
	State               State     `json:"-"`
	StateName           string    `json:"state"`
	TotalRequests       int64     `json:"total_requests"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Rejections          int64     `json:"rejections"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time,omitzero"`
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config
	now    func() time.Time

	state               State
	consecutiveFailures int
	openedAt            time.Time
	lastFailureTime     time.Time
	halfOpenInFlight    int

	totalRequests atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	rejections    atomic.Int64
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn unless the circuit is open. The error of fn is returned
// unchanged; a rejected call returns ErrCircuitOpen without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.totalRequests.Add(1)

	probe, ok := cb.acquire()
	if !ok {
		cb.rejections.Add(1)
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.release(probe, cb.config.IsFailure(err))
	return err
}

// State returns the current state, moving an expired open circuit to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// Statistics returns current circuit breaker statistics.
func (cb *CircuitBreaker) Statistics() Statistics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()

	return Statistics{
		State:               cb.state,
		StateName:           cb.state.String(),
		TotalRequests:       cb.totalRequests.Load(),
		Successes:           cb.successes.Load(),
		Failures:            cb.failures.Load(),
		Rejections:          cb.rejections.Load(),
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailureTime:     cb.lastFailureTime,
	}
}

// Reset closes the circuit and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.openedAt = time.Time{}
	cb.halfOpenInFlight = 0
}

// advance moves an open circuit to half-open once ResetTimeout has passed.
// Callers hold mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenInFlight = 0
	}
}

// acquire reports whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) acquire() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()

	switch cb.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.HalfOpenMaxCalls {
			cb.halfOpenInFlight++
			return true, true
		}
		return false, false
	default:
		return false, false
	}
}

// release records the outcome of a call admitted by acquire.
func (cb *CircuitBreaker) release(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if !failed {
		cb.successes.Add(1)
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
		}
		return
	}

	cb.failures.Add(1)
	cb.consecutiveFailures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

// open trips the circuit. Callers hold mu.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.halfOpenInFlight = 0
}
