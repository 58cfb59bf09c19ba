// Package breaker implements the circuit breaker that shields the database
// from connection storms while it is unreachable.
package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned by Execute when the breaker rejects a call without
// invoking it.
var ErrOpen = errors.New("circuit breaker is open")

// Config is the configuration for circuit breaker
type Config struct {
	FailureThreshold int           // Number of consecutive failures before opening
	SuccessThreshold int           // Number of half-open successes before closing
	Timeout          time.Duration // Time spent open before probing again
	HalfOpenLimit    int           // Probes admitted while half-open
	FailureRate      float64       // Windowed failure rate that opens the breaker, 0 disables
	MinRequests      int           // Windowed requests required before FailureRate applies
}

// State represents the state of a circuit breaker
type State int32

const (
	// StateClosed allows all calls to pass through
	StateClosed State = iota
	// StateOpen blocks all calls
	StateOpen
	// StateHalfOpen allows a limited number of calls to test if the database has recovered
	StateHalfOpen
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	config Config
	logger *zap.Logger

	state           int32
	lastStateChange time.Time
	nextRetryTime   time.Time

	consecutiveFailures  int32
	consecutiveSuccesses int32
	halfOpenCounter      int32

	window *SlidingWindow

	// onStateChange is invoked after every transition, outside the lock
	onStateChange func(from, to State)

	mu sync.RWMutex
}

// New creates a new circuit breaker in the closed state.
func New(config Config, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.HalfOpenLimit <= 0 {
		config.HalfOpenLimit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CircuitBreaker{
		config:          config,
		logger:          logger.With(zap.String("component", "circuit_breaker")),
		state:           int32(StateClosed),
		lastStateChange: time.Now(),
		// 1-minute window with 6 buckets of 10 seconds each
		window: NewSlidingWindow(10*time.Second, 60*time.Second),
	}
}

// OnStateChange registers a callback for state transitions.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn with circuit breaker protection. While the breaker is open
// fn is not invoked and ErrOpen is returned.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrOpen
	}

	err := fn(ctx)
	if err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// Allow determines if a call should be allowed based on the current circuit state.
func (cb *CircuitBreaker) Allow() bool {
	switch cb.State() {
	case StateClosed:
		return true

	case StateOpen:
		cb.mu.RLock()
		shouldRetry := time.Now().After(cb.nextRetryTime)
		cb.mu.RUnlock()

		if shouldRetry {
			cb.transition(StateOpen, StateHalfOpen)
			return cb.allowHalfOpen()
		}
		return false

	case StateHalfOpen:
		return cb.allowHalfOpen()

	default:
		return false
	}
}

// RecordSuccess records a successful call and updates the circuit state accordingly.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.window.RecordRequest(true)

	switch cb.State() {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)

	case StateHalfOpen:
		cb.finishProbe()
		successes := atomic.AddInt32(&cb.consecutiveSuccesses, 1)
		if successes >= int32(cb.config.SuccessThreshold) {
			cb.transition(StateHalfOpen, StateClosed)
		}
	}
}

// RecordFailure records a failed call and updates the circuit state accordingly.
// In half-open state any failure reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.window.RecordRequest(false)

	switch cb.State() {
	case StateClosed:
		failures := atomic.AddInt32(&cb.consecutiveFailures, 1)
		if failures >= int32(cb.config.FailureThreshold) || cb.rateExceeded() {
			cb.transition(StateClosed, StateOpen)
		}

	case StateHalfOpen:
		cb.transition(StateHalfOpen, StateOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	return State(atomic.LoadInt32(&cb.state))
}

func (cb *CircuitBreaker) rateExceeded() bool {
	if cb.config.FailureRate <= 0 {
		return false
	}
	stats := cb.window.GetStats()
	return stats.TotalRequests >= int64(cb.config.MinRequests) && stats.FailureRate > cb.config.FailureRate
}

// allowHalfOpen checks if a call is allowed in half-open state
func (cb *CircuitBreaker) allowHalfOpen() bool {
	for {
		n := atomic.LoadInt32(&cb.halfOpenCounter)
		if n >= int32(cb.config.HalfOpenLimit) {
			return false
		}
		if atomic.CompareAndSwapInt32(&cb.halfOpenCounter, n, n+1) {
			return true
		}
	}
}

// finishProbe frees the half-open slot of a completed probe so the next one
// can run until SuccessThreshold is reached.
func (cb *CircuitBreaker) finishProbe() {
	for {
		n := atomic.LoadInt32(&cb.halfOpenCounter)
		if n <= 0 || atomic.CompareAndSwapInt32(&cb.halfOpenCounter, n, n-1) {
			return
		}
	}
}

// transition moves the breaker from one state to another if it is still in from.
func (cb *CircuitBreaker) transition(from, to State) {
	cb.mu.Lock()
	if !atomic.CompareAndSwapInt32(&cb.state, int32(from), int32(to)) {
		cb.mu.Unlock()
		return
	}

	now := time.Now()
	cb.lastStateChange = now
	atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt32(&cb.halfOpenCounter, 0)

	switch to {
	case StateOpen:
		cb.nextRetryTime = now.Add(cb.config.Timeout)
		cb.logger.Warn("circuit breaker opened",
			zap.Time("retry_after", cb.nextRetryTime),
			zap.Int32("consecutive_failures", atomic.LoadInt32(&cb.consecutiveFailures)))
	case StateHalfOpen:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		cb.logger.Info("circuit breaker half-open")
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		cb.logger.Info("circuit breaker closed")
	}

	hook := cb.onStateChange
	cb.mu.Unlock()

	if hook != nil {
		hook(from, to)
	}
}

// GetState returns the current state of the circuit breaker along with statistics
func (cb *CircuitBreaker) GetState() Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := cb.window.GetStats()

	return Snapshot{
		State:                cb.State().String(),
		LastStateChange:      cb.lastStateChange,
		ConsecutiveFailures:  atomic.LoadInt32(&cb.consecutiveFailures),
		ConsecutiveSuccesses: atomic.LoadInt32(&cb.consecutiveSuccesses),
		TotalRequests:        stats.TotalRequests,
		FailedRequests:       stats.FailedRequests,
		FailureRate:          stats.FailureRate,
		NextRetryTime:        cb.nextRetryTime,
	}
}

// Snapshot represents the current state and statistics of a circuit breaker
type Snapshot struct {
	State                string    `json:"state"`
	LastStateChange      time.Time `json:"last_state_change"`
	ConsecutiveFailures  int32     `json:"consecutive_failures"`
	ConsecutiveSuccesses int32     `json:"consecutive_successes"`
	TotalRequests        int64     `json:"total_requests"`
	FailedRequests       int64     `json:"failed_requests"`
	FailureRate          float64   `json:"failure_rate"`
	NextRetryTime        time.Time `json:"next_retry_time,omitempty"`
}
