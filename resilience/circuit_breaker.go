// Package resilience provides a circuit breaker used to guard Store I/O
// against a degraded backing database: once a Store starts failing
// consistently, the breaker trips open so callers fail fast with
// workflowerr.StepExecutionFailed instead of piling up blocked goroutines
// against a database that isn't answering.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	Name                       string
	MaxRequests                uint32 // requests allowed when half-open
	Interval                   time.Duration
	Timeout                    time.Duration // time to wait before half-open (60s if zero)
	ReadyToTrip                ReadyToTripFunc
	OnStateChange              OnStateChangeFunc
	IsSuccessful               IsSuccessfulFunc
	MaxConcurrentCalls         int32
	MinimumThroughputThreshold uint32
}

type ReadyToTripFunc func(counts Counts) bool
type OnStateChangeFunc func(name string, from, to CircuitBreakerState)
type IsSuccessfulFunc func(err error) bool

// Counts holds the number of requests and their results within the
// current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	name                   string
	maxRequests            uint32
	interval               time.Duration
	timeout                time.Duration
	readyToTrip            ReadyToTripFunc
	onStateChange          OnStateChangeFunc
	isSuccessful           IsSuccessfulFunc
	maxConcurrentCalls     int32
	minThroughputThreshold uint32

	mutex      sync.Mutex
	state      CircuitBreakerState
	generation uint64
	counts     Counts
	expiry     time.Time

	concurrentCalls int32

	lastFailure time.Time
	lastSuccess time.Time

	logger *zap.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given
// configuration.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:                   config.Name,
		maxRequests:            config.MaxRequests,
		interval:               config.Interval,
		timeout:                config.Timeout,
		readyToTrip:            config.ReadyToTrip,
		onStateChange:          config.OnStateChange,
		isSuccessful:           config.IsSuccessful,
		maxConcurrentCalls:     config.MaxConcurrentCalls,
		minThroughputThreshold: config.MinimumThroughputThreshold,
		state:                  StateClosed,
		logger:                 logger.With(zap.String("component", "circuit_breaker"), zap.String("name", config.Name)),
	}

	if cb.readyToTrip == nil {
		cb.readyToTrip = defaultReadyToTrip
	}
	if cb.isSuccessful == nil {
		cb.isSuccessful = defaultIsSuccessful
	}
	if cb.maxRequests == 0 {
		cb.maxRequests = 1
	}
	if cb.timeout <= 0 {
		cb.timeout = 60 * time.Second
	}

	return cb
}

// Execute runs fn if the breaker allows it, and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := cb.beforeCall()
	if err != nil {
		return err
	}

	current := atomic.AddInt32(&cb.concurrentCalls, 1)
	defer atomic.AddInt32(&cb.concurrentCalls, -1)

	if cb.maxConcurrentCalls > 0 && current > cb.maxConcurrentCalls {
		return errors.New("circuit breaker: concurrent call limit exceeded")
	}

	callErr := fn(ctx)
	cb.afterCall(generation, callErr)
	return callErr
}

func (cb *CircuitBreaker) beforeCall() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)

	switch state {
	case StateClosed:
		return generation, nil
	case StateOpen:
		return generation, fmt.Errorf("circuit breaker %q is open", cb.name)
	default: // half-open
		if cb.counts.Requests >= cb.maxRequests {
			return generation, fmt.Errorf("circuit breaker %q is half-open and at its request limit", cb.name)
		}
		return generation, nil
	}
}

func (cb *CircuitBreaker) afterCall(before uint64, err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)
	if generation != before {
		return
	}

	success := cb.isSuccessful(err)
	cb.counts.Requests++
	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		cb.lastSuccess = now
	} else {
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
		cb.lastFailure = now
	}

	cb.checkStateTransition(state, now)
}

func (cb *CircuitBreaker) currentState(now time.Time) (CircuitBreakerState, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.toNewGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) checkStateTransition(state CircuitBreakerState, now time.Time) {
	switch state {
	case StateClosed:
		if cb.shouldTripToOpen() {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		if cb.counts.ConsecutiveFailures > 0 {
			cb.setState(StateOpen, now)
		} else if cb.counts.ConsecutiveSuccesses >= cb.maxRequests {
			cb.setState(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) shouldTripToOpen() bool {
	if cb.counts.Requests < cb.minThroughputThreshold {
		return false
	}
	return cb.readyToTrip(cb.counts)
}

func (cb *CircuitBreaker) setState(state CircuitBreakerState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.toNewGeneration(now)

	if state == StateOpen {
		cb.expiry = now.Add(cb.timeout)
	} else {
		cb.expiry = time.Time{}
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("circuit breaker state changed",
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
		zap.Uint32("requests", cb.counts.Requests),
		zap.Uint32("failures", cb.counts.TotalFailures),
	)
}

func (cb *CircuitBreaker) toNewGeneration(now time.Time) {
	cb.generation++
	cb.counts = Counts{}
	if cb.interval > 0 {
		cb.expiry = now.Add(cb.interval)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state, _ := cb.currentState(time.Now())
	return state
}

// Reset forces the breaker back to closed. Test-only.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.toNewGeneration(time.Now())
	cb.setState(StateClosed, time.Now())
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.ConsecutiveFailures > 5
}

func defaultIsSuccessful(err error) bool {
	return err == nil
}
