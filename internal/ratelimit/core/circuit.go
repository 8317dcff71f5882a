// Package core provides a circuit breaker for store access.
package core

import (
	"sync/atomic"
	"time"
)

// CircuitState represents breaker state.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitOptions configures breaker thresholds.
type CircuitOptions struct {
	FailureThreshold int64         `yaml:"failure_threshold" json:"failureThreshold" validate:"gte=0"`
	OpenDuration     time.Duration `yaml:"open_duration" json:"openDuration" validate:"gte=0"`
	HalfOpenMaxCalls int64         `yaml:"half_open_max_calls" json:"halfOpenMaxCalls" validate:"gte=0"`
}

// CircuitBreaker tracks failures and controls access.
type CircuitBreaker struct {
	state            atomic.Int32
	openUntil        atomic.Int64
	failures         atomic.Int64
	halfOpenInFlight atomic.Int64
	opts             CircuitOptions
	now              func() time.Time
	onChange         func(CircuitState)
}

// NewCircuitBreaker constructs a breaker with defaults.
func NewCircuitBreaker(opts CircuitOptions) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = time.Second
	}
	if opts.HalfOpenMaxCalls <= 0 {
		opts.HalfOpenMaxCalls = 1
	}
	cb := &CircuitBreaker{opts: opts, now: time.Now}
	cb.state.Store(int32(CircuitClosed))
	return cb
}

// SetClock overrides the time source.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	if cb == nil || now == nil {
		return
	}
	cb.now = now
}

// OnStateChange registers a callback invoked on every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(CircuitState)) {
	if cb == nil {
		return
	}
	cb.onChange = fn
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	return CircuitState(cb.state.Load())
}

// Allow reports whether the call should proceed.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}
	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().UnixNano() >= cb.openUntil.Load() {
			if cb.state.CompareAndSwap(int32(CircuitOpen), int32(CircuitHalfOpen)) {
				cb.halfOpenInFlight.Store(0)
				cb.notify(CircuitHalfOpen)
			}
			return cb.admitHalfOpen()
		}
		return false
	case CircuitHalfOpen:
		return cb.admitHalfOpen()
	default:
		return true
	}
}

func (cb *CircuitBreaker) admitHalfOpen() bool {
	inFlight := cb.halfOpenInFlight.Add(1)
	if inFlight <= cb.opts.HalfOpenMaxCalls {
		return true
	}
	cb.halfOpenInFlight.Add(-1)
	return false
}

// OnSuccess records a successful call.
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	switch CircuitState(cb.state.Load()) {
	case CircuitHalfOpen:
		cb.halfOpenInFlight.Add(-1)
		cb.failures.Store(0)
		cb.state.Store(int32(CircuitClosed))
		cb.notify(CircuitClosed)
	case CircuitClosed:
		cb.failures.Store(0)
	}
}

// Abandon releases a half-open slot taken by a call whose outcome says nothing about the backend.
func (cb *CircuitBreaker) Abandon() {
	if cb == nil {
		return
	}
	if CircuitState(cb.state.Load()) == CircuitHalfOpen {
		cb.halfOpenInFlight.Add(-1)
	}
}

// OnFailure records a failure and updates state.
func (cb *CircuitBreaker) OnFailure() {
	if cb == nil {
		return
	}
	if CircuitState(cb.state.Load()) == CircuitHalfOpen {
		cb.halfOpenInFlight.Add(-1)
		cb.trip()
		return
	}
	if cb.failures.Add(1) >= cb.opts.FailureThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.failures.Store(0)
	cb.openUntil.Store(cb.now().Add(cb.opts.OpenDuration).UnixNano())
	if CircuitState(cb.state.Swap(int32(CircuitOpen))) != CircuitOpen {
		cb.notify(CircuitOpen)
	}
}

func (cb *CircuitBreaker) notify(state CircuitState) {
	if cb.onChange != nil {
		cb.onChange(state)
	}
}
