// Package observability defines logging, tracing and metrics interfaces.
package observability

import (
	"context"
	"time"
)

// Span captures tracing span operations.
type Span interface {
	SetAttribute(key, value string)
	RecordError(err error)
	End()
}

// Tracer is an optional tracing dependency.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Metrics records service measurements.
type Metrics interface {
	IncDecision(result string, strategy string)
	ObserveLatency(op string, d time.Duration)
	IncStoreError(op string)
	IncRuleMutation(action string)
	SetBreakerState(state int)
}

// Logger provides structured logging hooks.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) IncDecision(string, string)           {}
func (NoopMetrics) ObserveLatency(string, time.Duration) {}
func (NoopMetrics) IncStoreError(string)                 {}
func (NoopMetrics) IncRuleMutation(string)               {}
func (NoopMetrics) SetBreakerState(int)                  {}
