// Package observability provides tracing helpers.
package observability

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NoopTracer is a tracer that records nothing.
type NoopTracer struct{}

// NoopSpan is a span that records nothing.
type NoopSpan struct{}

// StartSpan starts a span that does nothing.
func (t NoopTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, NoopSpan{}
}

// SetAttribute is a no-op.
func (s NoopSpan) SetAttribute(key, value string) {}

// RecordError is a no-op.
func (s NoopSpan) RecordError(err error) {}

// End is a no-op.
func (s NoopSpan) End() {}

// OTelTracer adapts an OpenTelemetry tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer returns a tracer from the given provider, or the global one when nil.
func NewOTelTracer(provider trace.TracerProvider, name string) *OTelTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &OTelTracer{tracer: provider.Tracer(name)}
}

// StartSpan starts an OpenTelemetry span.
func (t *OTelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) SetAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

func (s otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s otelSpan) End() {
	s.span.End()
}

// TracingOptions configures the tracer provider.
type TracingOptions struct {
	ServiceName string
	Exporter    string
	SampleRate  int
	Output      io.Writer
}

// SetupTracing installs an SDK tracer provider. SampleRate is a percentage of traces kept.
// The returned shutdown func flushes pending spans.
func SetupTracing(opts TracingOptions) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	sampler := sdktrace.TraceIDRatioBased(float64(clampRate(opts.SampleRate)) / 100)
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if opts.ServiceName != "" {
		providerOpts = append(providerOpts, sdktrace.WithResource(
			resource.NewSchemaless(attribute.String("service.name", opts.ServiceName)),
		))
	}
	switch strings.ToLower(strings.TrimSpace(opts.Exporter)) {
	case "", "none":
	case "stdout":
		out := opts.Output
		if out == nil {
			out = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, nil, err
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	default:
		return nil, nil, errors.New("unsupported trace exporter: " + opts.Exporter)
	}
	provider := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(provider)
	return provider, provider.Shutdown, nil
}

func clampRate(rate int) int {
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}
