package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "phototree"
	ServiceVersion = "1.0.0"
)

// Tracer holds the tracer instance
type Tracer struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// NewTracer creates a tracer that exports spans to w and installs it as the
// global provider
func NewTracer(serviceName string, w io.Writer) (*Tracer, error) {
	if serviceName == "" {
		serviceName = ServiceName
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", ServiceVersion),
	)

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{
		tracer: tp.Tracer(serviceName),
		tp:     tp,
	}, nil
}

// StartSpan starts a new span with the provided name
func (t *Tracer) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// Shutdown flushes pending spans and stops the provider
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.tp.Shutdown(ctx)
}

// Start opens a span on the global provider. The engine uses it so that it
// traces whether or not a Tracer was installed.
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(ServiceName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// SetSpanError records err on the current span
func SetSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.RecordError(err)
	}
}

// LibraryTracingAttrs returns common attributes for library operations
func LibraryTracingAttrs(operation string, albumID int64, p string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("component", "library"),
		attribute.String("library.operation", operation),
	}
	if albumID != 0 {
		attrs = append(attrs, attribute.Int64("album.id", albumID))
	}
	if p != "" {
		attrs = append(attrs, attribute.String("library.path", p))
	}
	return attrs
}
