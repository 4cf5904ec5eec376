// Package telemetry exports controller spans over OTLP when
// OTEL_EXPORTER_OTLP_ENDPOINT is set. Otherwise spans go to the global no-op
// provider.
package telemetry

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used for every span.
const InstrumentationName = "github.com/lucasnoah/converge"

// Attribute keys.
const (
	KeyInvocation  = "converge.invocation.id"
	KeyRepo        = "converge.repo"
	KeyPhase       = "converge.phase"
	KeyCheck       = "converge.check.name"
	KeyJob         = "converge.job.name"
	KeyFingerprint = "converge.fingerprint"
	KeyAttempt     = "converge.attempt"
	KeyRound       = "converge.round"
	KeyRunID       = "converge.run.id"
	KeyOutcome     = "converge.outcome"
)

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(context.Context) error

// Setup installs an OTLP trace provider when OTEL_EXPORTER_OTLP_ENDPOINT is
// set. The exporter reads the remaining OTEL_EXPORTER_OTLP_* variables
// itself. The returned shutdown is always safe to call.
func Setup(ctx context.Context, version string) (ShutdownFunc, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = "converge"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Start opens a span on the global provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(InstrumentationName).Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// End closes span, marking it failed when err is non-nil.
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
