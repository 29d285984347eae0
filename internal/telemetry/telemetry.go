// Package telemetry wires the OpenTelemetry tracer provider.
package telemetry

import (
    "context"
    "io"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    "go.opentelemetry.io/otel/sdk/resource"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Init installs a global tracer provider exporting spans to w as JSON. When
// enabled is false the global no-op provider is left in place and the
// returned shutdown does nothing.
func Init(enabled bool, service, version string, w io.Writer) (ShutdownFunc, error) {
    if !enabled {
        return func(context.Context) error { return nil }, nil
    }

    exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
    if err != nil {
        return nil, err
    }

    res, err := resource.New(
        context.Background(),
        resource.WithAttributes(
            semconv.ServiceName(service),
            semconv.ServiceVersion(version),
        ),
    )
    if err != nil {
        return nil, err
    }

    tp := sdktrace.NewTracerProvider(
        sdktrace.WithBatcher(exporter),
        sdktrace.WithResource(res),
    )
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}
