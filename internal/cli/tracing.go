package cli

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/aqasim81/migration-runner/internal/config"
)

// tracerFactory returns the provider for --trace, or nil when tracing is off,
// together with a shutdown func that flushes pending spans.
type tracerFactory func(ctx context.Context, cfg *config.Config) (trace.TracerProvider, func(context.Context) error, error)

func newTracerProvider(ctx context.Context, cfg *config.Config) (trace.TracerProvider, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Trace {
		return nil, noop, nil
	}

	var opts []otlptracegrpc.Option
	if cfg.TraceEndpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.TraceEndpoint))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, noop, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("migrate"),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, noop, fmt.Errorf("creating trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return tp, tp.Shutdown, nil
}
