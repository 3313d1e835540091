// Package observability wires OpenTelemetry tracing for the server.
//
// Spans are exported over OTLP HTTP to a local collector or agent. The
// endpoint is plain HTTP because the collector is expected to sit on
// localhost; the agent forwards to whatever backend is configured there.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName tags every exported span.
const ServiceName = "shiplog"

// Config for the tracing pipeline.
type Config struct {
	// Endpoint is the OTLP HTTP collector address (host:port). Empty
	// disables export entirely.
	Endpoint string
	// Environment lands on spans as deployment.environment.
	Environment string
}

// noopShutdown stands in when tracing is disabled or setup degrades.
func noopShutdown(context.Context) error { return nil }

// Setup installs a tracer provider exporting to cfg.Endpoint and returns
// a shutdown function that flushes pending spans. With an empty endpoint,
// or when the exporter cannot be built, the process keeps running without
// tracing; span creation against the default provider is a no-op.
func Setup(ctx context.Context, logger *slog.Logger, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Debug("tracing disabled, no OTLP endpoint configured")
		return noopShutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("building OTLP exporter failed, tracing disabled", "error", err)
		return noopShutdown, nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", ServiceName),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	res := resource.NewSchemaless(attrs...)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"endpoint", cfg.Endpoint,
		"environment", cfg.Environment,
	)
	return tp.Shutdown, nil
}
