// Package tracing wires the service into an OTLP collector. Spans matter
// most on the provisioning path, where one request fans out into a dozen
// schema-bound statements; without them a slow signup is just a slow
// signup.
package tracing

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Init installs the global tracer provider. Tracing stays a no-op unless
// OTEL_EXPORTER_OTLP_ENDPOINT is set; TRACE_SAMPLE_RATIO (0..1, default 1)
// throttles root spans for high-traffic deployments. The returned function
// flushes and shuts the provider down.
func Init(ctx context.Context, logger *slog.Logger, serviceName, environment string) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(sampleRatio()))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing initialized",
		slog.String("endpoint", endpoint),
		slog.Float64("sample_ratio", sampleRatio()),
	)
	return tp.Shutdown, nil
}

func sampleRatio() float64 {
	raw := os.Getenv("TRACE_SAMPLE_RATIO")
	if raw == "" {
		return 1
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1
	}
	return ratio
}
