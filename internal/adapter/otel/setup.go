// Package otel wires OpenTelemetry tracing and metrics: a gRPC OTLP
// exporter pair feeding a TracerProvider and a MeterProvider, plus the
// task-executor-specific instruments and span helpers built on top of
// them.
package otel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes and shuts down both providers.
type ShutdownFunc func(ctx context.Context) error

// Config controls the OTLP exporter endpoints. An empty Endpoint disables
// that signal, leaving the corresponding no-op global provider in place.
type Config struct {
	ServiceName    string
	ServiceVersion string
	TraceEndpoint  string
	MetricEndpoint string
	Insecure       bool
}

// InitTracer sets up the global TracerProvider and MeterProvider from cfg
// and returns a function that flushes and shuts both down. An exporter
// dial error is logged and leaves that signal's no-op global provider in
// place rather than failing startup — telemetry is diagnostic, not
// load-bearing.
func InitTracer(ctx context.Context, cfg Config) ShutdownFunc {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		slog.Warn("otel resource detection failed", "error", err)
		res = resource.Default()
	}

	var shutdowns []func(context.Context) error

	if cfg.TraceEndpoint != "" {
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.TraceEndpoint)}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		}
		traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			slog.Warn("otel trace exporter dial failed", "endpoint", cfg.TraceEndpoint, "error", err)
		} else {
			tp := sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(traceExp),
				sdktrace.WithResource(res),
			)
			otel.SetTracerProvider(tp)
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{}, propagation.Baggage{}))
			shutdowns = append(shutdowns, tp.Shutdown)
		}
	}

	if cfg.MetricEndpoint != "" {
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.MetricEndpoint)}
		if cfg.Insecure {
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			slog.Warn("otel metric exporter dial failed", "endpoint", cfg.MetricEndpoint, "error", err)
		} else {
			mp := sdkmetric.NewMeterProvider(
				sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
				sdkmetric.WithResource(res),
			)
			otel.SetMeterProvider(mp)
			shutdowns = append(shutdowns, mp.Shutdown)
		}
	}

	return func(ctx context.Context) error {
		var firstErr error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("otel shutdown: %w", err)
			}
		}
		return firstErr
	}
}
