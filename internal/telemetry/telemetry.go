// Package telemetry wires OpenTelemetry providers for the HTTP server.
//
// Metrics always flow into the Prometheus registry passed in Config, so
// otelhttp server metrics show up on /metrics. When an OTLP endpoint is set,
// traces, metrics and logs are also exported over gRPC.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config selects which providers Setup installs.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is an http(s) URL of an OTLP/gRPC collector. Empty disables export.
	OTLPEndpoint string
	// Registerer receives the OTel Prometheus exporter. Nil skips it.
	Registerer prometheus.Registerer
}

// Telemetry holds the installed providers. A nil *Telemetry is valid and
// instruments nothing.
type Telemetry struct {
	name           string
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
}

// Setup creates the providers described by cfg and registers them globally.
// It returns nil when cfg enables nothing.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Registerer == nil && cfg.OTLPEndpoint == "" {
		return nil, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	t := &Telemetry{name: cfg.ServiceName}

	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Registerer != nil {
		exp, err := otelprom.New(otelprom.WithRegisterer(cfg.Registerer))
		if err != nil {
			return nil, fmt.Errorf("creating prometheus exporter: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(exp))
	}

	if cfg.OTLPEndpoint != "" {
		traceExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
		)

		metricExp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("creating OTLP metric exporter: %w", err), t.Shutdown(ctx))
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))

		logExp, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("creating OTLP log exporter: %w", err), t.Shutdown(ctx))
		}
		t.loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
			sdklog.WithResource(res),
		)

		otel.SetTracerProvider(t.tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	t.meterProvider = sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetMeterProvider(t.meterProvider)
	return t, nil
}

// Middleware wraps next with otelhttp server instrumentation.
func (t *Telemetry) Middleware(next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	opts := []otelhttp.Option{otelhttp.WithMeterProvider(t.meterProvider)}
	if t.tracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(t.tracerProvider))
	}
	return otelhttp.NewHandler(next, t.name, opts...)
}

// LogHandler returns a slog handler that forwards records to the OTLP log
// exporter, or nil when log export is off.
func (t *Telemetry) LogHandler() slog.Handler {
	if t == nil || t.loggerProvider == nil {
		return nil
	}
	return otelslog.NewHandler(t.name, otelslog.WithLoggerProvider(t.loggerProvider))
}

// Shutdown flushes and stops every installed provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}
	if t.loggerProvider != nil {
		errs = append(errs, t.loggerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
