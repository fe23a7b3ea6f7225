// Package telemetry wires OpenTelemetry tracing and metrics. Traces are
// exported over OTLP/HTTP when an endpoint is configured; metrics are exposed
// in Prometheus text format on /metrics.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cardiodx/cardiodx"

type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is host:port of an OTLP/HTTP collector. Empty disables export.
	OTLPEndpoint string
	OTLPInsecure bool

	// SamplingRate in [0,1]; zero means sample everything.
	SamplingRate float64
}

type Provider struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
	registry       *promclient.Registry
}

// Init builds the providers and installs them as the otel globals.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp, err := initTracing(ctx, res, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry tracing: %w", err)
	}

	reg := promclient.NewRegistry()
	mp, err := initMetrics(res, reg)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry metrics: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{TracerProvider: tp, MeterProvider: mp, registry: reg}, nil
}

func initTracing(ctx context.Context, res *resource.Resource, cfg Config) (*trace.TracerProvider, error) {
	rate := cfg.SamplingRate
	if rate == 0 {
		rate = 1.0
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(rate))),
	)

	if cfg.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		tp.RegisterSpanProcessor(trace.NewBatchSpanProcessor(exporter))
	}
	return tp, nil
}

func initMetrics(res *resource.Resource, reg *promclient.Registry) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(exporter),
	), nil
}

// MetricsHandler serves the provider's Prometheus registry.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.TracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	if err := p.MeterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}

// Tracer returns the application tracer from the global provider.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the application meter from the global provider.
func Meter() otelmetric.Meter {
	return otel.Meter(instrumentationName)
}

// PoolStatsFunc reports connection pool figures: total, idle, acquired.
type PoolStatsFunc func() (total, idle, acquired int64)

// RegisterPoolGauges exports database pool gauges read at collection time.
func RegisterPoolGauges(stats PoolStatsFunc) error {
	m := Meter()
	total, err := m.Int64ObservableGauge("db_pool_connections_total", otelmetric.WithDescription("Open pool connections"))
	if err != nil {
		return err
	}
	idle, err := m.Int64ObservableGauge("db_pool_connections_idle", otelmetric.WithDescription("Idle pool connections"))
	if err != nil {
		return err
	}
	acquired, err := m.Int64ObservableGauge("db_pool_connections_acquired", otelmetric.WithDescription("Connections in use"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(_ context.Context, o otelmetric.Observer) error {
		t, i, a := stats()
		o.ObserveInt64(total, t)
		o.ObserveInt64(idle, i)
		o.ObserveInt64(acquired, a)
		return nil
	}, total, idle, acquired)
	return err
}
