// Package observability records spans and RED metrics for store operations.
//
// With telemetry enabled, spans and metrics are exported over OTLP gRPC.
// Disabled, operations still open spans on the global tracer so a host
// process can pick them up.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	scopeName      = "github.com/timini/securedrop"
	serviceName    = "sdstore"
	exportInterval = 15 * time.Second
)

// Config selects where telemetry goes. The zero value disables export.
type Config struct {
	Enabled  bool
	Endpoint string // OTLP gRPC collector, host:port
	Insecure bool   // plaintext gRPC
}

// Provider tracks store operations. A nil instrument set means metrics are
// off; spans are always started.
type Provider struct {
	tracer  trace.Tracer
	metrics *redMetrics
	logger  *slog.Logger

	shutdown []func(context.Context) error
}

type redMetrics struct {
	operations metric.Int64Counter
	errors     metric.Int64Counter
	duration   metric.Float64Histogram
	active     metric.Int64UpDownCounter
}

// Disabled returns a provider that exports nothing.
func Disabled() *Provider {
	return &Provider{
		tracer: otel.Tracer(scopeName),
		logger: slog.Default().With("component", "observability"),
	}
}

// FromProviders builds a provider on existing tracer and meter providers,
// for hosts that already run an OpenTelemetry pipeline.
func FromProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := Disabled()
	p.tracer = tp.Tracer(scopeName)
	m, err := newREDMetrics(mp.Meter(scopeName))
	if err != nil {
		return nil, err
	}
	p.metrics = m
	return p, nil
}

// New starts OTLP exporters when cfg.Enabled is set and registers them as
// the global providers. Otherwise it returns Disabled().
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spanExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(spanExporter))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(exportInterval))))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	p, err := FromProviders(tp, mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	p.shutdown = []func(context.Context) error{tp.Shutdown, mp.Shutdown}
	p.logger.InfoContext(ctx, "telemetry export enabled", "endpoint", cfg.Endpoint, "insecure", cfg.Insecure)
	return p, nil
}

func newREDMetrics(m metric.Meter) (*redMetrics, error) {
	var (
		r    redMetrics
		errs [4]error
	)
	r.operations, errs[0] = m.Int64Counter("sdstore.operations.total",
		metric.WithDescription("Store operations started"), metric.WithUnit("{operation}"))
	r.errors, errs[1] = m.Int64Counter("sdstore.errors.total",
		metric.WithDescription("Store operations that failed"), metric.WithUnit("{error}"))
	r.duration, errs[2] = m.Float64Histogram("sdstore.operation.duration",
		metric.WithDescription("Store operation latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120))
	r.active, errs[3] = m.Int64UpDownCounter("sdstore.operations.active",
		metric.WithDescription("Store operations in flight"), metric.WithUnit("{operation}"))
	if err := errors.Join(errs[:]...); err != nil {
		return nil, fmt.Errorf("telemetry instruments: %w", err)
	}
	return &r, nil
}

// Shutdown flushes pending telemetry. Export errors are logged, not returned.
func (p *Provider) Shutdown(ctx context.Context) error {
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			p.logger.WarnContext(ctx, "telemetry flush failed", "error", err)
		}
	}
	return nil
}

// TrackOperation opens a span named after the operation and counts it. The
// returned func ends both and must be called exactly once.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append([]attribute.KeyValue{AttrOperation.String(name)}, attrs...)
	set := metric.WithAttributes(attrs...)

	ctx, span := p.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
	if p.metrics != nil {
		p.metrics.operations.Add(ctx, 1, set)
		p.metrics.active.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if p.metrics == nil {
			return
		}
		p.metrics.active.Add(ctx, -1, set)
		p.metrics.duration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			p.metrics.errors.Add(ctx, 1, metric.WithAttributes(append(attrs[:len(attrs):len(attrs)], attribute.String("error.type", fmt.Sprintf("%T", err)))...))
		}
	}
}
