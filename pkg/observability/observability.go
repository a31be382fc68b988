// Package observability wires OpenTelemetry tracing and metrics around
// solves and their stages. Every tracked operation emits rate, error and
// duration metrics; finished solves additionally emit an outcome counter
// and a confidence histogram. A disabled provider records nothing.
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

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

const instrumentationName = "github.com/Mindburn-Labs/verifiquant"

// Config configures OTLP gRPC export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string // host:port of the collector
	SampleRate     float64
	Insecure       bool
	ExportInterval time.Duration
}

func (c *Config) defaults() {
	if c.ServiceName == "" {
		c.ServiceName = "verifiquant"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "dev"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1
	}
	if c.ExportInterval <= 0 {
		c.ExportInterval = 15 * time.Second
	}
}

// Provider owns the trace and meter providers. The zero-instrument provider
// returned by Disabled is safe to use everywhere.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	inst           *instruments
	slo            *SLOTracker
	logger         *slog.Logger
}

type instruments struct {
	operations metric.Int64Counter
	failures   metric.Int64Counter
	latency    metric.Float64Histogram
	inflight   metric.Int64UpDownCounter
	outcomes   metric.Int64Counter
	confidence metric.Float64Histogram
}

// Disabled returns a provider that traces through the global no-op tracer
// and records no metrics.
func Disabled() *Provider {
	return &Provider{
		tracer: otel.Tracer(instrumentationName),
		logger: slog.Default().With("component", "observability"),
	}
}

// New exports traces and metrics over OTLP gRPC and installs the providers
// globally.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	cfg.defaults()

	// Schemaless so the merge never conflicts with the SDK default's schema.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spanExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.ExportInterval))),
	)

	p, err := newProvider(tp, mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p.logger.InfoContext(ctx, "telemetry exporting", "endpoint", cfg.Endpoint, "sample_rate", cfg.SampleRate, "insecure", cfg.Insecure)
	return p, nil
}

// newProvider builds instruments on the given providers without touching
// the globals. tp may be nil.
func newProvider(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) (*Provider, error) {
	p := &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         otel.Tracer(instrumentationName),
		logger:         slog.Default().With("component", "observability"),
	}
	if tp != nil {
		p.tracer = tp.Tracer(instrumentationName)
	}
	inst, err := newInstruments(mp.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("otel instruments: %w", err)
	}
	p.inst = inst
	return p, nil
}

func newInstruments(m metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.operations, err = m.Int64Counter("verifiquant.operations",
		metric.WithDescription("Operations started"), metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	if in.failures, err = m.Int64Counter("verifiquant.operation.failures",
		metric.WithDescription("Operations that ended in an error"), metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	if in.latency, err = m.Float64Histogram("verifiquant.operation.duration",
		metric.WithDescription("Operation duration"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)); err != nil {
		return nil, err
	}
	if in.inflight, err = m.Int64UpDownCounter("verifiquant.operations.active",
		metric.WithDescription("Operations in flight"), metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	if in.outcomes, err = m.Int64Counter("verifiquant.solve.outcomes",
		metric.WithDescription("Finished solves by status"), metric.WithUnit("{solve}")); err != nil {
		return nil, err
	}
	if in.confidence, err = m.Float64Histogram("verifiquant.solve.confidence",
		metric.WithDescription("Confidence score of answered and low-confidence solves"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1)); err != nil {
		return nil, err
	}
	return &in, nil
}

// WithSLO records every tracked operation into t.
func (p *Provider) WithSLO(t *SLOTracker) *Provider {
	p.slo = t
	return p
}

// SLO returns the attached tracker, or nil.
func (p *Provider) SLO() *SLOTracker { return p.slo }

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		errs = append(errs, p.tracerProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// TrackOperation opens a span for name and returns the func that closes it.
// The error passed to that func marks the span failed and is counted under
// its error code.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))

	opAttrs := metric.WithAttributes(AttrOperation.String(name))
	if p.inst != nil {
		p.inst.operations.Add(ctx, 1, opAttrs)
		p.inst.inflight.Add(ctx, 1, opAttrs)
	}

	return ctx, func(err error) {
		elapsed := time.Since(start)
		if p.inst != nil {
			p.inst.inflight.Add(ctx, -1, opAttrs)
			p.inst.latency.Record(ctx, elapsed.Seconds(), opAttrs)
			if err != nil {
				p.inst.failures.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(name), AttrErrorCode.String(errorCode(err))))
			}
		}
		SetSpanStatus(ctx, err)
		if err != nil {
			span.RecordError(err)
		}
		if p.slo != nil {
			p.slo.Record(SLOObservation{Operation: name, Latency: elapsed, Success: err == nil})
		}
		span.End()
	}
}

// RecordOutcome counts a finished solve by status and card and records its
// confidence when one was computed.
func (p *Provider) RecordOutcome(ctx context.Context, r contracts.SolveResult) {
	if p.inst == nil || r == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrStatus.String(string(r.Status()))}
	switch v := r.(type) {
	case *contracts.Success:
		attrs = append(attrs, AttrCardID.String(v.CardID), AttrFallback.Bool(v.IsFallback))
		p.inst.confidence.Record(ctx, v.Confidence.Score, metric.WithAttributes(AttrCardID.String(v.CardID)))
	case *contracts.Refused:
		attrs = append(attrs, AttrCardID.String(v.CardID), AttrErrorCode.String(v.Code))
		if v.Score != nil {
			p.inst.confidence.Record(ctx, *v.Score, metric.WithAttributes(AttrCardID.String(v.CardID)))
		}
	case *contracts.Errored:
		attrs = append(attrs, AttrErrorCode.String(v.Code))
	}
	p.inst.outcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// errorCode labels err by its stable code when it carries one.
func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	if errors.Is(err, context.Canceled) {
		return contracts.CodeRequestCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "VQ/CORE/REQUEST/DEADLINE_EXCEEDED"
	}
	return "VQ/CORE/INTERNAL"
}
