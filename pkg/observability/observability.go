// Package observability provides OpenTelemetry-based tracing and metrics
// export for the replay/execution core. It is strictly ambient: spans
// and counters here never feed canonical hashing (pkg/canonical) or the
// Metrics Registry (pkg/metrics), which are the hashed/scraped surfaces
// respectively.
package observability

import (
	"context"
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

// Config configures the OpenTelemetry providers for one runner process.
type Config struct {
	ServiceName  string
	RunID        string
	Environment  string
	OTLPEndpoint string
	SampleRate   float64
	BatchTimeout time.Duration
	Enabled      bool
	Insecure     bool
}

// DefaultConfig returns a disabled-by-default configuration; the CLI
// runner enables it when REPLAYCORE_OTLP_ENABLED is set.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:  "replaycore-engine",
		Environment:  "development",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      false,
		Insecure:     true,
	}
}

// Provider manages the trace/metric providers for one run and exposes
// span helpers scoped to the dispatch loop.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	eventsCounter    metric.Int64Counter
	errorsCounter    metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	activeRuns       metric.Int64UpDownCounter
}

// New creates a Provider. When config.Enabled is false, all recording
// methods are safe no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("replaycore.run_id", config.RunID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("replaycore.engine")
	p.meter = otel.Meter("replaycore.engine")

	if err := p.initDispatchMetrics(); err != nil {
		return nil, fmt.Errorf("observability: init dispatch metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"run_id", config.RunID,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initDispatchMetrics() error {
	var err error
	p.eventsCounter, err = p.meter.Int64Counter("replaycore.dispatch.events",
		metric.WithDescription("Events dispatched through the Strategy Runtime"),
		metric.WithUnit("{event}"))
	if err != nil {
		return err
	}
	p.errorsCounter, err = p.meter.Int64Counter("replaycore.dispatch.errors",
		metric.WithDescription("Contained or terminal dispatch errors"),
		metric.WithUnit("{error}"))
	if err != nil {
		return err
	}
	p.dispatchDuration, err = p.meter.Float64Histogram("replaycore.dispatch.duration",
		metric.WithDescription("Per-event dispatch duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0))
	if err != nil {
		return err
	}
	p.activeRuns, err = p.meter.Int64UpDownCounter("replaycore.runs.active",
		metric.WithDescription("Currently dispatching runs"),
		metric.WithUnit("{run}"))
	return err
}

// Shutdown flushes and releases the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// StartDispatchSpan starts a span covering one event's full dispatch.
func (p *Provider) StartDispatchSpan(ctx context.Context, tsEvent, seq uint64) (context.Context, trace.Span) {
	if p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "dispatch_event",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("replaycore.ts_event", int64(tsEvent)),
			attribute.Int64("replaycore.seq", int64(seq)),
		),
	)
}

// RecordDispatch records one completed event dispatch's duration and
// outcome.
func (p *Provider) RecordDispatch(ctx context.Context, duration time.Duration, err error) {
	if p.eventsCounter != nil {
		p.eventsCounter.Add(ctx, 1)
	}
	if p.dispatchDuration != nil {
		p.dispatchDuration.Record(ctx, duration.Seconds())
	}
	if err != nil && p.errorsCounter != nil {
		p.errorsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("error.type", fmt.Sprintf("%T", err))))
	}
}

// TrackRun brackets a full run with an active-runs gauge and a root
// span, returning a function to call on completion.
func (p *Provider) TrackRun(ctx context.Context, runID string) (context.Context, func(error)) {
	ctx, span := p.startRootSpan(ctx, runID)
	if p.activeRuns != nil {
		p.activeRuns.Add(ctx, 1)
	}
	start := time.Now()
	return ctx, func(err error) {
		if p.activeRuns != nil {
			p.activeRuns.Add(ctx, -1)
		}
		if err != nil {
			span.RecordError(err)
		}
		_ = time.Since(start)
		span.End()
	}
}

func (p *Provider) startRootSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	if p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "replay_run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("replaycore.run_id", runID)),
	)
}
