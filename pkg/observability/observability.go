// Package observability provides OpenTelemetry-based observability for the
// gatehouse kernel.
//
// This package implements:
// - Distributed tracing with OTLP export
// - Metrics collection with RED (Rate, Errors, Duration) pattern
// - Crossing-level instrumentation via TrackCrossing
// - A crossing.Observer implementation for per-gate and per-transition metrics
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

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g., "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0, default 1.0 (sample all)
	BatchTimeout   time.Duration // How long to wait before sending batched spans
	Enabled        bool          // Enable/disable telemetry
	Insecure       bool          // Use insecure connection (dev only)
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "gatehouse",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0, // Sample everything in dev
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false, // Secure by default
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger
	health         *HealthTracker

	// RED metrics (Rate, Errors, Duration) over boundary crossings
	crossingCounter   metric.Int64Counter
	denialCounter     metric.Int64Counter
	durationHist      metric.Float64Histogram
	activeCrossings   metric.Int64UpDownCounter
	transitionCounter metric.Int64Counter
	gateCounter       metric.Int64Counter
}

// New creates a new observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
		health: NewHealthTracker(),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	// Create resource with service information
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("gatehouse.component", "kernel"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Initialize trace provider
	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}

	// Initialize metric provider
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	// Create tracer and meter for the kernel
	p.tracer = otel.Tracer("gatehouse.kernel",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("gatehouse.kernel",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	// Initialize crossing instruments
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)

	return p, nil
}

// initTraceProvider initializes the OpenTelemetry trace provider.
func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}

	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Configure sampler based on sample rate
	var sampler sdktrace.Sampler
	if p.config.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if p.config.SampleRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	// Set as global provider
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

// initMetricProvider initializes the OpenTelemetry metric provider.
func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}

	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	// Set as global provider
	otel.SetMeterProvider(p.meterProvider)

	return nil
}

// initInstruments initializes the crossing instruments.
func (p *Provider) initInstruments() error {
	var err error

	// Rate - Crossing counter
	p.crossingCounter, err = p.meter.Int64Counter("gatehouse.crossings.total",
		metric.WithDescription("Total number of boundary crossings attempted"),
		metric.WithUnit("{crossing}"),
	)
	if err != nil {
		return err
	}

	// Errors - Denial counter
	p.denialCounter, err = p.meter.Int64Counter("gatehouse.denials.total",
		metric.WithDescription("Total number of crossings the kernel refused"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		return err
	}

	// Duration - Latency histogram
	p.durationHist, err = p.meter.Float64Histogram("gatehouse.crossing.duration",
		metric.WithDescription("Boundary crossing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	// Active crossings gauge
	p.activeCrossings, err = p.meter.Int64UpDownCounter("gatehouse.crossings.active",
		metric.WithDescription("Number of crossings currently inside the kernel"),
		metric.WithUnit("{crossing}"),
	)
	if err != nil {
		return err
	}

	// State machine transitions, fed by the crossing.Observer hooks
	p.transitionCounter, err = p.meter.Int64Counter("gatehouse.transitions.total",
		metric.WithDescription("Total number of kernel state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}

	// Per-gate checks, fed by the crossing.Observer hooks
	p.gateCounter, err = p.meter.Int64Counter("gatehouse.gate.checks.total",
		metric.WithDescription("Total number of gate checks by outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("gatehouse.kernel")
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter("gatehouse.kernel")
	}
	return p.meter
}

// Health returns the per-boundary health tracker. It is populated by
// TrackCrossing whether or not telemetry export is enabled.
func (p *Provider) Health() *HealthTracker {
	return p.health
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordCrossing records an attempted crossing with the given attributes.
func (p *Provider) RecordCrossing(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.crossingCounter != nil {
		p.crossingCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDenial records a refused crossing. The kernel error code is attached
// as an attribute; errors from outside the taxonomy count as unclassified.
func (p *Provider) RecordDenial(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p.denialCounter != nil {
		allAttrs := append(attrs, AttrErrorCode.String(errorCode(err)))
		p.denialCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
	}
}

// RecordDuration records the duration of a crossing.
func (p *Provider) RecordDuration(ctx context.Context, duration time.Duration, attrs ...attribute.KeyValue) {
	if p.durationHist != nil {
		p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// TrackCrossing tracks a boundary crossing from start to finish. The span is
// named after the boundary; callers hand the crossing outcome to the returned
// function. Instrumentation never influences the outcome itself.
func (p *Provider) TrackCrossing(ctx context.Context, boundary string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append([]attribute.KeyValue{AttrBoundary.String(boundary)}, attrs...)

	// Start span
	ctx, span := p.StartSpan(ctx, boundary,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	// Increment active crossings
	if p.activeCrossings != nil {
		p.activeCrossings.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	// Record attempt
	p.RecordCrossing(ctx, attrs...)

	return ctx, func(err error) {
		duration := time.Since(start)

		// Decrement active crossings
		if p.activeCrossings != nil {
			p.activeCrossings.Add(ctx, -1, metric.WithAttributes(attrs...))
		}

		// Record duration
		p.RecordDuration(ctx, duration, attrs...)

		// Feed the boundary health tracker
		if p.health != nil {
			p.health.Record(BoundaryObservation{
				Boundary: boundary,
				Latency:  duration,
				Denied:   err != nil,
			})
		}

		// Handle denial
		if err != nil {
			span.RecordError(err)
			p.RecordDenial(ctx, err, attrs...)
		}

		span.End()
	}
}

// errorCode resolves the taxonomy code carried by err for metric attributes.
func errorCode(err error) string {
	if code, ok := kernelerr.CodeOf(err); ok {
		return string(code)
	}
	return string(kernelerr.CodeUnclassified)
}
