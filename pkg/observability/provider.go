package observability

import (
	"context"
	"fmt"
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

// ProviderConfig configures the OpenTelemetry providers.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // e.g. "localhost:4317"
	Enabled        bool
	BatchTimeout   time.Duration
}

// Provider manages trace and metric providers plus the node's RED metrics.
type Provider struct {
	config         ProviderConfig
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	cycleCounter     metric.Int64Counter
	settlementsMade  metric.Int64Counter
	claimsRefused    metric.Int64Counter
	burnAmount       metric.Float64Histogram
	cycleDuration    metric.Float64Histogram
	loadMultiplier   metric.Float64Histogram
}

// NewProvider creates the observability provider. When disabled, all
// instruments are no-ops from the global (unconfigured) providers.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	p := &Provider{config: cfg}

	if cfg.Enabled && cfg.OTLPEndpoint != "" {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}

		traceExp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		batchTimeout := cfg.BatchTimeout
		if batchTimeout <= 0 {
			batchTimeout = 5 * time.Second
		}
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(batchTimeout)),
		)
		otel.SetTracerProvider(p.tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))

		metricExp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		)
		otel.SetMeterProvider(p.meterProvider)
	}

	p.tracer = otel.Tracer(cfg.ServiceName)
	p.meter = otel.Meter(cfg.ServiceName)

	var err error
	if p.cycleCounter, err = p.meter.Int64Counter("mediator.cycles",
		metric.WithDescription("Alignment cycle ticks")); err != nil {
		return nil, err
	}
	if p.settlementsMade, err = p.meter.Int64Counter("mediator.settlements.submitted",
		metric.WithDescription("Settlements submitted to chain")); err != nil {
		return nil, err
	}
	if p.claimsRefused, err = p.meter.Int64Counter("mediator.claims.refused",
		metric.WithDescription("Work claims refused locally")); err != nil {
		return nil, err
	}
	if p.burnAmount, err = p.meter.Float64Histogram("mediator.burn.amount",
		metric.WithDescription("Burn amounts charged")); err != nil {
		return nil, err
	}
	if p.cycleDuration, err = p.meter.Float64Histogram("mediator.cycle.duration_ms",
		metric.WithDescription("Alignment cycle duration")); err != nil {
		return nil, err
	}
	if p.loadMultiplier, err = p.meter.Float64Histogram("mediator.load.multiplier",
		metric.WithDescription("Global load multiplier after each monitor tick")); err != nil {
		return nil, err
	}

	return p, nil
}

// Tracer returns the node tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// RecordCycle records one alignment cycle tick.
func (p *Provider) RecordCycle(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	p.cycleCounter.Add(ctx, 1, attrs)
	p.cycleDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// RecordSettlement records one submitted settlement.
func (p *Provider) RecordSettlement(ctx context.Context) {
	p.settlementsMade.Add(ctx, 1)
}

// RecordClaimRefused records a locally refused work claim.
func (p *Provider) RecordClaimRefused(ctx context.Context) {
	p.claimsRefused.Add(ctx, 1)
}

// RecordBurn records one burn amount.
func (p *Provider) RecordBurn(ctx context.Context, kind string, amount float64) {
	p.burnAmount.Record(ctx, amount, metric.WithAttributes(attribute.String("type", kind)))
}

// RecordLoadMultiplier records the multiplier after a monitor tick.
func (p *Provider) RecordLoadMultiplier(ctx context.Context, lambda float64) {
	p.loadMultiplier.Record(ctx, lambda)
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
