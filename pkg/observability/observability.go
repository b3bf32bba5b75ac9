// Package observability traces insert calls with OpenTelemetry. The
// provider is owned by the client and passed down explicitly; when tracing
// is disabled every span is a no-op. Prometheus counters live in
// pkg/metrics, structured logging in pkg/logger.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls insert call tracing.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SamplingRate in [0, 1]; 0 never samples, 1 always samples.
	SamplingRate   float64
	Exporter       string // "stdout" is the only built-in exporter
	BatchTimeout   time.Duration
	MaxExportBatch int
	MaxQueueSize   int
}

// DefaultConfig returns tracing defaults: disabled, stdout exporter, 10%
// sampling when enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "rowforge",
		ServiceVersion: "dev",
		Environment:    "development",
		SamplingRate:   0.1,
		Exporter:       "stdout",
		BatchTimeout:   5 * time.Second,
		MaxExportBatch: 512,
		MaxQueueSize:   2048,
	}
}

// Provider owns a tracer provider's lifecycle. The zero value is unusable;
// construct with NewProvider.
type Provider struct {
	tp         *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	// Instruments ride the global meter provider; without one registered
	// they are no-ops.
	rows   metric.Int64Counter
	blocks metric.Int64Counter
	failed metric.Int64Counter
}

// NewProvider builds a tracing provider. A disabled config yields a
// provider whose spans are no-ops and whose Shutdown does nothing.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		p := &Provider{
			tracer:     noop.NewTracerProvider().Tracer("rowforge"),
			propagator: propagation.TraceContext{},
		}
		if err := p.initInstruments(); err != nil {
			return nil, err
		}
		return p, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("build trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatch),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
	)

	p := &Provider{
		tp:     tp,
		tracer: tp.Tracer(cfg.ServiceName),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
	if err := p.initInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	meter := otel.Meter("rowforge")
	var err error
	if p.rows, err = meter.Int64Counter("rowforge.rows",
		metric.WithDescription("Rows handed to the transport")); err != nil {
		return fmt.Errorf("build rows counter: %w", err)
	}
	if p.blocks, err = meter.Int64Counter("rowforge.blocks",
		metric.WithDescription("Blocks handed to the transport")); err != nil {
		return fmt.Errorf("build blocks counter: %w", err)
	}
	if p.failed, err = meter.Int64Counter("rowforge.insert_errors",
		metric.WithDescription("Insert calls that returned an error")); err != nil {
		return fmt.Errorf("build error counter: %w", err)
	}
	return nil
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes buffered spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Inject writes the trace context into outgoing request headers.
func (p *Provider) Inject(ctx context.Context, header http.Header) {
	p.propagator.Inject(ctx, propagation.HeaderCarrier(header))
}

// StartInsert opens a span for one insert call.
func (p *Provider) StartInsert(ctx context.Context, table, format string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "rowforge.insert",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.table", table),
			attribute.String("rowforge.format", format),
		),
	)
}

// EndInsert records the call outcome on the span and the otel counters,
// then closes the span.
func (p *Provider) EndInsert(ctx context.Context, span trace.Span, table string, rows, blocks int, bytes int64, err error) {
	span.SetAttributes(
		attribute.Int("rowforge.rows", rows),
		attribute.Int("rowforge.blocks", blocks),
		attribute.Int64("rowforge.bytes", bytes),
	)

	attrs := metric.WithAttributes(attribute.String("db.table", table))
	p.rows.Add(ctx, int64(rows), attrs)
	p.blocks.Add(ctx, int64(blocks), attrs)
	if err != nil {
		p.failed.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
