package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/redactai/redactai/internal/redact"
)

const instrumentationName = "redactai"

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
}

// Provider wires tracer/meter providers and exposes helpers.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	assessments           metric.Int64Counter
	assessDuration        metric.Float64Histogram
	classifierDuration    metric.Float64Histogram
	classifierUnavailable metric.Int64Counter
	notifications         metric.Int64Counter
	httpRequests          metric.Int64Counter
	httpDuration          metric.Float64Histogram
	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// NewProvider configures OTLP exporters and providers. When disabled it returns
// no-op providers so callers never branch on telemetry being on.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.Enabled {
		return NewWithProviders(tracenoop.NewTracerProvider(), noop.NewMeterProvider()), nil
	}

	proto := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	redact.Logf("telemetry: enabled (OTLP %s) endpoint=%s", proto, cfg.Endpoint)

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	var (
		spanExp   sdktrace.SpanExporter
		metricRdr sdkmetric.Reader
	)
	switch proto {
	case "", "grpc":
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, err
		}
		spanExp = exp
		mexp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return nil, err
		}
		metricRdr = sdkmetric.NewPeriodicReader(mexp)
	case "http":
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, err
		}
		spanExp = exp
		mexp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, err
		}
		metricRdr = sdkmetric.NewPeriodicReader(mexp)
	default:
		return nil, fmt.Errorf("unsupported telemetry protocol %q", cfg.Protocol)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(metricRdr))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	p := NewWithProviders(tp, mp)
	p.Enabled = true
	p.shutdownTraceProvider = tp.Shutdown
	p.shutdownMeterProvider = mp.Shutdown
	return p, nil
}

// NewWithProviders builds a Provider over existing tracer and meter providers.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) *Provider {
	p := &Provider{
		tracer: tp.Tracer(instrumentationName),
		meter:  mp.Meter(instrumentationName),
	}
	p.initInstruments()
	return p
}

func (p *Provider) initInstruments() {
	// Instruments are best-effort; a failed registration leaves a nil that the
	// record helpers skip.
	p.assessments, _ = p.meter.Int64Counter("redactai_assessments_total")
	p.assessDuration, _ = p.meter.Float64Histogram("redactai_assess_duration_ms")
	p.classifierDuration, _ = p.meter.Float64Histogram("redactai_classifier_duration_ms")
	p.classifierUnavailable, _ = p.meter.Int64Counter("redactai_classifier_unavailable_total")
	p.notifications, _ = p.meter.Int64Counter("redactai_notifications_total")
	p.httpRequests, _ = p.meter.Int64Counter("redactai_http_requests_total")
	p.httpDuration, _ = p.meter.Float64Histogram("redactai_http_duration_ms")
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return noop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// StartSpan opens a span carrying only attributes that pass SafeAttributes.
func (p *Provider) StartSpan(ctx context.Context, name string, values map[string]interface{}) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(SafeAttributes(values)...))
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.shutdownTraceProvider != nil {
		_ = p.shutdownTraceProvider(ctx)
	}
	if p.shutdownMeterProvider != nil {
		_ = p.shutdownMeterProvider(ctx)
	}
}

// RecordAssessment counts one engine decision.
func (p *Provider) RecordAssessment(ctx context.Context, decision string, classifierAvailable bool, durMs float64) {
	if p == nil || p.assessments == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("redactai.decision", decision),
		attribute.Bool("redactai.classifier_available", classifierAvailable),
	)
	p.assessments.Add(ctx, 1, attrs)
	if p.assessDuration != nil {
		p.assessDuration.Record(ctx, durMs, attrs)
	}
}

// RecordClassifier records one classifier call; unavailable calls are also counted.
func (p *Provider) RecordClassifier(ctx context.Context, durMs float64, available bool) {
	if p == nil {
		return
	}
	if p.classifierDuration != nil {
		p.classifierDuration.Record(ctx, durMs, metric.WithAttributes(attribute.Bool("redactai.available", available)))
	}
	if !available && p.classifierUnavailable != nil {
		p.classifierUnavailable.Add(ctx, 1)
	}
}

// RecordNotification counts one dispatch outcome per sink.
func (p *Provider) RecordNotification(ctx context.Context, sink, outcome string) {
	if p == nil || p.notifications == nil {
		return
	}
	p.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("redactai.sink", sink),
		attribute.String("redactai.outcome", outcome),
	))
}

// RecordHTTP records one API request by route pattern and status.
func (p *Provider) RecordHTTP(ctx context.Context, route string, status int, durMs float64) {
	if p == nil || p.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	p.httpRequests.Add(ctx, 1, attrs)
	if p.httpDuration != nil {
		p.httpDuration.Record(ctx, durMs, attrs)
	}
}
