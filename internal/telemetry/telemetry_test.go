package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if p.Enabled {
		t.Fatalf("expected disabled provider")
	}
	ctx, span := p.StartSpan(context.Background(), "engine.assess", map[string]interface{}{"decision": "SAFE"})
	span.End()
	p.RecordAssessment(ctx, "SAFE", true, 1.5)
	p.RecordClassifier(ctx, 2, false)
	p.RecordNotification(ctx, "log", "delivered")
	p.RecordHTTP(ctx, "POST /v1/analyze", 200, 3)
	p.Shutdown(ctx)
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	_, span := p.StartSpan(context.Background(), "x", nil)
	span.End()
	p.RecordAssessment(context.Background(), "WARN", false, 1)
	p.RecordNotification(context.Background(), "file_jsonl", "failed")
	p.Shutdown(context.Background())
}

func TestRecordAssessmentCounts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	p := NewWithProviders(tracenoop.NewTracerProvider(), mp)

	p.RecordAssessment(context.Background(), "BLOCK", true, 4)
	p.RecordAssessment(context.Background(), "BLOCK", true, 6)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "redactai_assessments_total" {
				continue
			}
			found = true
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if !found || total != 2 {
		t.Fatalf("expected 2 assessments recorded, found=%v total=%d", found, total)
	}
}
