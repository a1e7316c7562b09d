package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("kind", "purchase"),
		attribute.String("user_id", "9f1c"),
		attribute.String("status", "used"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" {
			t.Fatalf("expected user_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordLedgerEntry(context.Background(), "purchase", 10)
	m.RecordRedemption(context.Background(), "sgd500")
	m.RecordVoucherTransition(context.Background(), "expired", 3)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordLedgerEntry(context.Background(), "redemption", -20000)
	m.RecordReportTransition(context.Background(), "resolved")
	m.RecordOrderConsumed(context.Background(), "credited")
	m.RecordRedemptionFailure(context.Background(), "sgd500", "insufficient_points")
}
