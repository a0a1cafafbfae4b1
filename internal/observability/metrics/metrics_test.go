package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("outcome", "claimed"),
		attribute.String("user_id", "U1"),
		attribute.String("lookup", "phone"),
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
	m.RecordNotificationIngested(context.Background(), "created")
	m.RecordRateLimitDenied(context.Background(), "/v1/payments/verify", "user-rate")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "muanapay"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordRateLimitAllowed(context.Background(), "/v1/payments/verify")
}
