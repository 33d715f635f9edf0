package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.IncDelivery("plan_assignment_changed", OutcomePublished)
	m.IncDelivery("plan_assignment_changed", OutcomePublished)
	m.IncDelivery("merchant_data_purged", OutcomeParked)
	m.ObserveBatch(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "marginguard_outbox_deliveries_total", "outcome", OutcomePublished); err != nil {
		t.Fatalf("fetch published: %v", err)
	} else if got != 2 {
		t.Fatalf("expected published=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "marginguard_outbox_deliveries_total", "event_type", "merchant_data_purged"); err != nil {
		t.Fatalf("fetch parked: %v", err)
	} else if got != 1 {
		t.Fatalf("expected parked=1, got %f", got)
	}
	if findMetricFamily(mfs, "marginguard_outbox_batch_rows") == nil {
		t.Fatalf("batch histogram not exported")
	}
}

func TestNilOutboxMetricsIsSafe(t *testing.T) {
	var m *OutboxMetrics
	m.IncDelivery("plan_assignment_changed", OutcomeRetry)
	m.ObserveBatch(1)
	NewOutboxMetrics(nil).IncDelivery("x", OutcomePublished)
}
