package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outbox delivery outcomes.
const (
	OutcomePublished = "published"
	OutcomeRetry     = "retry"
	OutcomeParked    = "parked"
)

// OutboxMetrics counts plan and erasure notifications leaving the outbox.
type OutboxMetrics struct {
	delivered *prometheus.CounterVec
	batch     prometheus.Histogram
}

// NewOutboxMetrics registers the publisher counters. A nil registerer yields a no-op value.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_deliveries_total",
		Help:      "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "outbox_batch_rows",
		Help:      "Rows claimed per publisher batch.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
	})
	reg.MustRegister(delivered, batch)
	return &OutboxMetrics{delivered: delivered, batch: batch}
}

// IncDelivery records the outcome for one outbox row.
func (o *OutboxMetrics) IncDelivery(eventType, outcome string) {
	if o == nil || o.delivered == nil {
		return
	}
	o.delivered.WithLabelValues(label(eventType), outcome).Inc()
}

// ObserveBatch records how many rows a batch claimed.
func (o *OutboxMetrics) ObserveBatch(rows int) {
	if o == nil || o.batch == nil {
		return
	}
	o.batch.Observe(float64(rows))
}
