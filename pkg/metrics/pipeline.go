package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marginguard"

// Ingest outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Projection outcomes.
const (
	OutcomeProjected = "projected"
	OutcomeSkipped   = "skipped"
	OutcomeDefect    = "defect"
)

// PipelineMetrics counts events moving through ingestion and projection.
type PipelineMetrics struct {
	ingested  *prometheus.CounterVec
	projected *prometheus.CounterVec
	purged    *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline counters on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_ingested_total",
		Help:      "Events submitted to the event log by type, origin and outcome.",
	}, []string{"event_type", "origin", "outcome"})
	projected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_projected_total",
		Help:      "Projection attempts by event type and outcome.",
	}, []string{"event_type", "outcome"})
	purged := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merchant_rows_purged_total",
		Help:      "Rows removed by merchant erasure, by table.",
	}, []string{"table"})
	reg.MustRegister(ingested, projected, purged)
	return &PipelineMetrics{
		ingested:  ingested,
		projected: projected,
		purged:    purged,
	}
}

// IncIngested records one ingest call.
func (p *PipelineMetrics) IncIngested(eventType, origin, outcome string) {
	if p == nil || p.ingested == nil {
		return
	}
	p.ingested.WithLabelValues(label(eventType), label(origin), outcome).Inc()
}

// IncProjected records one projection attempt.
func (p *PipelineMetrics) IncProjected(eventType, outcome string) {
	if p == nil || p.projected == nil {
		return
	}
	p.projected.WithLabelValues(label(eventType), outcome).Inc()
}

// AddPurged records rows deleted from a table during erasure.
func (p *PipelineMetrics) AddPurged(table string, rows int64) {
	if p == nil || p.purged == nil || rows <= 0 {
		return
	}
	p.purged.WithLabelValues(label(table)).Add(float64(rows))
}
