package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics counts how the outbox publisher settles rows.
type OutboxMetrics struct {
	rows    *prometheus.CounterVec
	batches prometheus.Histogram
}

// NewOutboxMetrics returns nil, a no-op recorder, when reg is nil.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return nil
	}
	m := &OutboxMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_outbox_rows_total",
			Help: "Outbox rows settled by disposition (published, retried, dead_lettered).",
		}, []string{"disposition"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_outbox_batch_duration_seconds",
			Help:    "Time to publish and settle one non-empty outbox batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.rows, m.batches)
	return m
}

func (m *OutboxMetrics) ObserveBatch(published, retried, deadLettered int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues("published").Add(float64(published))
	m.rows.WithLabelValues("retried").Add(float64(retried))
	m.rows.WithLabelValues("dead_lettered").Add(float64(deadLettered))
	m.batches.Observe(elapsed.Seconds())
}
