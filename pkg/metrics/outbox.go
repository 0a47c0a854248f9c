package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox delivery outcomes.
const (
	OutboxPublished = "published"
	OutboxRetried   = "retried"
	OutboxParked    = "parked"
	OutboxDuplicate = "duplicate"
)

// OutboxMetrics counts publisher outcomes per topic and how long rows wait
// between commit and delivery. A nil value records nothing.
type OutboxMetrics struct {
	outcomes *prometheus.CounterVec
	lag      *prometheus.HistogramVec
	batch    prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return nil
	}
	m := &OutboxMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox rows handled by the publisher, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		lag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbox_delivery_lag_seconds",
			Help:    "Seconds between an outbox row being written and its publish being acknowledged.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 60, 300, 1800},
		}, []string{"topic"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_size",
			Help:    "Rows fetched per publisher poll.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	reg.MustRegister(m.outcomes, m.lag, m.batch)
	return m
}

func (m *OutboxMetrics) Outcome(topic, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(topic), outcome).Inc()
}

// Delivered records a published row and its end-to-end lag.
func (m *OutboxMetrics) Delivered(topic string, createdAt, ackedAt time.Time) {
	if m == nil {
		return
	}
	label := normalizeLabel(topic)
	m.outcomes.WithLabelValues(label, OutboxPublished).Inc()
	if !createdAt.IsZero() {
		m.lag.WithLabelValues(label).Observe(ackedAt.Sub(createdAt).Seconds())
	}
}

func (m *OutboxMetrics) BatchSize(n int) {
	if m == nil {
		return
	}
	m.batch.Observe(float64(n))
}
