package dualwrite

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the coordinator's collectors. A nil *Metrics records nothing.
type Metrics struct {
	Attempts    *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Corrections *prometheus.CounterVec
	AckWait     *prometheus.HistogramVec
}

// NewMetrics creates and registers the coordinator metrics against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dualwrite_attempts_total",
				Help:      "Total number of dual-write attempts by outcome",
			},
			[]string{"topic", "result"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dualwrite_failures_total",
				Help:      "Total number of failed dual-write attempts by failure class",
			},
			[]string{"topic", "class"},
		),
		Corrections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dualwrite_corrections_total",
				Help:      "Total number of correction messages by status",
			},
			[]string{"topic", "status"},
		),
		AckWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dualwrite_ack_wait_seconds",
				Help:      "Time spent waiting for channel acknowledgment",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"topic"},
		),
	}

	reg.MustRegister(m.Attempts, m.Failures, m.Corrections, m.AckWait)
	return m
}

func (m *Metrics) attempt(topic, result string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) failure(topic string, class FailureClass) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(topic, class.String()).Inc()
}

func (m *Metrics) correction(topic, status string) {
	if m == nil {
		return
	}
	m.Corrections.WithLabelValues(topic, status).Inc()
}

func (m *Metrics) ackWait(topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.AckWait.WithLabelValues(topic).Observe(d.Seconds())
}
