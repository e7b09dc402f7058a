package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for popup flows.
type Metrics struct {
	FlowsOpened    *prometheus.CounterVec
	FlowOutcomes   *prometheus.CounterVec
	FlowsAbandoned *prometheus.CounterVec
	FlowDuration   *prometheus.HistogramVec
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors with reg; tests pass a fresh
// prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FlowsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "popupflow_flows_opened_total",
			Help: "Total number of popup flows opened, by execution environment",
		}, []string{"environment"}),
		FlowOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "popupflow_flow_outcomes_total",
			Help: "Total number of resolved popup flows, by environment, outcome and cancel reason",
		}, []string{"environment", "outcome", "reason"}),
		FlowsAbandoned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "popupflow_flows_abandoned_total",
			Help: "Total number of popup flows abandoned by a newer attempt",
		}, []string{"environment"}),
		FlowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "popupflow_flow_duration_seconds",
			Help:    "Time from opening a popup flow to its outcome",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"environment", "outcome"}),
	}
}

func (m *Metrics) FlowOpened(env string) {
	m.FlowsOpened.WithLabelValues(env).Inc()
}

func (m *Metrics) FlowResolved(env, kind, reason string, elapsed time.Duration) {
	m.FlowOutcomes.WithLabelValues(env, kind, reason).Inc()
	m.FlowDuration.WithLabelValues(env, kind).Observe(elapsed.Seconds())
}

func (m *Metrics) FlowAbandoned(env string) {
	m.FlowsAbandoned.WithLabelValues(env).Inc()
}
