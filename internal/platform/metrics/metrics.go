package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP holds the Prometheus metrics for the pages server.
type HTTP struct {
	RequestDuration *prometheus.HistogramVec
	SlotWrites      prometheus.Counter
	SlotTakes       *prometheus.CounterVec
	Verifications   *prometheus.CounterVec
}

// New creates and registers the pages server metrics with reg.
func New(reg prometheus.Registerer) *HTTP {
	factory := promauto.With(reg)
	return &HTTP{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "popupflow_http_request_duration_seconds",
			Help:    "Latency of pages server requests by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		SlotWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "popupflow_outcome_slot_writes_total",
			Help: "Total number of outcome records written through the slot API",
		}),
		SlotTakes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "popupflow_outcome_slot_takes_total",
			Help: "Total number of slot reads, by whether a record was present",
		}, []string{"result"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "popupflow_bank_verifications_total",
			Help: "Total number of mock bank verification attempts, by result",
		}, []string{"result"}),
	}
}

func (m *HTTP) IncrementSlotWrites() {
	m.SlotWrites.Inc()
}

func (m *HTTP) IncrementSlotTakes(found bool) {
	result := "empty"
	if found {
		result = "found"
	}
	m.SlotTakes.WithLabelValues(result).Inc()
}

func (m *HTTP) IncrementVerifications(result string) {
	m.Verifications.WithLabelValues(result).Inc()
}
