package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the decision pipeline.  A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Decisions persisted, by result ("granted" | "denied")
	Decisions *prometheus.CounterVec

	// Messages that ended in a failed state, by reason
	PipelineFailures *prometheus.CounterVec

	// Time spent waiting on the audit store
	AppendLatency prometheus.Histogram
}

// New registers the gateway metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_gateway_decisions_total",
			Help: "Access decisions recorded in the audit log by result",
		}, []string{"result"}),

		PipelineFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_gateway_pipeline_failures_total",
			Help: "Inbound messages that did not complete the pipeline, by reason",
		}, []string{"reason"}),

		AppendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portunus_gateway_append_duration_seconds",
			Help:    "Duration of audit log appends",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
	}
}

// IncrementDecision records a persisted decision.
func (m *Metrics) IncrementDecision(authorized bool) {
	if m == nil {
		return
	}
	result := "denied"
	if authorized {
		result = "granted"
	}
	m.Decisions.WithLabelValues(result).Inc()
}

// IncrementFailure records a message that ended in a failed state.
func (m *Metrics) IncrementFailure(reason string) {
	if m != nil {
		m.PipelineFailures.WithLabelValues(reason).Inc()
	}
}

// ObserveAppendLatency records how long an audit append took.
func (m *Metrics) ObserveAppendLatency(d time.Duration) {
	if m != nil {
		m.AppendLatency.Observe(d.Seconds())
	}
}
