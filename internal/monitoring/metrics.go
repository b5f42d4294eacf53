package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the submission engine.
// All methods are no-ops on a nil receiver, so instrumentation stays
// optional for one-shot CLI runs.
type Metrics struct {
	OutcomesTotal    *prometheus.CounterVec
	SubmissionsTotal *prometheus.CounterVec
	ProbesTotal      *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
	QuotaRemaining   prometheus.Gauge
}

// NewMetrics registers the collectors on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_outcomes_total",
			Help: "URL outcomes recorded, by result",
		}, []string{"result"}),
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_submissions_total",
			Help: "Accepted Indexing API notifications, by action",
		}, []string{"action"}),
		ProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_probes_total",
			Help: "Reachability probes performed, by status class",
		}, []string{"class"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_errors_total",
			Help: "Errors encountered while running batches",
		}, []string{"type"}), // e.g. 'submit_failed', 'credential_rejected', 'sink_record'
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_runs_total",
			Help: "Finished runs, by final status",
		}, []string{"status"}),
		QuotaRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Name: "indexer_quota_remaining",
			Help: "Submission quota left across the credential pool",
		}),
	}
}

func (m *Metrics) IncOutcomesTotal(result string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSubmissionsTotal(action string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) IncProbesTotal(statusCode int) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(statusClass(statusCode)).Inc()
}

func (m *Metrics) IncErrorsTotal(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncRunsTotal(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetQuotaRemaining(v float64) {
	if m == nil {
		return
	}
	m.QuotaRemaining.Set(v)
}

// statusClass buckets a probed status for the probes counter. 0 is the
// unreachable marker, anything outside 100..599 lands in "other".
func statusClass(code int) string {
	switch {
	case code == 0:
		return "unreachable"
	case code < 100 || code > 599:
		return "other"
	default:
		return strconv.Itoa(code/100) + "xx"
	}
}
