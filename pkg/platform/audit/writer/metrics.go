package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit writer.
type Metrics struct {
	Entries               *prometheus.CounterVec
	Untracked             prometheus.Counter
	Noops                 prometheus.Counter
	StoreFailures         prometheus.Counter
	SerializationFailures prometheus.Counter
	AppendDuration        prometheus.Histogram
}

// NewMetrics creates writer metrics registered with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Entries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditlog_writer_entries_total",
			Help: "Total number of audit entries appended, by action",
		}, []string{"action"}),
		Untracked: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_writer_untracked_total",
			Help: "Total number of events skipped because their type is not registered",
		}),
		Noops: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_writer_noop_total",
			Help: "Total number of update events skipped because nothing tracked changed",
		}),
		StoreFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_writer_store_failures_total",
			Help: "Total number of audit entries the store failed to append",
		}),
		SerializationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_writer_serialization_failures_total",
			Help: "Total number of field values replaced by a placeholder because they could not be serialized",
		}),
		AppendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditlog_writer_append_duration_seconds",
			Help:    "Time taken by the store to append an audit entry",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncEntries increments the appended counter for action.
func (m *Metrics) IncEntries(action string) {
	m.Entries.WithLabelValues(action).Inc()
}

// IncUntracked increments the untracked counter.
func (m *Metrics) IncUntracked() {
	m.Untracked.Inc()
}

// IncNoops increments the no-op counter.
func (m *Metrics) IncNoops() {
	m.Noops.Inc()
}

// IncStoreFailures increments the store failures counter.
func (m *Metrics) IncStoreFailures() {
	m.StoreFailures.Inc()
}

// IncSerializationFailures increments the serialization failures counter.
func (m *Metrics) IncSerializationFailures() {
	m.SerializationFailures.Inc()
}

// ObserveAppendDuration records the append duration in seconds.
func (m *Metrics) ObserveAppendDuration(seconds float64) {
	m.AppendDuration.Observe(seconds)
}
