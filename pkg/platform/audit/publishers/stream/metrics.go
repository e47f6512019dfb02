package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the change stream mirror.
type Metrics struct {
	Published             prometheus.Counter
	PublishFailures       prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
}

// NewMetrics creates mirror metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_stream_published_total",
			Help: "Total number of audit entries mirrored to the change stream",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_stream_publish_failures_total",
			Help: "Total number of audit entries the change stream rejected",
		}),
		CircuitBreakerDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_stream_circuit_breaker_dropped_total",
			Help: "Total number of audit entries not mirrored because the circuit was open",
		}),
		CircuitBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditlog_stream_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

// IncPublished increments the published counter.
func (m *Metrics) IncPublished() {
	m.Published.Inc()
}

// IncPublishFailures increments the publish failures counter.
func (m *Metrics) IncPublishFailures() {
	m.PublishFailures.Inc()
}

// IncCircuitBreakerDropped increments the circuit breaker dropped counter.
func (m *Metrics) IncCircuitBreakerDropped() {
	m.CircuitBreakerDropped.Inc()
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(open bool) {
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
