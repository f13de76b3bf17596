// Package metrics exposes Prometheus instrumentation for the automation
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vibespan/automation-engine/pkg/models"
)

// Metrics holds the engine's Prometheus collectors. All collectors are
// registered against the registry passed to New.
type Metrics struct {
	TriggersTotal      *prometheus.CounterVec
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	AlertsTotal        *prometheus.CounterVec
	QueueRejections    prometheus.Counter
	ActiveTenants      prometheus.Gauge
}

// New creates and registers the engine collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "automation",
			Name:      "triggers_total",
			Help:      "Trigger events accepted for execution, by source.",
		}, []string{"source"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "automation",
			Name:      "executions_total",
			Help:      "Terminal workflow executions, by status.",
		}, []string{"status"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "automation",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of workflow executions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"status"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "automation",
			Name:      "alerts_total",
			Help:      "Alerts raised by the escalation manager, by severity.",
		}, []string{"severity"}),
		QueueRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "automation",
			Name:      "queue_rejections_total",
			Help:      "Trigger events rejected because a tenant queue was full.",
		}),
		ActiveTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "automation",
			Name:      "active_tenants",
			Help:      "Tenants currently active in the registry.",
		}),
	}
	reg.MustRegister(
		m.TriggersTotal,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.AlertsTotal,
		m.QueueRejections,
		m.ActiveTenants,
	)
	return m
}

// ExecutionFinished records a terminal execution. Implements the executor's
// Observer interface.
func (m *Metrics) ExecutionFinished(record *models.ExecutionRecord) {
	status := string(record.Status)
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	if !record.EndedAt.IsZero() {
		m.ExecutionDuration.WithLabelValues(status).Observe(record.EndedAt.Sub(record.StartedAt).Seconds())
	}
}

// TriggerAccepted records an accepted trigger event.
func (m *Metrics) TriggerAccepted(source models.TriggerSource) {
	m.TriggersTotal.WithLabelValues(string(source)).Inc()
}

// AlertRaised records a new alert.
func (m *Metrics) AlertRaised(severity models.Severity) {
	m.AlertsTotal.WithLabelValues(string(severity)).Inc()
}
