package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the subscription engine.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	CascadeItemsTotal  *prometheus.CounterVec
	OutboxPending      prometheus.Gauge
	ExpirySweepsTotal  *prometheus.CounterVec
	JobRunsTotal       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_subscription_operations_total",
				Help: "Subscription operations by operation and result code",
			},
			[]string{"operation", "result"},
		),
		TransitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "serp_subscription_operation_duration_seconds",
				Help:    "Subscription operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CascadeItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_entitlement_cascade_items_total",
				Help: "Entitlement cascade outbox items by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		OutboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "serp_entitlement_outbox_pending",
				Help: "Outbox items waiting to be processed",
			},
		),
		ExpirySweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_subscription_expiry_sweep_total",
				Help: "Subscriptions handled by the expiry sweep by outcome",
			},
			[]string{"outcome"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_scheduled_job_runs_total",
				Help: "Scheduled job runs by job and outcome",
			},
			[]string{"job", "outcome"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.TransitionsTotal,
			m.TransitionDuration,
			m.CascadeItemsTotal,
			m.OutboxPending,
			m.ExpirySweepsTotal,
			m.JobRunsTotal,
		)
	}
	return m
}

// RecordTransition counts an orchestrator operation.
func (m *Metrics) RecordTransition(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(operation, result).Inc()
	m.TransitionDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordCascade counts an outbox item outcome.
func (m *Metrics) RecordCascade(kind, outcome string) {
	if m == nil {
		return
	}
	m.CascadeItemsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetOutboxPending sets the outbox backlog gauge.
func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// RecordExpiry counts one subscription handled by the expiry sweep.
func (m *Metrics) RecordExpiry(outcome string) {
	if m == nil {
		return
	}
	m.ExpirySweepsTotal.WithLabelValues(outcome).Inc()
}

// RecordJob counts a scheduled job run.
func (m *Metrics) RecordJob(job, outcome string) {
	if m == nil {
		return
	}
	m.JobRunsTotal.WithLabelValues(job, outcome).Inc()
}

// Handler serves the metrics gathered by gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
