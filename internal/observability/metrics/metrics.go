package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/curaline/telecare-platform/internal/lifecycle"
)

// LifecycleMetrics exposes counters/histograms for the sweep runner and the
// payment webhook endpoint.
type LifecycleMetrics struct {
	sweepRuns     *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	webhookTotal  *prometheus.CounterVec
}

func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	m := &LifecycleMetrics{
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "lifecycle",
			Name:      "sweep_runs_total",
			Help:      "Total sweep executions",
		}, []string{"sweep"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "lifecycle",
			Name:      "sweep_items_total",
			Help:      "Per-item sweep outcomes",
		}, []string{"sweep", "outcome"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telecare",
			Subsystem: "lifecycle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Total gateway webhook events by handling status",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sweepRuns, m.sweepItems, m.sweepDuration, m.webhookTotal)
	return m
}

// ObserveSweep implements lifecycle.SweepObserver.
func (m *LifecycleMetrics) ObserveSweep(name string, res lifecycle.SweepResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(name).Inc()
	m.sweepItems.WithLabelValues(name, "applied").Add(float64(res.Applied))
	m.sweepItems.WithLabelValues(name, "skipped").Add(float64(res.Skipped))
	m.sweepItems.WithLabelValues(name, "failed").Add(float64(res.Failed))
	m.sweepDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveWebhookEvent records one gateway webhook delivery.
func (m *LifecycleMetrics) ObserveWebhookEvent(eventType, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, status).Inc()
}
