package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/curaline/telecare-platform/internal/lifecycle"
)

func TestLifecycleMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLifecycleMetrics(reg)
	m.ObserveSweep("auto_confirm", lifecycle.SweepResult{Name: "auto_confirm", Examined: 3, Applied: 2, Skipped: 1}, 40*time.Millisecond)
	m.ObserveWebhookEvent("payment_intent.succeeded", "applied")
}

func TestLifecycleMetricsNilSafe(t *testing.T) {
	var m *LifecycleMetrics
	m.ObserveSweep("no_show", lifecycle.SweepResult{}, time.Millisecond)
	m.ObserveWebhookEvent("refund.created", "duplicate")
}
