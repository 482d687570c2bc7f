package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDelivery("red", true, "", 2)
	m.ObserveDelivery("red", false, "exhausted", 3)
	m.ObserveTick("partial", time.Second)
	m.IncHookAction("created")
	m.AddOrphaned(4)
	m.IncConflictRetry()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("red")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("exhausted")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.DeliveryAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerTicks.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HookDeadlines.WithLabelValues("created")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OrphanedDeadlines))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictRetries))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDelivery("red", true, "", 1)
		m.ObserveTick("ok", time.Millisecond)
		m.IncHookAction("updated")
		m.AddOrphaned(1)
		m.IncConflictRetry()
	})
}
