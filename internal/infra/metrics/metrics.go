package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the deadline core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	NotificationsSent     *prometheus.CounterVec
	NotificationsFailed   *prometheus.CounterVec
	DeliveryAttempts      prometheus.Counter
	SchedulerTicks        *prometheus.CounterVec
	SchedulerTickDuration prometheus.Histogram
	HookDeadlines         *prometheus.CounterVec
	OrphanedDeadlines     prometheus.Counter
	ConflictRetries       prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deadline_notifications_sent_total",
			Help: "Notifications delivered, by urgency bucket",
		}, []string{"urgency"}),
		NotificationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deadline_notifications_failed_total",
			Help: "Notifications given up on, by failure kind",
		}, []string{"kind"}),
		DeliveryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "deadline_notification_attempts_total",
			Help: "Delivery attempts including retries",
		}),
		SchedulerTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deadline_scheduler_ticks_total",
			Help: "Scheduler ticks, by result",
		}, []string{"result"}),
		SchedulerTickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deadline_scheduler_tick_duration_seconds",
			Help:    "Duration of scheduler ticks",
			Buckets: prometheus.DefBuckets,
		}),
		HookDeadlines: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deadline_equipment_hook_total",
			Help: "Deadlines touched by cash register compliance-date changes, by action",
		}, []string{"action"}),
		OrphanedDeadlines: factory.NewCounter(prometheus.CounterOpts{
			Name: "deadline_type_orphaned_deadlines_total",
			Help: "Deadlines whose type reference was nulled by a type deletion",
		}),
		ConflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "deadline_tx_conflict_retries_total",
			Help: "Transactions replayed after a concurrent-mutation conflict",
		}),
	}
}

func (m *Metrics) ObserveDelivery(urgency string, sent bool, failureKind string, attempts int) {
	if m == nil {
		return
	}
	m.DeliveryAttempts.Add(float64(attempts))
	if sent {
		m.NotificationsSent.WithLabelValues(urgency).Inc()
		return
	}
	m.NotificationsFailed.WithLabelValues(failureKind).Inc()
}

func (m *Metrics) ObserveTick(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.SchedulerTicks.WithLabelValues(result).Inc()
	m.SchedulerTickDuration.Observe(took.Seconds())
}

func (m *Metrics) IncHookAction(action string) {
	if m == nil {
		return
	}
	m.HookDeadlines.WithLabelValues(action).Inc()
}

func (m *Metrics) AddOrphaned(n int64) {
	if m == nil {
		return
	}
	m.OrphanedDeadlines.Add(float64(n))
}

func (m *Metrics) IncConflictRetry() {
	if m == nil {
		return
	}
	m.ConflictRetries.Inc()
}
