package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of the fulfillment pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	notifications   *prometheus.CounterVec
	fulfillment     prometheus.Histogram
	reconciliations *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labstore",
			Name:      "webhook_notifications_total",
			Help:      "Payment webhook notifications by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		fulfillment: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "labstore",
			Name:      "fulfillment_duration_seconds",
			Help:      "Time spent in the order fulfillment transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labstore",
			Name:      "reconciliation_attempts_total",
			Help:      "Dead-lettered notifications retried by the reconciliation worker, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.notifications, m.fulfillment, m.reconciliations)
	return m
}

func (m *Metrics) ObserveNotification(eventType, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveFulfillment(d time.Duration) {
	if m == nil {
		return
	}
	m.fulfillment.Observe(d.Seconds())
}

func (m *Metrics) ObserveReconciliation(result string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(result).Inc()
}

// NotificationCount exposes the counter for a label pair, for tests and health output.
func (m *Metrics) NotificationCount(eventType, outcome string) prometheus.Counter {
	return m.notifications.WithLabelValues(eventType, outcome)
}

func (m *Metrics) ReconciliationCount(result string) prometheus.Counter {
	return m.reconciliations.WithLabelValues(result)
}
