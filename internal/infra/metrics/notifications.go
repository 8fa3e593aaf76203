package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		notificationsTotal,
		notificationDuration,
	)
}

var (
	// Count of inbound notifications by provider variant, kind and outcome.
	// kind: webhook|callback|replay
	// outcome: accepted|no_op|duplicate|rejected_*|unsupported|ignored|error
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Inbound payment notifications by provider, kind and outcome.",
		},
		[]string{"provider", "kind", "outcome"},
	)

	notificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_notification_duration_seconds",
			Help:    "Time spent ingesting one notification.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"provider"},
	)
)

func IncNotification(provider, kind, outcome string) {
	notificationsTotal.WithLabelValues(norm(provider), norm(kind), norm(outcome)).Inc()
}

func ObserveNotification(provider string, d time.Duration) {
	notificationDuration.WithLabelValues(norm(provider)).Observe(seconds(d))
}
