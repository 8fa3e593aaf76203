package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		sessionsCreatedTotal,
		providerCallDuration,
		transitionsTotal,
		paymentsRevenueTotal,
		lateSuccessTotal,
	)
}

var (
	// result: ok|invalid|provider_error
	sessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_sessions_created_total",
			Help: "Payment session creation attempts by provider and result.",
		},
		[]string{"provider", "result"},
	)

	providerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_provider_call_duration_seconds",
			Help:    "Latency of outbound provider session calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "result"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Applied payment status transitions.",
		},
		[]string{"from", "to"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of paid sessions in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)

	// paid reports that arrive after a session expired or failed
	lateSuccessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_late_success_total",
			Help: "Success notifications for sessions already expired or failed.",
		},
		[]string{"provider"},
	)
)

func IncSessionCreated(provider, res string) {
	sessionsCreatedTotal.WithLabelValues(norm(provider), norm(res)).Inc()
}

func ObserveProviderCall(provider string, d time.Duration, err error) {
	providerCallDuration.WithLabelValues(norm(provider), result(err)).Observe(seconds(d))
}

func IncTransition(from, to string) {
	transitionsTotal.WithLabelValues(norm(from), norm(to)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncLateSuccess(provider string) {
	lateSuccessTotal.WithLabelValues(norm(provider)).Inc()
}
