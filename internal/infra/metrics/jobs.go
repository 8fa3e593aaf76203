package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(fulfillmentAttemptsTotal, fulfillmentExhaustedTotal, jobsSweptTotal) }

var (
	fulfillmentAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_fulfillment_attempts_total",
			Help: "Grant attempts against the catalog, labeled by result.",
		},
		[]string{"result"}, // 'ok', 'error'
	)

	fulfillmentExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_fulfillment_exhausted_total",
			Help: "Fulfillments that ran out of retries and need manual reconciliation.",
		},
	)

	jobsSweptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_scheduler_swept_total",
			Help: "Items handled by background sweeps, labeled by worker.",
		},
		[]string{"worker"}, // 'expiry', 'fulfillment_retry'
	)
)

func IncFulfillmentAttempt(err error) {
	fulfillmentAttemptsTotal.WithLabelValues(result(err)).Inc()
}

func IncFulfillmentExhausted() {
	fulfillmentExhaustedTotal.Inc()
}

func AddSwept(worker string, n int) {
	jobsSweptTotal.WithLabelValues(norm(worker)).Add(float64(n))
}
