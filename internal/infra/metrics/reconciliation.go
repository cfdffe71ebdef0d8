package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconcileTotal,
		reconcileDuration,
		webhookRejectedTotal,
		reconcileAnomaliesTotal,
	)
}

var (
	// trigger: verify|webhook|cleanup
	// result: settled|noop|failed|not_paid|ignored|error
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconcile_total",
			Help: "Reconciliation attempts by trigger and outcome.",
		},
		[]string{"trigger", "result"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_reconcile_duration_seconds",
			Help:    "Duration of one reconciliation attempt in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"trigger"},
	)

	webhookRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_rejected_total",
			Help: "Webhook deliveries rejected before any state change, by reason.",
		},
		[]string{"reason"}, // bad_signature|bad_payload
	)

	// Payments confirmed upstream that could not be applied locally, e.g. a
	// success for a transaction already FAILED or a subscription already CANCELLED.
	reconcileAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconcile_anomalies_total",
			Help: "Upstream payment outcomes that conflict with local state.",
		},
		[]string{"kind"},
	)
)

func IncReconcile(trigger, result string) {
	reconcileTotal.WithLabelValues(norm(trigger), norm(result)).Inc()
}

func ObserveReconcile(trigger string, seconds float64) {
	reconcileDuration.WithLabelValues(norm(trigger)).Observe(seconds)
}

func IncWebhookRejected(reason string) {
	webhookRejectedTotal.WithLabelValues(norm(reason)).Inc()
}

func IncReconcileAnomaly(kind string) {
	reconcileAnomaliesTotal.WithLabelValues(norm(kind)).Inc()
}
