package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		gatewayRequestsTotal,
		gatewayLatency,
		gatewayBreakerState,
	)
}

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_requests_total",
			Help: "Outbound payment gateway calls by operation and result.",
		},
		[]string{"op", "result"}, // op: initialize|verify; result: ok|error|retry|open
	)

	gatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_latency_seconds",
			Help:    "Outbound payment gateway call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)

	gatewayBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payment_gateway_breaker_state",
			Help: "Circuit breaker state per gateway: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"gateway"},
	)
)

func IncGatewayRequest(op, result string) {
	gatewayRequestsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}

func ObserveGatewayLatency(op string, seconds float64) {
	gatewayLatency.WithLabelValues(norm(op)).Observe(seconds)
}

func SetGatewayBreakerState(gateway string, state int) {
	gatewayBreakerState.WithLabelValues(norm(gateway)).Set(float64(state))
}
