package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		usersRegisteredTotal,
		httpRequestsTotal,
		rateLimitTriggeredTotal,
	)
}

var (
	usersRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "users_registered_total",
			Help: "Total number of new users registered.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by route pattern and status class.",
		},
		[]string{"route", "code"},
	)

	rateLimitTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_triggered_total",
			Help: "Requests rejected by the rate limiter, by scope.",
		},
		[]string{"scope"},
	)
)

func IncUsersRegistered() {
	usersRegisteredTotal.Inc()
}

func IncHTTPRequest(route, code string) {
	httpRequestsTotal.WithLabelValues(route, code).Inc()
}

func IncRateLimitTriggered(scope string) {
	rateLimitTriggeredTotal.WithLabelValues(norm(scope)).Inc()
}
