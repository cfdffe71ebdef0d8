package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobRunsTotal,
		jobDuration,
		abandonedPaymentsTotal,
	)
}

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Total number of scheduled job runs, labeled by job and status.",
		},
		[]string{"job", "status"}, // status: 'ok', 'error', 'skipped'
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Duration of scheduled job runs in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	abandonedPaymentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_abandoned_total",
			Help: "Pending payments failed by the cleanup job after the timeout.",
		},
	)
)

func IncJobRun(job, status string) {
	jobRunsTotal.WithLabelValues(norm(job), norm(status)).Inc()
}

func ObserveJobDuration(job string, seconds float64) {
	jobDuration.WithLabelValues(norm(job)).Observe(seconds)
}

func IncAbandonedPayments(count int) {
	abandonedPaymentsTotal.Add(float64(count))
}
