package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	jobEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync",
			Name:      "job_events_total",
			Help:      "Job lifecycle events by queue and state.",
		},
		[]string{"queue", "state"},
	)

	rowsInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync",
			Name:      "warehouse_rows_inserted_total",
			Help:      "Rows merged into the warehouse by table.",
		},
		[]string{"table"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, jobEvents, rowsInserted)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncJob records a job lifecycle transition.
func IncJob(queue, state string) {
	jobEvents.WithLabelValues(queue, state).Inc()
}

// AddRows records rows inserted into a warehouse table.
func AddRows(table string, n int) {
	rowsInserted.WithLabelValues(table).Add(float64(n))
}
