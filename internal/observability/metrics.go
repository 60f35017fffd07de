package observability

import "github.com/prometheus/client_golang/prometheus"

// Routes are labelled by mux pattern. Query and page requests wait on remote
// Parquet scans, so latency buckets reach past a minute.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsql_http_requests_total",
			Help: "Total number of API requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hfsql_http_request_duration_seconds",
			Help:    "API request latency by route, including time spent waiting on the query engine.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)

	httpResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hfsql_http_response_bytes",
			Help:    "API response body size by route. Result pages dominate the upper buckets.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, httpResponseBytes)
}
