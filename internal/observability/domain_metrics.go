package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsql_queries_total",
			Help: "Total number of query executions by outcome.",
		},
		[]string{"status"},
	)
	queryFirstBatchLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hfsql_query_first_batch_latency_ms",
			Help:    "Latency from query submission to the first result batch in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	streamBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hfsql_stream_batches_total",
			Help: "Total number of result batches delivered to consumers.",
		},
	)
	streamRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hfsql_stream_rows_total",
			Help: "Total number of result rows delivered to consumers.",
		},
	)
	queryCancellationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hfsql_query_cancellations_total",
			Help: "Total number of query cancellations.",
		},
	)
	viewRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsql_view_registrations_total",
			Help: "Total number of view registrations by outcome.",
		},
		[]string{"status"},
	)
	metadataRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsql_metadata_requests_total",
			Help: "Total number of dataset metadata requests by outcome.",
		},
		[]string{"status"},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfsql_exports_total",
			Help: "Total number of result exports by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryFirstBatchLatencyMs,
		streamBatchesTotal,
		streamRowsTotal,
		queryCancellationsTotal,
		viewRegistrationsTotal,
		metadataRequestsTotal,
		exportsTotal,
	)
}

// ObserveQuery records a query outcome: ok, failed, cancelled or rejected.
func ObserveQuery(status string) {
	queriesTotal.WithLabelValues(status).Inc()
}

func ObserveFirstBatchLatency(elapsed time.Duration) {
	queryFirstBatchLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveStreamBatch(rows int) {
	streamBatchesTotal.Inc()
	if rows > 0 {
		streamRowsTotal.Add(float64(rows))
	}
}

func IncrementQueryCancellations() {
	queryCancellationsTotal.Inc()
}

func ObserveViewRegistration(ok bool) {
	viewRegistrationsTotal.WithLabelValues(outcome(ok)).Inc()
}

// ObserveMetadataRequest records a dataset metadata lookup: ok, auth_required
// or failed.
func ObserveMetadataRequest(status string) {
	metadataRequestsTotal.WithLabelValues(status).Inc()
}

func ObserveExport(ok bool) {
	exportsTotal.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
