// Package metrics holds the Prometheus instruments of the service. They
// register with the default registry and are served on /metrics.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"movierec/internal/domain"
)

var (
	// Ingestion
	IngestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movierec_ingest_runs_total",
			Help: "Ingestion runs by outcome",
		},
		[]string{"result"}, // "ok", "partial", "error"
	)

	IngestRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movierec_ingest_rows_total",
			Help: "Raw rows read by ingestion",
		},
	)

	IngestRecordsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movierec_ingest_records_failed_total",
			Help: "Records that could not be encoded or written",
		},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "movierec_ingest_duration_seconds",
			Help:    "Duration of a full ingestion run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	CorpusRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "movierec_corpus_records",
			Help: "Records written by the last ingestion run",
		},
	)

	// Queries
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movierec_query_duration_seconds",
			Help:    "Latency of recommendation queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movierec_query_errors_total",
			Help: "Failed recommendation queries by error kind",
		},
		[]string{"operation", "kind"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movierec_api_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movierec_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ErrorKind maps an error to a low-cardinality label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, domain.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, domain.ErrEncoderMismatch):
		return "encoder_mismatch"
	case errors.Is(err, domain.ErrEncoderUnavailable):
		return "encoder_unavailable"
	case errors.Is(err, domain.ErrCorpusNotFound):
		return "corpus_not_found"
	case errors.Is(err, domain.ErrRecordNotFound):
		return "record_not_found"
	case errors.Is(err, domain.ErrStoreConnection):
		return "store"
	case errors.Is(err, domain.ErrBulkWrite):
		return "bulk_write"
	case errors.Is(err, domain.ErrDataLoad):
		return "data_load"
	default:
		return "other"
	}
}

// RecordIngest records the outcome of one ingestion run.
func RecordIngest(rows, written, failed int, duration time.Duration, err error) {
	IngestRows.Add(float64(rows))
	IngestRecordsFailed.Add(float64(failed))
	IngestDuration.Observe(duration.Seconds())
	switch {
	case err == nil:
		IngestRuns.WithLabelValues("ok").Inc()
		CorpusRecords.Set(float64(written))
	case errors.Is(err, domain.ErrBulkWrite):
		IngestRuns.WithLabelValues("partial").Inc()
		CorpusRecords.Set(float64(written))
	default:
		IngestRuns.WithLabelValues("error").Inc()
	}
}

// RecordQuery records a query's latency and, on failure, its error kind.
func RecordQuery(operation string, duration time.Duration, err error) {
	QueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		QueryErrors.WithLabelValues(operation, ErrorKind(err)).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
