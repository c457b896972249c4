package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)

	// RowsIngested counts statement rows by outcome (imported, failed)
	RowsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_rows_ingested_total",
			Help: "Statement rows processed by ingestion, by outcome",
		},
		[]string{"outcome"},
	)

	// DuplicateGroupsMerged counts duplicate groups collapsed into one record
	DuplicateGroupsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_duplicate_groups_merged_total",
			Help: "Duplicate bank record groups merged",
		},
	)

	// MatchesTotal counts reconciliation entries by match type
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_matches_total",
			Help: "Reconciliation entries produced, by match type",
		},
		[]string{"type"},
	)

	// AssistCalls counts external assistant calls by operation and outcome
	AssistCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_assist_calls_total",
			Help: "External assistant calls, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// NewMetricsMiddleware collects Prometheus metrics per matched route
func NewMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ActiveRequests.Inc()
		defer ActiveRequests.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// ServeMux fills Pattern in place once routed
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
