// Package metrics provides Prometheus metrics for metastore.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backend operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastore_operations_total",
			Help: "Total backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metastore_operation_duration_seconds",
			Help:    "Backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastore_store_operations_total",
			Help: "Total object store operations",
		},
		[]string{"store", "operation", "status"},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metastore_store_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	// Commit metrics
	commitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastore_commits_total",
			Help: "Total commits published to Git hosts",
		},
		[]string{"status"},
	)

	commitBlobs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metastore_commit_blobs",
			Help:    "Blobs written per commit",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	lfsPointersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metastore_lfs_pointers_total",
			Help: "Total LFS pointer files written",
		},
	)

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metastore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metastore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordOperation records one backend operation.
func RecordOperation(backend, operation string, duration time.Duration, success bool) {
	operationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
	operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordStoreOperation records one raw object store call.
func RecordStoreOperation(store, operation string, duration time.Duration, success bool) {
	storeOperationsTotal.WithLabelValues(store, operation, status(success)).Inc()
	storeOperationDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}

// RecordCommit records a commit attempt and, on success, its blob count.
func RecordCommit(blobs, pointers int, success bool) {
	commitsTotal.WithLabelValues(status(success)).Inc()
	if !success {
		return
	}
	commitBlobs.Observe(float64(blobs))
	lfsPointersTotal.Add(float64(pointers))
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by their ServeMux pattern to keep object ids out of label
// values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
