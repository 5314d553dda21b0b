// Package metrics provides Prometheus metrics for vodfs.
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
	// Upstream traffic
	backendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodfs_backend_requests_total",
			Help: "Total number of HTTP requests sent to the backend and upstream",
		},
		[]string{"method", "status"},
	)

	backendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodfs_backend_request_duration_seconds",
			Help:    "Backend request latency until response headers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	fetchedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodfs_fetched_bytes_total",
			Help: "Total bytes fetched with ranged requests",
		},
	)

	// Cache behaviour
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodfs_cache_lookups_total",
			Help: "Segment cache lookups by result",
		},
		[]string{"result"},
	)

	fetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodfs_fetch_retries_total",
			Help: "Ranged fetches retried after a 5xx",
		},
	)

	fetchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodfs_fetch_failures_total",
			Help: "Ranged fetches that failed for good",
		},
	)

	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodfs_evicted_bytes_total",
			Help: "Buffered bytes evicted by reason",
		},
		[]string{"reason"},
	)

	bufferedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodfs_buffered_bytes",
			Help: "Bytes currently held in segment buffers",
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodfs_sessions",
			Help: "Session records currently alive",
		},
	)

	prefetchWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodfs_prefetch_workers",
			Help: "Running prefetch workers",
		},
	)

	// Reads
	readsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodfs_reads_total",
			Help: "File reads by verdict and matching probe rule",
		},
		[]string{"verdict", "rule"},
	)

	dirRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodfs_dir_refreshes_total",
			Help: "Directory listings fetched from the backend",
		},
		[]string{"status"},
	)
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordBackendRequest(method string, status int, duration time.Duration) {
	backendRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	backendRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordFetchedBytes(n int) {
	fetchedBytesTotal.Add(float64(n))
}

func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

func RecordFetchRetry() {
	fetchRetriesTotal.Inc()
}

func RecordFetchFailure() {
	fetchFailuresTotal.Inc()
}

func RecordEviction(reason string, bytes int64) {
	evictionsTotal.WithLabelValues(reason).Add(float64(bytes))
}

func SetBufferedBytes(n int64) {
	bufferedBytes.Set(float64(n))
}

func SetSessions(n int) {
	sessionsActive.Set(float64(n))
}

func AddPrefetchWorkers(delta int) {
	prefetchWorkers.Add(float64(delta))
}

func RecordRead(verdict, rule string) {
	readsTotal.WithLabelValues(verdict, rule).Inc()
}

func RecordDirRefresh(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	dirRefreshesTotal.WithLabelValues(status).Inc()
}
