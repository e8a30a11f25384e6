// Package metrics exposes Prometheus collectors for the vault service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	vaultTasksTotal            *prometheus.CounterVec
	vaultTaskDurationSeconds   *prometheus.HistogramVec
	vaultItemsTotal            *prometheus.CounterVec
	vaultBytesStoredTotal      *prometheus.CounterVec
	vaultDedupHitsTotal        *prometheus.CounterVec
	vaultCacheLookupsTotal     *prometheus.CounterVec
	vaultUploadDurationSeconds *prometheus.HistogramVec
	vaultActiveWorkers         prometheus.Gauge
	vaultQueueDepth            prometheus.Gauge
	vaultRateLimitDelaySeconds *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		vaultTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_tasks_total",
				Help: "Total number of tasks reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		vaultTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_task_duration_seconds",
				Help:    "Wall time from task start to terminal status, labeled by status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		)

		vaultItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_items_total",
				Help: "Total media items processed, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		vaultBytesStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_bytes_stored_total",
				Help: "Total artifact bytes written to remote storage, labeled by platform.",
			},
			[]string{"platform"},
		)

		vaultDedupHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_dedup_hits_total",
				Help: "Downloads short-circuited by the dedup ledger, labeled by platform.",
			},
			[]string{"platform"},
		)

		vaultCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_cache_lookups_total",
				Help: "Listing cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		vaultUploadDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_upload_duration_seconds",
				Help:    "Time spent uploading one artifact set, labeled by storage backend.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180},
			},
			[]string{"backend"},
		)

		vaultActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		vaultQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_queue_depth",
				Help: "Number of tasks waiting in the work queue.",
			},
		)

		vaultRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_rate_limit_delay_seconds",
				Help:    "Histogram of politeness rate limit wait durations, labeled by platform.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"platform"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizePlatform lowercases a platform tag for use as a label value.
// It returns "unknown" for empty input.
func SanitizePlatform(platform string) string {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if platform == "" {
		return "unknown"
	}
	return platform
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one task reaching a terminal status.
func ObserveTask(status string, duration time.Duration) {
	vaultTasksTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		vaultTaskDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// ObserveItem records one processed media item and the bytes it stored.
func ObserveItem(platform, outcome string, bytesStored int64) {
	platform = SanitizePlatform(platform)
	vaultItemsTotal.WithLabelValues(platform, outcome).Inc()
	if bytesStored > 0 {
		vaultBytesStoredTotal.WithLabelValues(platform).Add(float64(bytesStored))
	}
}

// ObserveDedupHit increments the ledger short-circuit counter.
func ObserveDedupHit(platform string) {
	vaultDedupHitsTotal.WithLabelValues(SanitizePlatform(platform)).Inc()
}

// ObserveCacheLookup records a listing cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	vaultCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveUpload records the duration of one artifact upload set.
func ObserveUpload(backend string, duration time.Duration) {
	vaultUploadDurationSeconds.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(platform string, duration time.Duration) {
	vaultRateLimitDelaySeconds.WithLabelValues(SanitizePlatform(platform)).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	vaultActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	vaultActiveWorkers.Dec()
}

// SetQueueDepth records the current queue backlog.
func SetQueueDepth(n int) {
	vaultQueueDepth.Set(float64(n))
}
