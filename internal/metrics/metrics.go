// Package metrics exposes Prometheus collectors for the content mirror.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results.
const (
	CacheHit       = "hit"
	CacheRefresh   = "refresh"
	CacheCoalesced = "coalesced"
	CacheStale     = "stale"
	CachePreview   = "preview"
	CacheError     = "error"
)

var (
	notionRequestsTotal          *prometheus.CounterVec
	notionRetriesTotal           *prometheus.CounterVec
	notionRequestDurationSeconds *prometheus.HistogramVec
	cacheLookupsTotal            *prometheus.CounterVec
	refreshDurationSeconds       *prometheus.HistogramVec
	articlesTotal                *prometheus.CounterVec
	snapshotWritesTotal          *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	rateLimitRejectionsTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		notionRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notion_requests_total",
				Help: "Total number of remote API requests, labeled by operation and status code.",
			},
			[]string{"operation", "code"},
		)

		notionRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notion_request_retries_total",
				Help: "Total number of retried remote API requests, labeled by operation.",
			},
			[]string{"operation"},
		)

		notionRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notion_request_duration_seconds",
				Help:    "Histogram of remote API request latencies, labeled by operation.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_cache_lookups_total",
				Help: "Total number of content cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		refreshDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "content_refresh_duration_seconds",
				Help:    "Histogram of full refresh durations, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_articles_total",
				Help: "Total number of normalized article bodies, labeled by how the body was obtained.",
			},
			[]string{"mode"},
		)

		snapshotWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_writes_total",
				Help: "Total number of snapshot writes, labeled by slot, target and outcome.",
			},
			[]string{"slot", "target", "outcome"},
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

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ratelimit_rejections_total",
				Help: "Total number of requests rejected by the per-client rate limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveNotionRequest records one remote API round trip.
func ObserveNotionRequest(operation string, code int, duration time.Duration) {
	Init()
	notionRequestsTotal.WithLabelValues(operation, strconv.Itoa(code)).Inc()
	notionRequestDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveNotionRetry records one retried remote API request.
func ObserveNotionRetry(operation string) {
	Init()
	notionRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveCacheLookup records a cache lookup result.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRefresh records the duration of a refresh job.
func ObserveRefresh(outcome string, duration time.Duration) {
	Init()
	refreshDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// AddArticles adds n normalized articles for the given mode.
func AddArticles(mode string, n int) {
	if n <= 0 {
		return
	}
	Init()
	articlesTotal.WithLabelValues(mode).Add(float64(n))
}

// ObserveSnapshotWrite records a snapshot write attempt.
func ObserveSnapshotWrite(slot, target, outcome string) {
	Init()
	snapshotWritesTotal.WithLabelValues(slot, target, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitRejection increments the rate limiter rejection counter.
func ObserveRateLimitRejection() {
	Init()
	rateLimitRejectionsTotal.Inc()
}
