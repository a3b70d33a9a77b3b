// Package metrics exposes Prometheus collectors for the extraction service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractionsTotal           *prometheus.CounterVec
	extractionDurationSeconds  *prometheus.HistogramVec
	pageFetchesTotal           *prometheus.CounterVec
	pageFetchDurationSeconds   *prometheus.HistogramVec
	recordsTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeSessions             prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_requests_total",
				Help: "Total number of extraction requests, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_request_duration_seconds",
				Help:    "Histogram of end-to-end extraction latencies, labeled by source.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		)

		pageFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_page_fetches_total",
				Help: "Total number of page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		pageFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_page_fetch_duration_seconds",
				Help:    "Histogram of single page fetch latencies, labeled by site.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"site"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_records_total",
				Help: "Total number of records extracted, labeled by source.",
			},
			[]string{"source"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_active_sessions",
				Help: "Number of browser sessions currently held by a request.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_rate_limit_delays_seconds",
				Help:    "Histogram of per-host pacing wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveExtraction records the outcome and latency of one extraction request.
func ObserveExtraction(source, outcome string, duration time.Duration) {
	Init()
	extractionsTotal.WithLabelValues(source, outcome).Inc()
	extractionDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObservePageFetch records a single page fetch against the target's host.
func ObservePageFetch(target, status string, duration time.Duration) {
	Init()
	site := SanitizeSite(target)
	pageFetchesTotal.WithLabelValues(site, status).Inc()
	pageFetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveRecords adds n extracted records for source.
func ObserveRecords(source string, n int) {
	if n <= 0 {
		return
	}
	Init()
	recordsTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveSessions increments the active sessions gauge.
func IncActiveSessions() {
	Init()
	activeSessions.Inc()
}

// DecActiveSessions decrements the active sessions gauge.
func DecActiveSessions() {
	Init()
	activeSessions.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
