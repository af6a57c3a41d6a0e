// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestCyclesTotal         *prometheus.CounterVec
	harvestRecordsTotal        *prometheus.CounterVec
	harvestPartialSavesTotal   *prometheus.CounterVec
	harvestFailuresTotal       *prometheus.CounterVec
	harvestAlertsTotal         *prometheus.CounterVec
	fetchPagesTotal            *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	pacingDelaySeconds         prometheus.Histogram
	activeHarvests             prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_cycles_total",
				Help: "Total number of harvest cycles, labeled by outcome.",
			},
			[]string{"status"},
		)

		harvestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Total records harvested, labeled by target and adapter.",
			},
			[]string{"target", "adapter"},
		)

		harvestPartialSavesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_partial_saves_total",
				Help: "Total partial batches saved after aborted sessions, labeled by target.",
			},
			[]string{"target"},
		)

		harvestFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_failures_total",
				Help: "Total failed harvest attempts, labeled by target.",
			},
			[]string{"target"},
		)

		harvestAlertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_alerts_total",
				Help: "Total alerts raised for failing targets, labeled by target.",
			},
			[]string{"target"},
		)

		fetchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_pages_total",
				Help: "Total pages fetched from sources, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Total bytes fetched from sources, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"site"},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_pacing_delay_seconds",
				Help:    "Histogram of pacing waits between harvest cycles.",
				Buckets: []float64{1, 10, 60, 300, 600, 1200, 1800},
			},
		)

		activeHarvests = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_harvests",
				Help: "Number of harvest sessions currently running.",
			},
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
	return promhttp.Handler()
}

// ObserveFetch increments the source fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int, duration time.Duration) {
	sanitizedSite := SanitizeSite(site)
	fetchPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	fetchDurationSeconds.WithLabelValues(sanitizedSite).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHarvest records the output of one completed harvest.
func ObserveHarvest(target, adapter string, records int, partial bool) {
	harvestRecordsTotal.WithLabelValues(target, adapter).Add(float64(records))
	if partial {
		harvestPartialSavesTotal.WithLabelValues(target).Inc()
	}
}

// ObserveCycle increments the cycle counter for the given outcome.
func ObserveCycle(status string) {
	harvestCyclesTotal.WithLabelValues(status).Inc()
}

// ObserveFailure increments the failed-attempt counter for a target.
func ObserveFailure(target string) {
	harvestFailuresTotal.WithLabelValues(target).Inc()
}

// ObserveAlert increments the alert counter for a target.
func ObserveAlert(target string) {
	harvestAlertsTotal.WithLabelValues(target).Inc()
}

// ObservePacingDelay records the duration of a pacing wait.
func ObservePacingDelay(duration time.Duration) {
	pacingDelaySeconds.Observe(duration.Seconds())
}

// IncActiveHarvests increments the active harvest gauge.
func IncActiveHarvests() {
	activeHarvests.Inc()
}

// DecActiveHarvests decrements the active harvest gauge.
func DecActiveHarvests() {
	activeHarvests.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
