// Package telemetry exposes Prometheus metrics for the pipeline.
//
// Counters and histograms cover both writers (collector, parser) and the
// query service. Exposition is mounted at /debug/metrics — the /metrics
// path belongs to the public query contract and lists registered metric
// definitions, not process internals.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estado_ingest_runs_total",
			Help: "Collector invocations, labeled by source and outcome.",
		},
		[]string{"source_id", "outcome"},
	)

	ingestBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estado_ingest_bytes_total",
			Help: "Raw bytes fetched, labeled by source.",
		},
		[]string{"source_id"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estado_fetch_duration_seconds",
			Help:    "Histogram of artifact fetch latencies, labeled by source.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"source_id"},
	)

	parseRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estado_parse_runs_total",
			Help: "Parser invocations, labeled by source and outcome.",
		},
		[]string{"source_id", "outcome"},
	)

	factsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estado_facts_written_total",
			Help: "Canonical facts persisted, labeled by source.",
		},
		[]string{"source_id"},
	)

	parseDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estado_parse_duration_seconds",
			Help:    "Histogram of parse latencies, labeled by source.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"source_id"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estado_http_requests_total",
			Help: "Query service requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estado_http_request_duration_seconds",
			Help:    "Histogram of query service latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estado_rate_limit_delays_seconds",
			Help:    "Histogram of per-source rate limit waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source_id"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveIngest records one collector run.
func ObserveIngest(sourceID, outcome string, bytesFetched int, duration time.Duration) {
	ingestRunsTotal.WithLabelValues(sourceID, outcome).Inc()
	if bytesFetched > 0 {
		ingestBytesTotal.WithLabelValues(sourceID).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(sourceID).Observe(duration.Seconds())
}

// ObserveParse records one parser run.
func ObserveParse(sourceID, outcome string, facts int, duration time.Duration) {
	parseRunsTotal.WithLabelValues(sourceID, outcome).Inc()
	if facts > 0 {
		factsWrittenTotal.WithLabelValues(sourceID).Add(float64(facts))
	}
	parseDurationSeconds.WithLabelValues(sourceID).Observe(duration.Seconds())
}

// ObserveHTTPRequest records metrics for one query service request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(sourceID string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(sourceID).Observe(duration.Seconds())
}
