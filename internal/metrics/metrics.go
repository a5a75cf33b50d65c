// Package metrics defines the Prometheus instruments for the tracking core
// and the HTTP middleware that records request metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbview_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	propagationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbview_propagation_duration_seconds",
			Help:    "Duration of batch propagation runs.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	propagationResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_propagation_results_total",
			Help: "Satellite propagation outcomes.",
		},
		[]string{"result"},
	)

	positionCacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_position_cache_ops_total",
			Help: "Batch position cache hits, misses, and evictions.",
		},
		[]string{"op"},
	)

	handleCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_propagator_handles",
			Help: "Compiled propagator handles currently cached.",
		},
	)

	trackerRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_tracker_refreshes_total",
			Help: "Exact-position refreshes of the predictive tracker.",
		},
		[]string{"result"},
	)

	trackerConfidence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_tracker_confidence",
			Help: "Confidence of the most recent tracked prediction (0-1).",
		},
	)

	trackingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_tracking_active",
			Help: "1 while a satellite is being tracked.",
		},
	)

	catalogSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_catalog_satellites",
			Help: "Satellites in the current catalog.",
		},
	)

	catalogAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_catalog_age_seconds",
			Help: "Age of the current catalog dataset.",
		},
	)

	streamConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_stream_connections_total",
			Help: "SSE stream connect/disconnect events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbview_streams_active",
			Help: "Currently connected SSE streams.",
		},
	)

	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbview_stream_errors_total",
			Help: "SSE stream errors by cause.",
		},
		[]string{"cause"},
	)

	streamMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbview_stream_messages_total",
			Help: "SSE messages sent.",
		},
	)

	streamBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbview_stream_bytes_total",
			Help: "SSE payload bytes sent.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		propagationDuration,
		propagationResults,
		positionCacheOps,
		handleCacheSize,
		trackerRefreshes,
		trackerConfidence,
		trackingActive,
		catalogSize,
		catalogAge,
		streamConnections,
		streamsActive,
		streamErrors,
		streamMessages,
		streamBytes,
	)
}

// RecordPropagation records one batch propagation run.
func RecordPropagation(d time.Duration, success, failed int) {
	propagationDuration.Observe(d.Seconds())
	propagationResults.WithLabelValues("success").Add(float64(success))
	propagationResults.WithLabelValues("error").Add(float64(failed))
}

// IncPositionCacheHits increments the batch cache hit counter.
func IncPositionCacheHits() { positionCacheOps.WithLabelValues("hit").Inc() }

// IncPositionCacheMisses increments the batch cache miss counter.
func IncPositionCacheMisses() { positionCacheOps.WithLabelValues("miss").Inc() }

// AddPositionCacheEvictions adds to the batch cache eviction counter.
func AddPositionCacheEvictions(n int) {
	positionCacheOps.WithLabelValues("eviction").Add(float64(n))
}

// SetHandleCacheSize publishes the compiled-handle cache size.
func SetHandleCacheSize(n int) { handleCacheSize.Set(float64(n)) }

// IncTrackerRefresh records an exact-position refresh outcome ("ok"/"error").
func IncTrackerRefresh(result string) { trackerRefreshes.WithLabelValues(result).Inc() }

// SetTrackerConfidence publishes the latest prediction confidence.
func SetTrackerConfidence(c float64) { trackerConfidence.Set(c) }

// SetTrackingActive publishes whether a tracking session is live.
func SetTrackingActive(active bool) {
	if active {
		trackingActive.Set(1)
	} else {
		trackingActive.Set(0)
	}
}

// SetCatalogSize publishes the current catalog satellite count.
func SetCatalogSize(n int) { catalogSize.Set(float64(n)) }

// SetCatalogAge publishes the current catalog age in seconds.
func SetCatalogAge(sec float64) { catalogAge.Set(sec) }

// IncStreamConnections records a stream connect or disconnect.
func IncStreamConnections(event string) { streamConnections.WithLabelValues(event).Inc() }

// IncStreamsActive increments the active stream gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the active stream gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamErrors records a stream error by cause.
func IncStreamErrors(cause string) { streamErrors.WithLabelValues(cause).Inc() }

// IncStreamMessages increments the sent-message counter.
func IncStreamMessages() { streamMessages.Inc() }

// AddStreamBytes adds to the sent-bytes counter.
func AddStreamBytes(n int64) { streamBytes.Add(float64(n)) }

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush keeps streaming handlers working through the middleware chain.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.URL.Path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(r.URL.Path, r.Method).Observe(duration)
	})
}
