// Package metrics exposes the sidecar's Prometheus gauges/counters/histograms and the HTTP
// middleware that drives the request-scoped ones, following the same promauto + responseWriter
// wrapper shape as the container manager this sidecar was split out from.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsidecar_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsidecar_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveSessions tracks currently live chat sessions held open in the Session Registry.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsidecar_active_sessions",
			Help: "Number of chat sessions with a live sandbox connection",
		},
	)

	// LiveSubscribers tracks how many SSE clients are currently attached across all sessions.
	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsidecar_live_subscribers",
			Help: "Number of open SSE subscriber connections",
		},
	)

	// TurnDuration tracks how long a single chat turn (prompt send to terminal event) takes.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsidecar_turn_duration_seconds",
			Help:    "Chat turn duration in seconds, from prompt send to terminal event",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	// EventBufferDrops tracks render events dropped because a flush to storage failed.
	EventBufferDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsidecar_event_buffer_drops_total",
			Help: "Total number of render events dropped after a storage flush failure",
		},
		[]string{"session_id"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records request count and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath collapses the per-session stream routes to avoid one Prometheus series per
// session id.
func normalizePath(path string) string {
	switch {
	case path == "/health", path == "/metrics", path == "/chat":
		return path
	case strings.HasPrefix(path, "/stream/"):
		return "/stream/{id}"
	default:
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTurnEnd records a completed chat turn's outcome and wall-clock duration.
func RecordTurnEnd(status string, durationSeconds float64) {
	TurnDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordEventDrop records a render event dropped after a failed storage flush.
func RecordEventDrop(sessionID string) {
	EventBufferDrops.WithLabelValues(sessionID).Inc()
}
