package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts gateway HTTP requests by route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks gateway HTTP request duration.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"method", "route"},
	)

	// HTTPActiveRequests tracks in-flight gateway requests.
	HTTPActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
		[]string{"route"},
	)
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher so streaming responses keep flushing
// through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := normalizeRoute(r.URL.Path)

		HTTPActiveRequests.WithLabelValues(route).Inc()
		defer HTTPActiveRequests.WithLabelValues(route).Dec()

		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		status := strconv.Itoa(recorder.statusCode)
		HTTPRequests.WithLabelValues(r.Method, route, status).Inc()
		HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// normalizeRoute maps request paths onto the gateway's fixed route set so
// arbitrary paths cannot mint new Prometheus series.
func normalizeRoute(path string) string {
	switch path {
	case "/api/generate", "/api/chat", "/api/tags", "/api/status",
		"/v1/routing/decide", "/v1/routing/metrics", "/v1/routing/reset",
		"/v1/routing/stages", "/v1/routing/optimize-batch",
		"/metrics", "/healthz":
		return path
	}
	if strings.HasPrefix(path, "/v1/audit/") {
		return "/v1/audit"
	}
	return "other"
}
