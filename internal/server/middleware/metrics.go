package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/observability"
)

// HTTP metric names emitted by RequestMetrics.
const (
	HTTPRequestsTotal   = "http_requests_total"
	HTTPRequestDuration = "http_request_duration_ms"
	HTTPResponseSize    = "http_response_size_bytes"
	HTTPErrorsTotal     = "http_errors_total"
)

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// EndpointLabel returns a low-cardinality label for r. Relay request
// IDs never become label values.
func EndpointLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/" || path == "/version" || path == "/metrics":
		return path
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/v1/requests", path == "/v1/throttle":
		return path
	case strings.HasPrefix(path, "/v1/requests/"):
		return "/v1/requests/{id}"
	default:
		return "/unknown"
	}
}

// isProbe reports endpoints polled by orchestrators and scrapers; their
// completions log at debug level.
func isProbe(endpoint string) bool {
	return endpoint == "/metrics" || strings.HasPrefix(endpoint, "/health")
}

// RequestMetrics counts and times every request and logs its completion
// with the request ID.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endpoint := EndpointLabel(r)

		if sys := observability.TelemetrySystem; sys != nil {
			labels := map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
				"status":   strconv.Itoa(rec.status),
			}
			_ = sys.Counter(HTTPRequestsTotal, 1, labels)
			_ = sys.Histogram(HTTPRequestDuration, duration, labels)
			_ = sys.Gauge(HTTPResponseSize, float64(rec.bytes), map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
			})
			if rec.status >= 400 {
				_ = sys.Counter(HTTPErrorsTotal, 1, map[string]string{
					"method":     r.Method,
					"endpoint":   endpoint,
					"status":     strconv.Itoa(rec.status),
					"error_type": errorClass(rec.status),
				})
			}
		}

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.Int64("response_size", rec.bytes),
			zap.String("request_id", GetRequestID(r.Context())),
		}
		if isProbe(endpoint) {
			logger.Debug("HTTP request completed", fields...)
			return
		}
		logger.Info("HTTP request completed", fields...)
	})
}

func errorClass(status int) string {
	if status >= 500 {
		return "server_error"
	}
	return "client_error"
}
