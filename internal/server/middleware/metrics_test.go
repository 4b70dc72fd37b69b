package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/pacer/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestRequestMetricsEmitsPerStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErrors bool
	}{
		{name: "accepted", status: http.StatusAccepted, body: `{"id":"x"}`},
		{name: "not found", status: http.StatusNotFound, wantErrors: true},
		{name: "queue full", status: http.StatusServiceUnavailable, wantErrors: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := setupTelemetry(t)

			handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/requests", strings.NewReader("{}")))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
			assert.Positive(t, collector.CountMetricsByName(HTTPRequestsTotal))
			assert.Positive(t, collector.CountMetricsByName(HTTPRequestDuration))
			assert.Positive(t, collector.CountMetricsByName(HTTPResponseSize))
			if tt.wantErrors {
				assert.Positive(t, collector.CountMetricsByName(HTTPErrorsTotal))
			} else {
				assert.Zero(t, collector.CountMetricsByName(HTTPErrorsTotal))
			}
		})
	}
}

func TestRequestMetricsWithTelemetryDisabled(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/throttle", nil))
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetEndpointPatternWithoutRouter(t *testing.T) {
	tests := map[string]string{
		"/":                 "/",
		"/health":           "/health/*",
		"/health/ready":     "/health/*",
		"/version":          "/version",
		"/metrics":          "/metrics",
		"/v1/requests":      "/v1/requests",
		"/v1/requests/3f1c": "/v1/requests/{id}",
		"/v1/throttle":      "/v1/throttle",
		"/api/users/123":    "/unknown",
	}

	for path, want := range tests {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, want, EndpointLabel(httptest.NewRequest(http.MethodGet, path, nil)))
		})
	}
}

func TestGetEndpointPatternUsesChiRoute(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/v1/requests/{id}", func(w http.ResponseWriter, req *http.Request) {
		got = EndpointLabel(req)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/requests/9b2e-77", nil))
	assert.Equal(t, "/v1/requests/{id}", got)
}

func TestRequestMetricsKeepsRequestID(t *testing.T) {
	collector := setupTelemetry(t)

	handler := RequestID(RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/throttle", nil)
	req.Header.Set(RequestIDHeader, "client-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id", rec.Header().Get(RequestIDHeader))
	assert.Positive(t, collector.CountMetricsByName(HTTPRequestsTotal))
}

func TestIsProbe(t *testing.T) {
	assert.True(t, isProbe("/metrics"))
	assert.True(t, isProbe("/health/*"))
	assert.False(t, isProbe("/v1/requests"))
}
