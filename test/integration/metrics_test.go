package integration

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/pacer/internal/config"
	"github.com/namelens/pacer/internal/observability"
	"github.com/namelens/pacer/internal/relay"
	"github.com/namelens/pacer/internal/server"
	"github.com/namelens/pacer/internal/server/handlers"
	"github.com/namelens/pacer/internal/source"
	"github.com/namelens/pacer/internal/throttle"
)

// cleanupMetrics tears down global telemetry state so each test starts clean.
// This matters in sandboxes where lingering exporters can block future binds.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		_ = observability.ShutdownMetrics()
		observability.TelemetrySystem = nil
	})
}

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip attempts to start the metrics exporter; if the environment
// forbids network binds we skip instead of failing the entire suite.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics(0); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	cleanupMetrics(t)
}

// listenOrSkip binds IPv4 loopback explicitly and skips when the sandbox
// refuses to open sockets.
func listenOrSkip(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}
	return listener
}

func startServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ts := &httptest.Server{
		Listener: listenOrSkip(t),
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

// newRelayServer wires a relay and the HTTP front end the way serve does.
func newRelayServer(t *testing.T, cfg throttle.Config) (*httptest.Server, *relay.Relay) {
	t.Helper()

	rl, err := relay.New(cfg, source.NewHTTPSource(2*time.Second, "GET", "pacer-test", nil), relay.Options{})
	require.NoError(t, err)
	t.Cleanup(rl.Close)

	health := handlers.NewHealthManager("test")
	health.RegisterChecker("relay", rl)

	srv := server.New(config.ServerConfig{Host: "127.0.0.1"}, rl, health)
	return startServer(t, srv.Handler()), rl
}

func submit(t *testing.T, client *http.Client, base, target string) relay.Request {
	t.Helper()
	resp, err := client.Post(base+"/v1/requests", "application/json",
		strings.NewReader(`{"url":"`+target+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var req relay.Request
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&req))
	return req
}

func waitForFinished(t *testing.T, client *http.Client, base, id string) relay.Request {
	t.Helper()
	var got relay.Request
	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/v1/requests/" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close() // nolint:errcheck
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			return false
		}
		return got.State.Finished()
	}, 10*time.Second, 25*time.Millisecond)
	return got
}

func TestRelay_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	upstream := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	cfg := throttle.DefaultConfig(5, 100*time.Millisecond)
	cfg.MaxRetries = 3
	ts, _ := newRelayServer(t, cfg)
	client := ts.Client()

	req := submit(t, client, ts.URL, upstream.URL+"/item")
	done := waitForFinished(t, client, ts.URL, req.ID)

	assert.Equal(t, relay.StateSucceeded, done.State)
	assert.Equal(t, 3, done.Attempts)
	assert.Equal(t, http.StatusOK, done.StatusCode)
	assert.EqualValues(t, 3, hits.Load())
}

func TestRelay_DropsAfterRetryBudget(t *testing.T) {
	upstream := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	cfg := throttle.DefaultConfig(5, 100*time.Millisecond)
	cfg.MaxRetries = 1
	ts, _ := newRelayServer(t, cfg)
	client := ts.Client()

	req := submit(t, client, ts.URL, upstream.URL)
	done := waitForFinished(t, client, ts.URL, req.ID)

	assert.Equal(t, relay.StateDropped, done.State)
	assert.Equal(t, 2, done.Attempts)
}

func TestRelay_ThrottleSlowsDownUnderErrors(t *testing.T) {
	upstream := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	cfg := throttle.DefaultConfig(2, 100*time.Millisecond)
	cfg.MaxRate = 20
	cfg.ErrorThreshold = 1
	ts, rl := newRelayServer(t, cfg)
	client := ts.Client()

	for i := 0; i < 30; i++ {
		submit(t, client, ts.URL, upstream.URL)
	}

	require.Eventually(t, func() bool {
		last, ok := rl.LastAdjustment()
		return ok && last.Errors >= 1
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := client.Get(ts.URL + "/v1/throttle")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	var snapshot handlers.ThrottleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	require.NotNil(t, snapshot.LastAdjustment)
	assert.Less(t, snapshot.Current.Rate, 11, "rate starts at the midpoint and only falls while every call fails")
	assert.GreaterOrEqual(t, snapshot.Current.Rate, 2)
}

func TestMetricsEndpoint_Integration(t *testing.T) {
	observability.InitServerLogger("info", "STRUCTURED")
	initMetricsOrSkip(t)

	upstream := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ts, _ := newRelayServer(t, throttle.DefaultConfig(10, 50*time.Millisecond))
	client := ts.Client()

	for i := 0; i < 5; i++ {
		req := submit(t, client, ts.URL, upstream.URL)
		waitForFinished(t, client, ts.URL, req.ID)
	}
	resp, err := client.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	resp, err = client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	contentType := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, "text/plain"), "Expected Prometheus content type, got: %s", contentType)

	metricsContent := string(body)
	assert.Contains(t, metricsContent, "pacer_http_requests_total", "Should have HTTP request metrics")
	assert.Contains(t, metricsContent, "pacer_executions_total", "Should have execution metrics")
	assert.Contains(t, metricsContent, "pacer_relay_requests_total", "Should have relay submission metrics")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})

	ts, _ := newRelayServer(t, throttle.DefaultConfig(1, time.Second))

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
