package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/config"
	apperrors "github.com/namelens/pacer/internal/errors"
	"github.com/namelens/pacer/internal/observability"
)

const (
	defaultMetricsPort  = 9090
	prometheusTextPlain = "text/plain; version=0.0.4"
)

// hopHeaders are connection-scoped and never copied from the exporter.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

var metricsProxyClient = &http.Client{Timeout: 5 * time.Second}

func fallbackMetricsPort() int {
	if cfg := config.GetConfig(); cfg != nil && cfg.Metrics.Port > 0 {
		return cfg.Metrics.Port
	}
	return defaultMetricsPort
}

func exporterURL() string {
	port := observability.GetMetricsPort()
	if port == 0 {
		port = fallbackMetricsPort()
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

// MetricsHandler serves the Prometheus exporter's output on the main listener
// so a single port exposes both the relay API and its metrics.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("Metrics exporter not initialized"))
		return
	}

	target := exporterURL()
	resp, err := fetchExporter(r, target)
	if err != nil {
		observability.Logger().Warn("Metrics exporter unreachable", zap.String("url", target), zap.Error(err))
		apperrors.RespondWithError(w, r, apperrors.WrapExternalService(r.Context(), err, "Prometheus exporter unavailable"))
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			observability.Logger().Warn("Failed to close metrics response body", zap.Error(err))
		}
	}()

	copyEndToEndHeaders(w.Header(), resp.Header)
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", prometheusTextPlain)
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		observability.Logger().Warn("Failed to write metrics response", zap.Error(err))
	}
}

func fetchExporter(r *http.Request, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}
	return metricsProxyClient.Do(req)
}

func copyEndToEndHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(key)]; hop {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
