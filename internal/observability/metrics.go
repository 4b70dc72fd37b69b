package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

var (
	// TelemetrySystem is the global telemetry system; nil disables emission
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves /metrics for the telemetry system
	PrometheusExporter *exporters.PrometheusExporter

	// metricsPort stores the port the Prometheus exporter is listening on
	metricsPort int
)

// InitMetrics starts the Prometheus exporter on port (0 picks a free port)
// and installs the telemetry system that internal/metrics emits through.
func InitMetrics(port int) error {
	if port < 0 {
		port = 0
	}
	metricsPort = port

	PrometheusExporter = exporters.NewPrometheusExporter(ServiceName, fmt.Sprintf(":%d", port))
	if err := PrometheusExporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	if actual, err := resolvePort(PrometheusExporter.GetAddr()); err == nil {
		metricsPort = actual
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: PrometheusExporter,
	})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}

	TelemetrySystem = sys
	return nil
}

// ShutdownMetrics stops the exporter and disables emission.
func ShutdownMetrics() error {
	TelemetrySystem = nil
	if PrometheusExporter == nil {
		return nil
	}
	err := PrometheusExporter.Stop()
	PrometheusExporter = nil
	return err
}

// GetMetricsPort returns the port the Prometheus exporter is listening on
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
