package metrics

import (
	"strconv"
	"time"

	"github.com/namelens/pacer/internal/observability"
)

// Throttle and relay metrics following Prometheus conventions.
// The exporter prefixes every name with the pacer namespace.
const (
	ExecutionsTotal     = "executions_total"
	DroppedTotal        = "dropped_total"
	CurrentRate         = "current_rate"
	PendingItems        = "pending_items"
	RateAdjustments     = "rate_adjustments_total"
	ActionDuration      = "action_duration_ms"
	RelayRequestsTotal  = "relay_requests_total"
	ServerStartTime     = "server_start_time_seconds"
	ServerUptime        = "server_uptime_seconds"
	HealthCheckTotal    = "health_check_total"
	HealthCheckDuration = "health_check_duration_ms"
)

// Outcome labels for ExecutionsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// RecordExecution records one action execution and how long it took.
func RecordExecution(source string, success bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}

	_ = observability.TelemetrySystem.Counter(ExecutionsTotal, 1, map[string]string{
		"source":  source,
		"outcome": outcome,
	})
	_ = observability.TelemetrySystem.Histogram(ActionDuration, duration, map[string]string{
		"source": source,
	})
}

// RecordDrop records an item that exhausted its retry budget.
func RecordDrop(source string, attempts int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(DroppedTotal, 1, map[string]string{
		"source":   source,
		"attempts": strconv.Itoa(attempts),
	})
}

// RecordAdjustment publishes the state produced by one rate evaluation.
func RecordAdjustment(source string, rate, pending int, skipped bool) {
	if observability.TelemetrySystem == nil {
		return
	}

	labels := map[string]string{"source": source}
	_ = observability.TelemetrySystem.Gauge(CurrentRate, float64(rate), labels)
	_ = observability.TelemetrySystem.Gauge(PendingItems, float64(pending), labels)
	_ = observability.TelemetrySystem.Counter(RateAdjustments, 1, map[string]string{
		"source":  source,
		"skipped": strconv.FormatBool(skipped),
	})
}

// RecordRelayRequest records a request accepted or rejected by the relay.
func RecordRelayRequest(accepted bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(RelayRequestsTotal, 1, map[string]string{
		"accepted": strconv.FormatBool(accepted),
	})
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	_ = observability.TelemetrySystem.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": status,
	})
	_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{
		"check": checkName,
	})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerUptime, float64(seconds), nil)
	}
}
