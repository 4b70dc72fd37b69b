package metrics

import (
	"strconv"

	"github.com/namelens/pacer/internal/observability"
)

// Metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// RecordError records an error with code and status
func RecordError(errorCode string, httpStatus int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(ErrorsTotalName, 1, map[string]string{
			"error_code":  errorCode,
			"http_status": strconv.Itoa(httpStatus),
		})
	}
}

// RecordPanic records a recovered panic. where is "http" or "action".
func RecordPanic(where string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotalName, 1, map[string]string{
			"where": where,
		})
	}
}

// RecordErrorByEndpoint records an error by endpoint
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(ErrorsByEndpointName, 1, map[string]string{
			"endpoint":   endpoint,
			"error_code": errorCode,
		})
	}
}
