package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/namelens/pacer/internal/errors"
	"github.com/namelens/pacer/internal/metrics"
)

// Check statuses reported per component.
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDegraded  = "degraded"
	statusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

// CheckHealth implements HealthChecker.
func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthManager runs registered checks for the health endpoints. Checks
// registered as required fail readiness; optional ones only degrade it.
type HealthManager struct {
	checkers map[string]HealthChecker
	optional map[string]bool
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		optional: make(map[string]bool),
		version:  version,
	}
}

// RegisterChecker registers a required health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.checkers[name] = checker
}

// RegisterOptionalChecker registers a checker whose failure only degrades.
func (hm *HealthManager) RegisterOptionalChecker(name string, checker HealthChecker) {
	hm.checkers[name] = checker
	hm.optional[name] = true
}

// runHealthChecks executes all registered health checks in name order
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = statusTimeout
			continue
		}

		start := time.Now()
		err := hm.checkers[name].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(start))

		switch {
		case err == nil:
			checks[name] = statusHealthy
		case hm.optional[name]:
			checks[name] = statusDegraded
		default:
			checks[name] = statusUnhealthy
		}
	}
	return checks
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == statusUnhealthy {
			return statusUnhealthy
		}
		if status == statusDegraded || status == statusTimeout {
			degraded = true
		}
	}
	if degraded {
		return statusDegraded
	}
	return statusHealthy
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := hm.determineOverallStatus(checks)

	if status == statusUnhealthy {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "aggregate health check failed")
		apperrors.RespondWithError(w, r, enrichHealthEnvelope(envelope, "", status, checks))
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving HTTP. It runs no
// checks so a saturated relay is not restarted.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{
		Status:    statusHealthy,
		Timestamp: time.Now().UTC(),
	})
}

// ReadinessHandler reports whether the relay should receive traffic.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := hm.determineOverallStatus(checks)

	if status == statusUnhealthy {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "readiness probe failed")
		apperrors.RespondWithError(w, r, enrichHealthEnvelope(envelope, "ready", status, checks))
		return
	}

	writeJSON(w, http.StatusOK, ProbeResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	var unhealthy []string
	for name, result := range checks {
		if result != statusHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"unhealthy_checks": unhealthy,
		})
	}
	return envelope
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
