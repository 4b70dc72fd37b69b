// Package errors builds gofulmen error envelopes for pacer and renders them
// as HTTP responses or CLI exit codes.
package errors

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/metrics"
	"github.com/namelens/pacer/internal/observability"
	"github.com/namelens/pacer/internal/server/middleware"
)

// Error codes used across pacer.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDatabase           = "DATABASE_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeTimeout            = "TIMEOUT"
)

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

// Wrap builds an envelope for err under code, tagged with the request's
// correlation ID when ctx carries one.
func Wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	correlationID := extractCorrelationID(ctx)
	envelope = envelope.WithCorrelationID(correlationID)
	envelope = envelope.WithTraceID(correlationID)
	return withWrappedError(envelope, err)
}

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeInvalidInput, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeDatabase, err, message)
}

func WrapExternalService(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeExternalService, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeConfigInvalid, err, message)
}

// extractCorrelationID gets the request ID from context, falling back to a new UUID
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}
	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}
	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromEnvelope resolves the HTTP status code corresponding to an error envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeInvalidInput, "VALIDATION_FAILED":
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExitCodeFromEnvelope maps an envelope to the foundry exit code a CLI
// command should terminate with.
func ExitCodeFromEnvelope(envelope *errors.ErrorEnvelope) foundry.ExitCode {
	if envelope == nil {
		return foundry.ExitFailure
	}
	switch envelope.Code {
	case CodeConfigInvalid, CodeInvalidInput:
		return foundry.ExitConfigInvalid
	case CodeNotFound:
		return foundry.ExitFileNotFound
	case CodeExternalService, CodeServiceUnavailable, CodeDatabase:
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

// ResponseDetails constructs API-safe details map by merging envelope details and context.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}

	details := make(map[string]interface{})
	for key, value := range envelope.Details {
		details[key] = value
	}
	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting metrics.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	var ctx context.Context
	if r != nil {
		ctx = r.Context()
	}
	envelope = EnsureCorrelationID(envelope, ctx)

	statusCode := HTTPStatusFromEnvelope(envelope)
	response := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   ResponseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	}

	logHTTPError(envelope, statusCode)
	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		metrics.RecordErrorByEndpoint(middleware.EndpointLabel(r), envelope.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}
	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}
