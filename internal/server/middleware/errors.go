package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/metrics"
	"github.com/namelens/pacer/internal/observability"
)

// Recovery converts handler panics into 500 envelopes.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			requestID := GetRequestID(r.Context())
			panicErr := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", recovered)).
				WithCorrelationID(requestID)
			panicErr, _ = panicErr.WithSeverity(errors.SeverityCritical)

			metrics.RecordPanic("http")
			if observability.ServerLogger != nil {
				observability.ServerLogger.Error("Recovered handler panic",
					zap.Any("panic", recovered),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID),
					zap.ByteString("stack", debug.Stack()))
			}

			writeErrorResponse(w, panicErr, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse mirrors the JSON error body written by internal/errors.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeErrorResponse writes the body directly; internal/errors imports this
// package for request IDs.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			RequestID: envelope.CorrelationID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
