package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoveryWritesEnvelope(t *testing.T) {
	handler := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/throttle", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()

	require.NotPanics(t, func() { handler.ServeHTTP(rec, req) })
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	require.Equal(t, "panic: kaboom", body.Error.Message)
	require.Equal(t, "req-42", body.Error.RequestID)
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}
