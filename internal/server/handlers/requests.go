package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/namelens/pacer/internal/errors"
	"github.com/namelens/pacer/internal/relay"
	"github.com/namelens/pacer/internal/source"
	"github.com/namelens/pacer/internal/throttle"
)

// maxRequestBody bounds POST /v1/requests bodies.
const maxRequestBody = 64 << 10

// SubmitRequest is the body of POST /v1/requests.
type SubmitRequest struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
}

// ThrottleResponse is the body of GET /v1/throttle.
type ThrottleResponse struct {
	Current        throttle.Snapshot  `json:"current"`
	LastAdjustment *throttle.Snapshot `json:"last_adjustment,omitempty"`
	Config         throttle.Config    `json:"config"`
	Running        bool               `json:"running"`
}

// RequestsHandler exposes a relay over HTTP.
type RequestsHandler struct {
	Relay *relay.Relay
}

// Submit handles POST /v1/requests.
func (h *RequestsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid request body"))
		return
	}

	req, err := h.Relay.Submit(source.Target{URL: body.URL, Method: body.Method})
	switch {
	case errors.Is(err, relay.ErrInvalidRequest):
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, err.Error()))
		return
	case errors.Is(err, relay.ErrQueueFull), errors.Is(err, relay.ErrClosed):
		envelope := apperrors.NewServiceUnavailableError(err.Error())
		if snap := h.Relay.Snapshot(); snap.Interval > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", max(1, int(snap.Interval.Seconds()))))
		}
		apperrors.RespondWithError(w, r, envelope)
		return
	case err != nil:
		apperrors.RespondWithError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/requests/"+req.ID)
	writeJSON(w, http.StatusAccepted, req)
}

// Get handles GET /v1/requests/{id}.
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := h.Relay.Get(id)
	if !ok {
		envelope := apperrors.NewNotFoundError("request not found")
		envelope, _ = envelope.WithContext(map[string]interface{}{"id": id})
		apperrors.RespondWithError(w, r, envelope)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Throttle handles GET /v1/throttle.
func (h *RequestsHandler) Throttle(w http.ResponseWriter, r *http.Request) {
	resp := ThrottleResponse{
		Current: h.Relay.Snapshot(),
		Config:  h.Relay.Config(),
		Running: h.Relay.Running(),
	}
	if last, ok := h.Relay.LastAdjustment(); ok {
		resp.LastAdjustment = &last
	}
	writeJSON(w, http.StatusOK, resp)
}
