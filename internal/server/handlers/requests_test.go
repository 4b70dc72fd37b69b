package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/namelens/pacer/internal/errors"
	"github.com/namelens/pacer/internal/relay"
	"github.com/namelens/pacer/internal/source"
	"github.com/namelens/pacer/internal/throttle"
)

func newRequestsRouter(t *testing.T, cfg throttle.Config, opts relay.Options) (http.Handler, *relay.Relay) {
	t.Helper()
	rl, err := relay.New(cfg, source.NewHTTPSource(time.Second, "GET", "", nil), opts)
	require.NoError(t, err)
	t.Cleanup(rl.Close)

	h := &RequestsHandler{Relay: rl}
	r := chi.NewRouter()
	r.Post("/v1/requests", h.Submit)
	r.Get("/v1/requests/{id}", h.Get)
	r.Get("/v1/throttle", h.Throttle)
	return r, rl
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestSubmitAndGetRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	router, _ := newRequestsRouter(t, throttle.DefaultConfig(10, 50*time.Millisecond), relay.Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/requests",
		strings.NewReader(`{"url":"`+upstream.URL+`"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted relay.Request
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitted))
	assert.Equal(t, "/v1/requests/"+submitted.ID, rec.Header().Get("Location"))
	assert.Equal(t, relay.StateQueued, submitted.State)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/requests/"+submitted.ID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		var got relay.Request
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			return false
		}
		return got.State == relay.StateSucceeded && got.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	router, _ := newRequestsRouter(t, throttle.DefaultConfig(10, 50*time.Millisecond), relay.Options{})

	for _, body := range []string{
		`not json`,
		`{"url":"ftp://example.com"}`,
		`{"url":"https://example.com","extra":true}`,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/requests", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, apperrors.CodeInvalidInput, decodeError(t, rec).Error.Code)
	}
}

func TestSubmitReturnsUnavailableWhenFull(t *testing.T) {
	router, _ := newRequestsRouter(t, throttle.DefaultConfig(1, time.Hour), relay.Options{MaxPending: 1})

	post := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/requests",
			strings.NewReader(`{"url":"http://example.invalid/x"}`)))
		return rec
	}

	require.Equal(t, http.StatusAccepted, post().Code)

	rec := post()
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Equal(t, apperrors.CodeServiceUnavailable, decodeError(t, rec).Error.Code)
}

func TestGetUnknownRequest(t *testing.T) {
	router, _ := newRequestsRouter(t, throttle.DefaultConfig(10, 50*time.Millisecond), relay.Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/requests/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Error.Code)
}

func TestThrottleReportsConfig(t *testing.T) {
	cfg := throttle.DefaultConfig(4, 200*time.Millisecond)
	cfg.MaxRate = 8
	cfg.MaxRetries = 2
	router, _ := newRequestsRouter(t, cfg, relay.Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/throttle", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var raw struct {
		Config map[string]any `json:"config"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "200ms", raw.Config["interval"])
	assert.Equal(t, float64(4), raw.Config["min_rate"])

	var resp ThrottleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 4, resp.Config.MinRate)
	assert.Equal(t, 8, resp.Config.MaxRate)
	assert.Equal(t, 200*time.Millisecond, resp.Config.BaseInterval)
	assert.Equal(t, 2, resp.Config.MaxRetries)
	assert.Equal(t, 6, resp.Current.Rate)
	assert.False(t, resp.Running)
}
