package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRDAPSource(t *testing.T, handler http.HandlerFunc) *RDAPSource {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	src, err := NewRDAPSource(server.URL, time.Second)
	require.NoError(t, err)
	return src
}

func TestRDAPSourceFound(t *testing.T) {
	src := newTestRDAPSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rdap+json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
  "objectClassName": "domain",
  "ldhName": "example.com",
  "status": ["active"]
}`))
	})

	res := src.Do(context.Background(), Target{Domain: "Example.com"})
	require.True(t, res.Success)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "example.com", res.Target)
	require.Equal(t, "domain found", res.Message)
}

func TestRDAPSourceNotFoundIsSuccess(t *testing.T) {
	src := newTestRDAPSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	res := src.Do(context.Background(), Target{Domain: "available.com"})
	require.True(t, res.Success)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRDAPSourceRateLimited(t *testing.T) {
	src := newTestRDAPSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res := src.Do(context.Background(), Target{Domain: "example.com"})
	require.False(t, res.Success)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	require.Equal(t, "rdap rate limited", res.Message)
	require.Equal(t, 30*time.Second, res.RetryAfter)
}

func TestRDAPSourceServerError(t *testing.T) {
	src := newTestRDAPSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	res := src.Do(context.Background(), Target{Domain: "example.com"})
	require.False(t, res.Success)
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestNewRDAPSourceBootstrap(t *testing.T) {
	src, err := NewRDAPSource("", 0)
	require.NoError(t, err)
	require.Nil(t, src.Server)
	require.Equal(t, KindRDAP, src.Kind())
}
