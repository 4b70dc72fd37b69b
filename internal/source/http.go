package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxDrainBytes bounds how much of a response body is read before closing.
const maxDrainBytes = 1 << 20

// HTTPSource issues one HTTP request per execution.
type HTTPSource struct {
	Client    *http.Client
	Method    string
	UserAgent string

	// FailStatuses are reported as failures on top of 429 and 5xx.
	FailStatuses []int

	Clock func() time.Time
}

// NewHTTPSource returns an HTTPSource with a client bounded by timeout.
func NewHTTPSource(timeout time.Duration, method, userAgent string, failStatuses []int) *HTTPSource {
	return &HTTPSource{
		Client:       &http.Client{Timeout: timeout},
		Method:       method,
		UserAgent:    userAgent,
		FailStatuses: failStatuses,
	}
}

// Kind implements Source.
func (s *HTTPSource) Kind() string { return KindHTTP }

// Do performs the request. Transport errors and failure statuses report
// Success=false.
func (s *HTTPSource) Do(ctx context.Context, target Target) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	started := s.now()
	res := Result{Source: KindHTTP, Target: target.String(), At: started}

	method := strings.ToUpper(strings.TrimSpace(target.Method))
	if method == "" {
		method = strings.ToUpper(strings.TrimSpace(s.Method))
	}
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.URL, nil)
	if err != nil {
		res.Message = fmt.Sprintf("build request: %v", err)
		res.Duration = s.now().Sub(started)
		return res
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		res.Message = err.Error()
		res.Duration = s.now().Sub(started)
		return res
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	res.Duration = s.now().Sub(started)
	res.StatusCode = resp.StatusCode
	res.Message = resp.Status
	res.Success = !failureStatus(resp.StatusCode, s.FailStatuses)
	if resp.StatusCode == http.StatusTooManyRequests {
		res.RetryAfter = retryAfterHeader(resp, s.now())
	}
	return res
}

func (s *HTTPSource) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
