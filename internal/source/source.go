// Package source turns targets into outbound work that reports success or
// failure. The HTTP and RDAP sources classify rate limiting and server
// errors as failures so an adaptive throttle can slow down against them.
package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kinds of work a Target can describe.
const (
	KindHTTP = "http"
	KindRDAP = "rdap"
)

// Target is one unit of outbound work.
type Target struct {
	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
	Domain string `yaml:"domain,omitempty" json:"domain,omitempty"`
}

// Kind reports which source handles t.
func (t Target) Kind() string {
	if strings.TrimSpace(t.Domain) != "" {
		return KindRDAP
	}
	return KindHTTP
}

// String returns the URL or domain.
func (t Target) String() string {
	if t.Kind() == KindRDAP {
		return strings.TrimSpace(t.Domain)
	}
	return strings.TrimSpace(t.URL)
}

// Validate checks that t names exactly one of url or domain.
func (t Target) Validate() error {
	hasURL := strings.TrimSpace(t.URL) != ""
	hasDomain := strings.TrimSpace(t.Domain) != ""
	switch {
	case hasURL && hasDomain:
		return fmt.Errorf("target sets both url %q and domain %q", t.URL, t.Domain)
	case !hasURL && !hasDomain:
		return fmt.Errorf("target needs a url or a domain")
	}
	return nil
}

// Result describes one execution of a target.
type Result struct {
	Source     string        `json:"source"`
	Target     string        `json:"target"`
	Attempt    int           `json:"attempt"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"duration"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	At         time.Time     `json:"at"`
}

// Source performs one execution of a target.
type Source interface {
	Kind() string
	Do(ctx context.Context, target Target) Result
}

// Recorder collects results from concurrent executions.
type Recorder struct {
	mu      sync.Mutex
	results []Result
}

// Record appends res.
func (r *Recorder) Record(res Result) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// Results returns a copy of everything recorded so far, in record order.
func (r *Recorder) Results() []Result {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Len returns the number of recorded results.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// failureStatus reports whether an HTTP status should lower the rate:
// 429, any 5xx, or one of the extra codes.
func failureStatus(code int, extra []int) bool {
	if code == 429 || (code >= 500 && code <= 599) {
		return true
	}
	for _, c := range extra {
		if c == code {
			return true
		}
	}
	return false
}
