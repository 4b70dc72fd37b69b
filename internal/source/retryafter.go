package source

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter decodes a Retry-After header value, either delta seconds
// or an HTTP date relative to now. Unparseable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if parsed, err := http.ParseTime(value); err == nil {
		if wait := parsed.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

func retryAfterHeader(resp *http.Response, now time.Time) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}
	return ParseRetryAfter(resp.Header.Get("Retry-After"), now)
}
