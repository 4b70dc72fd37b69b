package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/openrdap/rdap"
)

// RDAPSource performs one RDAP domain lookup per execution. A registered
// domain and a not-found answer are both successes; rate limiting, server
// errors and transport failures are not.
type RDAPSource struct {
	Client *rdap.Client

	// Server pins queries to one RDAP base URL. Nil uses IANA bootstrap.
	Server  *url.URL
	Timeout time.Duration

	Clock func() time.Time
}

// NewRDAPSource parses server (empty for bootstrap) and returns a source.
func NewRDAPSource(server string, timeout time.Duration) (*RDAPSource, error) {
	src := &RDAPSource{Client: &rdap.Client{}, Timeout: timeout}
	if strings.TrimSpace(server) != "" {
		parsed, err := url.Parse(strings.TrimSpace(server))
		if err != nil {
			return nil, fmt.Errorf("invalid rdap server url: %w", err)
		}
		src.Server = parsed
	}
	return src, nil
}

// Kind implements Source.
func (s *RDAPSource) Kind() string { return KindRDAP }

// Do performs the lookup.
func (s *RDAPSource) Do(ctx context.Context, target Target) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	name := strings.ToLower(strings.TrimSpace(target.Domain))
	started := s.now()
	res := Result{Source: KindRDAP, Target: name, At: started}

	req := rdap.NewDomainRequest(name)
	if s.Server != nil {
		req = req.WithServer(s.Server)
	}
	if s.Timeout > 0 {
		req.Timeout = s.Timeout
	}
	req = req.WithContext(ctx)

	client := s.Client
	if client == nil {
		client = &rdap.Client{}
	}

	resp, err := client.Do(req)
	res.Duration = s.now().Sub(started)
	res.StatusCode = responseStatus(resp)

	if err != nil {
		switch {
		case isNotFound(err) || res.StatusCode == 404:
			res.Success = true
			res.Message = "rdap not found"
		case res.StatusCode == 429:
			res.Message = "rdap rate limited"
			res.RetryAfter = rdapRetryAfter(resp, s.now())
		case res.StatusCode >= 500 && res.StatusCode <= 599:
			res.Message = "rdap server error"
		default:
			res.Message = err.Error()
		}
		return res
	}

	if _, ok := resp.Object.(*rdap.Domain); ok {
		res.Success = true
		res.Message = "domain found"
		return res
	}

	res.Success = true
	res.Message = "unexpected rdap response"
	return res
}

func (s *RDAPSource) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func responseStatus(resp *rdap.Response) int {
	if resp == nil || len(resp.HTTP) == 0 || resp.HTTP[0] == nil || resp.HTTP[0].Response == nil {
		return 0
	}
	return resp.HTTP[0].Response.StatusCode
}

func rdapRetryAfter(resp *rdap.Response, now time.Time) time.Duration {
	if resp == nil || len(resp.HTTP) == 0 || resp.HTTP[0] == nil {
		return 0
	}
	return retryAfterHeader(resp.HTTP[0].Response, now)
}

func isNotFound(err error) bool {
	clientErr, ok := err.(*rdap.ClientError)
	if !ok {
		return false
	}
	return clientErr.Type == rdap.ObjectDoesNotExist
}
