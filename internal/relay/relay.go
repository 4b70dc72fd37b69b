// Package relay accepts outbound HTTP requests from API callers and
// executes them through one shared adaptive throttle, tracking the state of
// each request until it succeeds or is dropped.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/metrics"
	"github.com/namelens/pacer/internal/source"
	"github.com/namelens/pacer/internal/throttle"
)

// DefaultMaxTracked bounds how many finished requests are remembered.
const DefaultMaxTracked = 10000

var (
	// ErrQueueFull is returned by Submit when MaxPending items are queued.
	ErrQueueFull = errors.New("relay queue is full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("relay is closed")

	// ErrInvalidRequest wraps every validation failure from Submit.
	ErrInvalidRequest = errors.New("invalid relay request")
)

// State is the lifecycle position of a relayed request.
type State string

const (
	StateQueued    State = "queued"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateDropped   State = "dropped"
	StateCanceled  State = "canceled"
)

// Finished reports whether the request will not execute again.
func (s State) Finished() bool {
	return s == StateSucceeded || s == StateDropped || s == StateCanceled
}

// Request is the externally visible record of one relayed request.
type Request struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	StatusCode int       `json:"status_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Options tune a Relay beyond its throttle config.
type Options struct {
	// MaxPending rejects submissions while this many items are queued.
	// Zero disables the limit.
	MaxPending int

	// MaxTracked caps remembered finished requests (default 10000).
	MaxTracked int

	Logger throttle.Logger
	Clock  func() time.Time
}

// Relay owns the shared throttle and the request registry.
type Relay struct {
	throttle   *throttle.Throttle
	source     source.Source
	maxPending int
	maxTracked int
	logger     throttle.Logger
	clock      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	requests   map[string]*Request
	order      []string
	lastAdjust *throttle.Snapshot
}

// New builds a Relay executing requests with src.
func New(cfg throttle.Config, src source.Source, opts Options) (*Relay, error) {
	if src == nil {
		return nil, errors.New("relay needs a source")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	maxTracked := opts.MaxTracked
	if maxTracked <= 0 {
		maxTracked = DefaultMaxTracked
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		source:     src,
		maxPending: opts.MaxPending,
		maxTracked: maxTracked,
		logger:     logger,
		clock:      clock,
		ctx:        ctx,
		cancel:     cancel,
		requests:   make(map[string]*Request),
	}

	th, err := throttle.New(cfg,
		throttle.WithLogger(logger),
		throttle.WithHooks(throttle.Hooks{OnAdjust: r.recordAdjustment}))
	if err != nil {
		cancel()
		return nil, err
	}
	r.throttle = th
	return r, nil
}

// Submit validates target, registers it and enqueues it.
func (r *Relay) Submit(target source.Target) (Request, error) {
	if err := validateTarget(target); err != nil {
		metrics.RecordRelayRequest(false)
		return Request{}, err
	}

	method := strings.ToUpper(strings.TrimSpace(target.Method))
	if method == "" {
		method = "GET"
	}
	target.Method = method

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		metrics.RecordRelayRequest(false)
		return Request{}, ErrClosed
	}
	if r.maxPending > 0 && r.throttle.Pending() >= r.maxPending {
		r.mu.Unlock()
		metrics.RecordRelayRequest(false)
		return Request{}, ErrQueueFull
	}

	now := r.clock()
	req := &Request{
		ID:        uuid.New().String(),
		Method:    method,
		URL:       target.URL,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.requests[req.ID] = req
	r.order = append(r.order, req.ID)
	r.evictLocked()
	snapshot := *req
	r.mu.Unlock()

	r.throttle.Enqueue(r.action(req.ID, target))
	metrics.RecordRelayRequest(true)

	r.logger.Debug("Relay request queued",
		zap.String("id", snapshot.ID),
		zap.String("method", snapshot.Method),
		zap.String("url", snapshot.URL))
	return snapshot, nil
}

// Get returns the current record of id.
func (r *Relay) Get(id string) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[strings.TrimSpace(id)]
	if !ok {
		return Request{}, false
	}
	return *req, true
}

// Snapshot returns the live throttle state.
func (r *Relay) Snapshot() throttle.Snapshot {
	return r.throttle.Snapshot()
}

// LastAdjustment returns the state recorded by the most recent rate
// controller pass, if any.
func (r *Relay) LastAdjustment() (throttle.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastAdjust == nil {
		return throttle.Snapshot{}, false
	}
	return *r.lastAdjust, true
}

// Running reports whether the throttle is dispatching or idle.
func (r *Relay) Running() bool {
	return r.throttle.Running()
}

// Config returns the normalized throttle configuration.
func (r *Relay) Config() throttle.Config {
	return r.throttle.Config()
}

// CheckHealth reports an error while the relay is closed or saturated.
func (r *Relay) CheckHealth(ctx context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if r.maxPending > 0 && r.throttle.Pending() >= r.maxPending {
		return ErrQueueFull
	}
	return nil
}

// Close stops accepting requests. Queued requests are marked canceled as
// the throttle reaches them instead of being sent.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
}

func (r *Relay) action(id string, target source.Target) throttle.Action {
	maxAttempts := r.throttle.Config().MaxAttempts()
	attempt := 0
	return func() bool {
		if r.ctx.Err() != nil {
			r.update(id, func(req *Request) {
				req.State = StateCanceled
				req.Message = "relay closed"
			})
			return true
		}

		attempt++
		res := r.source.Do(r.ctx, target)
		metrics.RecordExecution(source.KindHTTP, res.Success, res.Duration)

		r.update(id, func(req *Request) {
			req.Attempts = attempt
			req.StatusCode = res.StatusCode
			req.Message = res.Message
			switch {
			case res.Success:
				req.State = StateSucceeded
			case attempt >= maxAttempts:
				req.State = StateDropped
			default:
				req.State = StateRetrying
			}
		})

		if !res.Success && attempt >= maxAttempts {
			metrics.RecordDrop(source.KindHTTP, attempt)
			r.logger.Warn("Relay request dropped",
				zap.String("id", id),
				zap.Int("attempts", attempt),
				zap.Int("status", res.StatusCode))
		}
		return res.Success
	}
}

func (r *Relay) update(id string, fn func(*Request)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return
	}
	fn(req)
	req.UpdatedAt = r.clock()
}

func (r *Relay) recordAdjustment(snap throttle.Snapshot) {
	metrics.RecordAdjustment("relay", snap.Rate, snap.Pending, snap.SkippedLast)
	r.mu.Lock()
	r.lastAdjust = &snap
	r.mu.Unlock()
}

// evictLocked forgets the oldest finished requests beyond maxTracked.
func (r *Relay) evictLocked() {
	excess := len(r.order) - r.maxTracked
	if excess <= 0 {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if excess > 0 && r.requests[id].State.Finished() {
			delete(r.requests, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func validateTarget(target source.Target) error {
	raw := strings.TrimSpace(target.URL)
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported url scheme %q", ErrInvalidRequest, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidRequest)
	}
	switch strings.ToUpper(strings.TrimSpace(target.Method)) {
	case "", "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS":
		return nil
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, target.Method)
	}
}
