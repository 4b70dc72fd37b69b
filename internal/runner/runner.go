// Package runner drives a batch of targets through an adaptive throttle and
// summarizes the run.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namelens/pacer/internal/metrics"
	"github.com/namelens/pacer/internal/source"
	"github.com/namelens/pacer/internal/throttle"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
)

// RateSample is the controller state recorded after one evaluation.
type RateSample struct {
	At       time.Time     `json:"at"`
	Rate     int           `json:"rate"`
	Interval time.Duration `json:"interval"`
	Errors   int           `json:"errors"`
	Pending  int           `json:"pending"`
	BackOff  bool          `json:"back_off"`
}

// Report summarizes one run.
type Report struct {
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Throttle   throttle.Config `json:"throttle"`

	Targets    int `json:"targets"`
	Executions int `json:"executions"`
	Successes  int `json:"successes"`
	Failures   int `json:"failures"`
	Dropped    int `json:"dropped"`
	FinalRate  int `json:"final_rate"`

	RateSamples []RateSample    `json:"rate_samples,omitempty"`
	Results     []source.Result `json:"results,omitempty"`
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Job pairs a target with the source that executes it.
type Job struct {
	Target source.Target
	Source source.Source
}

// Runner executes jobs through a fresh Throttle per run.
type Runner struct {
	Config throttle.Config
	Logger throttle.Logger
	Clock  func() time.Time

	// OnResult, if set, sees every execution as it completes.
	OnResult func(source.Result)
}

// New returns a Runner for cfg.
func New(cfg throttle.Config, logger throttle.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Config: cfg, Logger: logger}
}

// run holds the counters of one Run call.
type run struct {
	mu      sync.Mutex
	report  *Report
	results source.Recorder
	pending sync.WaitGroup
}

// Run enqueues every job and waits until each has either succeeded or been
// dropped, or until ctx is done. On cancellation the partial report is
// returned with ctx's error; queued work still drains but no longer calls
// its source.
func (r *Runner) Run(ctx context.Context, jobs []Job) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no jobs to run")
	}
	for i, job := range jobs {
		if job.Source == nil {
			return nil, fmt.Errorf("job %d (%s): no source", i, job.Target)
		}
	}

	state := &run{report: &Report{
		RunID:     uuid.New().String(),
		StartedAt: r.now(),
		Targets:   len(jobs),
	}}

	th, err := throttle.New(r.Config,
		throttle.WithLogger(r.Logger),
		throttle.WithHooks(throttle.Hooks{
			OnAdjust: state.sampler(),
			OnDrop:   state.dropper(jobs),
		}))
	if err != nil {
		return nil, err
	}
	state.report.Throttle = th.Config()

	state.pending.Add(len(jobs))
	for _, job := range jobs {
		th.Enqueue(r.action(ctx, state, job))
	}

	settled := make(chan struct{})
	go func() {
		state.pending.Wait()
		close(settled)
	}()

	var runErr error
	select {
	case <-settled:
		state.report.Status = StatusCompleted
	case <-ctx.Done():
		state.report.Status = StatusCanceled
		runErr = ctx.Err()
	}

	snap := th.Snapshot()

	state.mu.Lock()
	defer state.mu.Unlock()
	report := *state.report
	report.FinishedAt = r.now()
	report.FinalRate = snap.Rate
	report.RateSamples = append([]RateSample(nil), state.report.RateSamples...)
	if state.results.Len() > 0 {
		report.Results = state.results.Results()
	}

	r.Logger.Debug("Run finished",
		zap.String("run_id", report.RunID),
		zap.String("status", report.Status),
		zap.Int("executions", report.Executions),
		zap.Int("dropped", report.Dropped),
		zap.Int("final_rate", report.FinalRate))

	return &report, runErr
}

// action wraps job into a throttle action that counts attempts and records
// every result. A success settles the job; drops settle via OnDrop.
func (r *Runner) action(ctx context.Context, state *run, job Job) throttle.Action {
	attempt := 0
	return func() bool {
		if ctx.Err() != nil {
			state.pending.Done()
			return true
		}
		attempt++

		res := job.Source.Do(ctx, job.Target)
		res.Attempt = attempt
		metrics.RecordExecution(job.Source.Kind(), res.Success, res.Duration)

		state.mu.Lock()
		state.report.Executions++
		if res.Success {
			state.report.Successes++
		} else {
			state.report.Failures++
		}
		state.mu.Unlock()
		state.results.Record(res)

		if r.OnResult != nil {
			r.OnResult(res)
		}
		if res.Success {
			state.pending.Done()
		}
		return res.Success
	}
}

func (s *run) sampler() func(throttle.Snapshot) {
	return func(snap throttle.Snapshot) {
		metrics.RecordAdjustment("runner", snap.Rate, snap.Pending, snap.SkippedLast)

		s.mu.Lock()
		s.report.RateSamples = append(s.report.RateSamples, RateSample{
			At:       snap.At,
			Rate:     snap.Rate,
			Interval: snap.Interval,
			Errors:   snap.Errors,
			Pending:  snap.Pending,
			BackOff:  snap.SkippedLast,
		})
		s.mu.Unlock()
	}
}

func (s *run) dropper(jobs []Job) func(int) {
	kind := jobs[0].Source.Kind()
	for _, job := range jobs[1:] {
		if job.Source.Kind() != kind {
			kind = "mixed"
			break
		}
	}
	return func(attempts int) {
		metrics.RecordDrop(kind, attempts)

		s.mu.Lock()
		s.report.Dropped++
		s.mu.Unlock()
		s.pending.Done()
	}
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}
