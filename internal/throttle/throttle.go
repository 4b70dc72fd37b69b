// Package throttle paces units of work against a rate that adapts to the
// failures the work reports.
//
// A Throttle owns a FIFO work queue and two periodic processes that share one
// goroutine: a dispatch loop that drains a batch every effective interval,
// and a rate controller that runs every base interval and moves the rate
// between MinRate and MaxRate depending on how many failures were tallied
// since its last pass. Both processes are armed on the first Enqueue and
// disarmed as soon as a dispatch leaves the queue empty.
package throttle

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Logger is the logging surface the engine needs. *zap.Logger and the
// gofulmen logger both satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// Hooks are optional diagnostic callbacks. They run on the engine goroutine
// and must return promptly.
type Hooks struct {
	// OnAdjust is called after every rate controller pass.
	OnAdjust func(Snapshot)

	// OnDrop is called when a failed item will not run again, with the
	// number of times it was executed.
	OnDrop func(attempts int)

	// OnIdle is called when a dispatch left the queue empty, before the
	// timers are disarmed. Work enqueued from OnIdle keeps the engine running.
	OnIdle func()
}

// Snapshot describes the engine state after a rate controller pass.
type Snapshot struct {
	At          time.Time     `json:"at"`
	Rate        int           `json:"rate"`
	Interval    time.Duration `json:"interval"`
	BatchSize   int           `json:"batch_size"`
	Errors      int           `json:"errors"`
	Pending     int           `json:"pending"`
	SkippedLast bool          `json:"skipped_last"`
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(t *Throttle) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(t *Throttle) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithHooks installs diagnostic callbacks.
func WithHooks(h Hooks) Option {
	return func(t *Throttle) {
		t.hooks = h
	}
}

// state is the mutable record shared by the dispatch loop and the rate
// controller.
type state struct {
	rate         int
	interval     time.Duration
	batchSize    int
	errorCount   int
	lastDispatch time.Time
	skippedLast  bool
}

// Throttle is an adaptive rate-limited work queue. The zero value is not
// usable; construct one with New.
type Throttle struct {
	cfg    Config
	retry  retryPolicy
	clock  Clock
	logger Logger
	hooks  Hooks

	mu      sync.Mutex
	queue   workQueue
	running bool
	st      state
}

// New validates cfg and returns an idle Throttle.
func New(cfg Config, opts ...Option) (*Throttle, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Throttle{
		cfg:    cfg,
		retry:  retryPolicy{maxRetries: cfg.MaxRetries},
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.setRate(cfg.initialRate())
	t.st.lastDispatch = t.clock.Now()

	if t.st.interval < slowIntervalWarning {
		t.logger.Warn("Throttle interval below 200ms can create performance issues",
			zap.Duration("interval", t.st.interval),
			zap.Int("rate", t.st.rate))
	}

	return t, nil
}

// Enqueue appends action to the tail of the queue and arms the engine if it
// is idle. It never blocks on dispatch and may be called from inside an
// action.
func (t *Throttle) Enqueue(action Action) {
	if action == nil {
		panic("throttle: nil action")
	}

	t.mu.Lock()
	t.queue.push(newItem(action))
	start := !t.running
	t.running = true
	interval := t.st.interval
	t.mu.Unlock()

	if start {
		go t.loop(interval)
	}
}

// Config returns the normalized configuration.
func (t *Throttle) Config() Config { return t.cfg }

// Snapshot reports the current state. Errors is the failure tally since the
// last rate controller pass.
func (t *Throttle) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(t.st.errorCount)
}

// Pending returns the number of queued items, retries included.
func (t *Throttle) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.len()
}

// Running reports whether the engine timers are armed.
func (t *Throttle) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// loop hosts both periodic processes until the queue drains.
func (t *Throttle) loop(interval time.Duration) {
	dispatchTimer := t.clock.NewTimer(interval)
	adjustTimer := t.clock.NewTimer(t.cfg.BaseInterval)
	defer dispatchTimer.Stop()
	defer adjustTimer.Stop()

	for {
		select {
		case <-dispatchTimer.C():
			next, drained := t.dispatch()
			if drained {
				if t.hooks.OnIdle != nil {
					t.hooks.OnIdle()
				}
				var stopped bool
				if next, stopped = t.disarm(); stopped {
					return
				}
			}
			dispatchTimer.Reset(next)
		case <-adjustTimer.C():
			if delay, skip := t.adjust(); skip {
				dispatchTimer.Stop()
				dispatchTimer.Reset(delay)
			}
			adjustTimer.Reset(t.cfg.BaseInterval)
		}
	}
}

// disarm marks the engine idle unless work was enqueued while OnIdle ran,
// in which case it returns the interval to keep dispatching with.
func (t *Throttle) disarm() (next time.Duration, stopped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue.len() > 0 {
		return t.st.interval, false
	}
	t.running = false
	return 0, true
}

// setRate clamps rate to the configured bounds and recomputes the derived
// interval and batch size. Callers hold t.mu or own t exclusively.
func (t *Throttle) setRate(rate int) {
	rate = min(max(rate, t.cfg.MinRate), t.cfg.MaxRate)
	t.st.rate = rate
	if t.cfg.EvenlySpaced {
		t.st.interval = t.cfg.BaseInterval / time.Duration(rate)
		t.st.batchSize = 1
		return
	}
	t.st.interval = t.cfg.BaseInterval
	t.st.batchSize = rate
}

func (t *Throttle) snapshotLocked(errs int) Snapshot {
	return Snapshot{
		At:          t.clock.Now(),
		Rate:        t.st.rate,
		Interval:    t.st.interval,
		BatchSize:   t.st.batchSize,
		Errors:      errs,
		Pending:     t.queue.len(),
		SkippedLast: t.st.skippedLast,
	}
}
