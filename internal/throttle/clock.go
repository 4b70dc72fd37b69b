package throttle

import "time"

// Clock abstracts time for the dispatch loop and rate controller.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the subset of *time.Timer the engine uses.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s *systemTimer) C() <-chan time.Time        { return s.t.C }
func (s *systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }
func (s *systemTimer) Stop() bool                 { return s.t.Stop() }
