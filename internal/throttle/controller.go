package throttle

import (
	"time"

	"go.uber.org/zap"
)

// adjust is one rate controller pass. When back-off applies it returns the
// delay the dispatch timer must be re-armed with and skip=true.
//
// Back-off is applied at most once until the next dispatch clears the flag,
// so repeated bursts do not stack pauses.
func (t *Throttle) adjust() (delay time.Duration, skip bool) {
	t.mu.Lock()
	errs := t.st.errorCount
	previous := t.st.rate

	switch {
	case errs >= t.cfg.ErrorThreshold:
		t.setRate(t.st.rate - 1)
		if t.cfg.BackOff && !t.st.skippedLast {
			target := t.st.lastDispatch.Add(t.st.interval)
			if wait := target.Sub(t.clock.Now()); wait > 0 {
				t.st.skippedLast = true
				delay, skip = wait+t.cfg.BaseInterval, true
			}
		}
	case errs == 0 && t.queue.len() > 0 && !t.st.skippedLast:
		t.setRate(t.st.rate + 1)
	}

	t.st.errorCount = 0
	snap := t.snapshotLocked(errs)
	t.mu.Unlock()

	t.logger.Debug("Throttle rate adjusted",
		zap.Int("errors", errs),
		zap.Int("previous_rate", previous),
		zap.Int("rate", snap.Rate),
		zap.Duration("interval", snap.Interval),
		zap.Int("pending", snap.Pending),
		zap.Bool("back_off", skip))

	if t.hooks.OnAdjust != nil {
		t.hooks.OnAdjust(snap)
	}
	return delay, skip
}
