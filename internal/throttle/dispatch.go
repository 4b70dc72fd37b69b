package throttle

import (
	"time"

	"go.uber.org/zap"
)

// dispatch handles one wake of the dispatch timer. It returns the delay until
// the next wake, or drained=true once the queue is empty. The caller disarms.
//
// Timers can fire before the current target, typically after the rate
// controller lengthened the interval under an already armed timer. Such a
// wake only re-arms for the residual delay.
func (t *Throttle) dispatch() (next time.Duration, drained bool) {
	t.mu.Lock()
	target := t.st.lastDispatch.Add(t.st.interval)
	if wait := target.Sub(t.clock.Now()); wait > 0 {
		t.mu.Unlock()
		return wait, false
	}
	batch := t.queue.drain(t.st.batchSize)
	t.mu.Unlock()

	for i := range batch {
		it := batch[i]
		if t.execute(&it) {
			continue
		}

		t.mu.Lock()
		t.st.errorCount++
		retried, requeue := t.retry.next(it)
		if requeue {
			t.queue.push(retried)
		}
		t.mu.Unlock()

		if !requeue && t.hooks.OnDrop != nil {
			t.hooks.OnDrop(it.attempts)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.st.skippedLast = false
	t.st.lastDispatch = t.clock.Now()
	if t.queue.len() == 0 {
		return 0, true
	}
	return t.st.interval, false
}

// execute runs one action. A panic is contained and reported as a failure so
// a single faulty action cannot take down the engine goroutine.
func (t *Throttle) execute(it *item) (ok bool) {
	it.attempts++
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Throttle action panicked",
				zap.Any("panic", r),
				zap.Int("attempt", it.attempts))
			ok = false
		}
	}()
	return it.action()
}
