package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock drives dispatch and adjust directly; the loop is never started
// in these tests, so timers are not expected.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) NewTimer(time.Duration) Timer {
	panic("fakeClock: timers are not supported")
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestThrottle(t *testing.T, cfg Config, opts ...Option) (*Throttle, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	th, err := New(cfg, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return th, clock
}

// push adds items without arming the loop.
func push(th *Throttle, actions ...Action) {
	for _, a := range actions {
		th.queue.push(newItem(a))
	}
}

func succeed() bool { return true }
func fail() bool    { return false }

func TestNewDerivesEvenlySpacedState(t *testing.T) {
	th, _ := newTestThrottle(t, Config{MinRate: 1, MaxRate: 10, BaseInterval: time.Second, EvenlySpaced: true})
	require.Equal(t, 6, th.st.rate)
	require.Equal(t, time.Second/6, th.st.interval)
	require.Equal(t, 1, th.st.batchSize)
	require.False(t, th.running)
}

func TestNewDerivesBatchedState(t *testing.T) {
	th, _ := newTestThrottle(t, Config{MinRate: 3, MaxRate: 3, BaseInterval: time.Second})
	require.Equal(t, 3, th.st.rate)
	require.Equal(t, time.Second, th.st.interval)
	require.Equal(t, 3, th.st.batchSize)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{MinRate: 2, MaxRate: 1, BaseInterval: time.Second})
	require.ErrorIs(t, err, ErrInvalidMaxRate)
}

func TestAdjustIncreasesWhenQueueBusyAndClean(t *testing.T) {
	th, _ := newTestThrottle(t, Config{MinRate: 1, MaxRate: 4, BaseInterval: time.Second, EvenlySpaced: true})
	push(th, succeed)
	require.Equal(t, 3, th.st.rate)

	_, skip := th.adjust()
	require.False(t, skip)
	require.Equal(t, 4, th.st.rate)
	require.Equal(t, time.Second/4, th.st.interval)

	th.adjust()
	require.Equal(t, 4, th.st.rate, "rate is capped at max")
}

func TestAdjustHoldsWhenQueueEmpty(t *testing.T) {
	th, _ := newTestThrottle(t, Config{MinRate: 1, MaxRate: 4, BaseInterval: time.Second})
	th.adjust()
	require.Equal(t, 3, th.st.rate)
}

func TestAdjustHoldsBelowThreshold(t *testing.T) {
	th, _ := newTestThrottle(t, Config{MinRate: 1, MaxRate: 4, BaseInterval: time.Second, ErrorThreshold: 3})
	push(th, succeed)
	th.st.errorCount = 2

	th.adjust()
	require.Equal(t, 3, th.st.rate)
	require.Zero(t, th.st.errorCount)
}

func TestAdjustDecreasesAtThreshold(t *testing.T) {
	th, _ := newTestThrottle(t, Config{MinRate: 2, MaxRate: 4, BaseInterval: time.Second, ErrorThreshold: 2})
	require.Equal(t, 3, th.st.rate)

	th.st.errorCount = 2
	th.adjust()
	require.Equal(t, 2, th.st.rate)
	require.Equal(t, 2, th.st.batchSize)
	require.Zero(t, th.st.errorCount)

	th.st.errorCount = 9
	th.adjust()
	require.Equal(t, 2, th.st.rate, "rate is floored at min")
}

func TestAdjustAlwaysThresholdDecreasesWithoutErrors(t *testing.T) {
	th, _ := newTestThrottle(t, Config{MinRate: 1, MaxRate: 5, BaseInterval: time.Second, ErrorThreshold: ErrorThresholdAlways})
	push(th, succeed)
	require.Equal(t, 3, th.st.rate)

	th.adjust()
	require.Equal(t, 2, th.st.rate)
	th.adjust()
	th.adjust()
	require.Equal(t, 1, th.st.rate)
}

func TestAdjustBackOffPushesNextDispatch(t *testing.T) {
	var snaps []Snapshot
	th, clock := newTestThrottle(t,
		Config{MinRate: 1, MaxRate: 3, BaseInterval: time.Second, ErrorThreshold: 1, BackOff: true},
		WithHooks(Hooks{OnAdjust: func(s Snapshot) { snaps = append(snaps, s) }}),
	)
	push(th, succeed)
	clock.advance(400 * time.Millisecond)

	th.st.errorCount = 1
	delay, skip := th.adjust()
	require.True(t, skip)
	require.Equal(t, 600*time.Millisecond+time.Second, delay)
	require.True(t, th.st.skippedLast)

	// A second burst before any dispatch does not stack another pause.
	th.st.errorCount = 1
	_, skip = th.adjust()
	require.False(t, skip)

	// Nor does a clean pass raise the rate while the skip is pending.
	rate := th.st.rate
	th.adjust()
	require.Equal(t, rate, th.st.rate)

	require.Len(t, snaps, 3)
	require.True(t, snaps[0].SkippedLast)
	require.Equal(t, 1, snaps[0].Errors)
}

func TestAdjustBackOffSkippedWhenDispatchOverdue(t *testing.T) {
	th, clock := newTestThrottle(t, Config{MinRate: 1, MaxRate: 3, BaseInterval: time.Second, ErrorThreshold: 1, BackOff: true})
	clock.advance(2 * time.Second)

	th.st.errorCount = 1
	_, skip := th.adjust()
	require.False(t, skip)
	require.False(t, th.st.skippedLast)
}

func TestDispatchEarlyWakeRearmsForResidual(t *testing.T) {
	ran := 0
	th, clock := newTestThrottle(t, Config{MinRate: 1, BaseInterval: 100 * time.Millisecond, EvenlySpaced: true})
	push(th, func() bool { ran++; return true })
	th.running = true

	clock.advance(40 * time.Millisecond)
	next, idle := th.dispatch()
	require.False(t, idle)
	require.Equal(t, 60*time.Millisecond, next)
	require.Zero(t, ran)

	clock.advance(60 * time.Millisecond)
	_, idle = th.dispatch()
	require.True(t, idle)
	require.Equal(t, 1, ran)
	require.True(t, th.running, "dispatch leaves disarming to the loop")
	require.Equal(t, clock.Now(), th.st.lastDispatch)

	_, stopped := th.disarm()
	require.True(t, stopped)
	require.False(t, th.running)
}

func TestDisarmKeepsRunningWhenWorkArrived(t *testing.T) {
	th, _ := newTestThrottle(t, Config{MinRate: 2, BaseInterval: time.Second, EvenlySpaced: true})
	th.running = true
	push(th, succeed)

	next, stopped := th.disarm()
	require.False(t, stopped)
	require.Equal(t, 500*time.Millisecond, next)
	require.True(t, th.running)
}

func TestDispatchDrainsBatchSize(t *testing.T) {
	ran := 0
	count := func() bool { ran++; return true }
	th, clock := newTestThrottle(t, Config{MinRate: 3, BaseInterval: time.Second})
	push(th, count, count, count, count, count)
	th.running = true

	clock.advance(time.Second)
	next, idle := th.dispatch()
	require.False(t, idle)
	require.Equal(t, time.Second, next)
	require.Equal(t, 3, ran)

	clock.advance(time.Second)
	_, idle = th.dispatch()
	require.True(t, idle)
	require.Equal(t, 5, ran)
}

func TestDispatchEmptyBatchStillStamps(t *testing.T) {
	th, clock := newTestThrottle(t, Config{MinRate: 1, BaseInterval: time.Second})
	th.running = true
	clock.advance(3 * time.Second)

	_, idle := th.dispatch()
	require.True(t, idle)
	require.Equal(t, clock.Now(), th.st.lastDispatch)
}

func TestDispatchRequeuesFailuresAtTail(t *testing.T) {
	var order []string
	record := func(name string, ok bool) Action {
		return func() bool { order = append(order, name); return ok }
	}
	th, clock := newTestThrottle(t, Config{MinRate: 2, BaseInterval: time.Second, MaxRetries: 1})
	push(th, record("a", false), record("b", true), record("c", true))
	th.running = true

	clock.advance(time.Second)
	th.dispatch()
	require.Equal(t, 1, th.st.errorCount)
	require.Equal(t, 2, th.queue.len())

	clock.advance(time.Second)
	_, idle := th.dispatch()
	require.True(t, idle)
	require.Equal(t, []string{"a", "b", "c", "a"}, order)
	require.Equal(t, 2, th.st.errorCount, "only the controller resets the tally")
}

func TestDispatchDropsWithoutRetries(t *testing.T) {
	var dropped []int
	th, clock := newTestThrottle(t,
		Config{MinRate: 2, BaseInterval: time.Second},
		WithHooks(Hooks{OnDrop: func(attempts int) { dropped = append(dropped, attempts) }}),
	)
	push(th, fail, succeed)
	th.running = true

	clock.advance(time.Second)
	_, idle := th.dispatch()
	require.True(t, idle)
	require.Equal(t, []int{1}, dropped)
	require.Equal(t, 1, th.st.errorCount)
}

func TestDispatchContainsPanics(t *testing.T) {
	var dropped []int
	th, clock := newTestThrottle(t,
		Config{MinRate: 1, BaseInterval: time.Second, MaxRetries: 1},
		WithHooks(Hooks{OnDrop: func(attempts int) { dropped = append(dropped, attempts) }}),
	)
	push(th, func() bool { panic("boom") })
	th.running = true

	clock.advance(time.Second)
	_, idle := th.dispatch()
	require.False(t, idle)
	require.Equal(t, 1, th.st.errorCount)

	clock.advance(time.Second)
	_, idle = th.dispatch()
	require.True(t, idle)
	require.Equal(t, []int{2}, dropped)
}

func TestDispatchClearsSkipFlag(t *testing.T) {
	th, clock := newTestThrottle(t, Config{MinRate: 1, BaseInterval: time.Second})
	push(th, succeed, succeed)
	th.running = true
	th.st.skippedLast = true

	clock.advance(time.Second)
	th.dispatch()
	require.False(t, th.st.skippedLast)
}

func TestFuncAlwaysSucceeds(t *testing.T) {
	called := false
	require.True(t, Func(func() { called = true })())
	require.True(t, called)
}

func TestSnapshotReportsLiveState(t *testing.T) {
	cfg := DefaultConfig(2, time.Second)
	cfg.MaxRate = 6
	th, _ := newTestThrottle(t, cfg)
	push(th, succeed, fail)
	th.st.errorCount = 2

	snap := th.Snapshot()
	require.Equal(t, 4, snap.Rate)
	require.Equal(t, 250*time.Millisecond, snap.Interval)
	require.Equal(t, 1, snap.BatchSize)
	require.Equal(t, 2, snap.Errors)
	require.Equal(t, 2, snap.Pending)
	require.Equal(t, 2, th.Pending())
	require.False(t, th.Running())
}
