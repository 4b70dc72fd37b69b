package throttle

// Action is a unit of work. It returns false to report a failure; any other
// outcome counts as success. The boolean is deliberately coarse: it feeds
// the error tally and the retry budget, nothing else.
type Action func() bool

// Func adapts a function that reports nothing into an Action that always
// succeeds.
func Func(fn func()) Action {
	return func() bool {
		fn()
		return true
	}
}

type itemKind uint8

const (
	// itemFresh has never failed.
	itemFresh itemKind = iota
	// itemRetry failed at least once and carries a retry budget.
	itemRetry
)

type item struct {
	kind      itemKind
	action    Action
	remaining int
	attempts  int
}

func newItem(action Action) item {
	return item{kind: itemFresh, action: action}
}

// workQueue is a FIFO of pending items. It is not safe for concurrent use;
// the Throttle guards it.
type workQueue struct {
	items []item
}

func (q *workQueue) push(it item) {
	q.items = append(q.items, it)
}

// drain removes up to n items from the head.
func (q *workQueue) drain(n int) []item {
	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}
	batch := make([]item, n)
	copy(batch, q.items[:n])
	clear(q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return batch
}

func (q *workQueue) len() int {
	return len(q.items)
}
