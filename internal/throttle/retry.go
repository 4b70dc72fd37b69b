package throttle

// retryPolicy decides whether a failed item goes back on the queue.
type retryPolicy struct {
	maxRetries int
}

// next returns the item to re-enqueue after a failure and whether it should
// be re-enqueued at all. A fresh item is wrapped with the full budget; a
// retry item loses one unit and is dropped once the budget reaches zero.
func (p retryPolicy) next(it item) (item, bool) {
	if p.maxRetries <= 0 {
		return it, false
	}

	switch it.kind {
	case itemFresh:
		it.kind = itemRetry
		it.remaining = p.maxRetries
		return it, true
	default:
		it.remaining--
		return it, it.remaining != 0
	}
}
