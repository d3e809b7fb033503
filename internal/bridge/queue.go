package bridge

import (
	"sync"

	"genx-core/internal/signal"
)

// SignalQueue buffers outbound signals while no agent is connected. Strict
// FIFO. A full queue evicts its oldest entry: queued signals go stale, so
// fresher ones win.
type SignalQueue struct {
	mu  sync.Mutex
	buf []signal.TradingSignal
	max int
}

// NewSignalQueue builds a queue bounded at size entries.
func NewSignalQueue(size int) *SignalQueue {
	if size <= 0 {
		size = 100
	}
	return &SignalQueue{max: size}
}

// Enqueue appends a signal, reporting whether an older entry was evicted to
// make room.
func (q *SignalQueue) Enqueue(sig signal.TradingSignal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.buf) >= q.max {
		q.buf = q.buf[1:]
		evicted = true
	}
	q.buf = append(q.buf, sig)
	return evicted
}

// TryPop removes and returns the oldest signal, if any.
func (q *SignalQueue) TryPop() (signal.TradingSignal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) == 0 {
		return signal.TradingSignal{}, false
	}
	sig := q.buf[0]
	q.buf = q.buf[1:]
	return sig, true
}

// Len reports how many signals are waiting.
func (q *SignalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Snapshot copies the queue contents, oldest first, for the admin surface.
func (q *SignalQueue) Snapshot() []signal.TradingSignal {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]signal.TradingSignal, len(q.buf))
	copy(out, q.buf)
	return out
}
