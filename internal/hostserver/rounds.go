package hostserver

import "sync"

// roundQueue hands one session's reports to its worker in arrival order.
// push never blocks the channel read loop.
type roundQueue struct {
	mu     sync.Mutex
	items  []int64
	closed bool
	wake   chan struct{}
}

func newRoundQueue() *roundQueue {
	return &roundQueue{wake: make(chan struct{}, 1)}
}

// push enqueues v; false once the queue is closed.
func (q *roundQueue) push(v int64) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return true
}

// close stops intake. Queued values are still handed out by next.
func (q *roundQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// next blocks for the oldest queued value; ok is false when the queue is
// closed and empty.
func (q *roundQueue) next() (v int64, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v = q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, true
		}
		if q.closed {
			q.mu.Unlock()
			return 0, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *roundQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
