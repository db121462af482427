package reconcile

import "sync"

// queue is an unbounded FIFO of signals with a wakeup channel. Producers never
// block, so audio server callbacks can submit from any thread.
type queue struct {
	mu     sync.Mutex
	items  []Signal
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(sig Signal) int {
	q.mu.Lock()
	q.items = append(q.items, sig)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return n
}

func (q *queue) pop() (Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	sig := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return sig, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// snapshot copies the pending signals.
func (q *queue) snapshot() []Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Signal(nil), q.items...)
}
