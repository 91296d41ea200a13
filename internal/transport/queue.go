package transport

import "sync"

// Queue serializes provider events for the single consumer. Pushes never
// block the producer (transport callbacks fire on their own goroutines);
// the pump preserves arrival order.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
	quit   chan struct{}
	out    chan Event
}

func NewQueue() *Queue {
	q := &Queue{
		quit: make(chan struct{}),
		out:  make(chan Event),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// Out is the consumer side; it is closed shortly after Close.
func (q *Queue) Out() <-chan Event {
	return q.out
}

// Push enqueues an event. Events pushed after Close are dropped.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.cond.Signal()
}

// Close stops delivery and discards anything still queued. The consumer is
// gone (or about to be) by the time providers close their queues, so a
// pump stuck handing over an event must be released, not drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.quit)
	q.cond.Signal()
}

func (q *Queue) pump() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			close(q.out)
			return
		}
		ev := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.quit:
			close(q.out)
			return
		}
	}
}
