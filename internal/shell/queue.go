package shell

import "sync"

// eventQueue decouples the PTY worker from the consumer: pushes never block,
// FIFO order is preserved, and the outbound channel closes once the worker is
// done and the backlog has drained.
type eventQueue struct {
	mu      sync.Mutex
	backlog []OutputEvent
	closed  bool
	wake    chan struct{}
	out     chan OutputEvent
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan OutputEvent),
	}
	go q.pump()
	return q
}

func (q *eventQueue) events() <-chan OutputEvent {
	return q.out
}

func (q *eventQueue) push(ev OutputEvent) {
	q.mu.Lock()
	q.backlog = append(q.backlog, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pump() {
	for {
		q.mu.Lock()
		backlog := q.backlog
		q.backlog = nil
		closed := q.closed
		q.mu.Unlock()

		for _, ev := range backlog {
			q.out <- ev
		}
		if closed {
			// One more sweep in case pushes raced the close flag.
			q.mu.Lock()
			backlog = q.backlog
			q.backlog = nil
			q.mu.Unlock()
			for _, ev := range backlog {
				q.out <- ev
			}
			close(q.out)
			return
		}
		<-q.wake
	}
}
