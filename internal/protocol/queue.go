package protocol

import "sync"

// queue is an unbounded FIFO with a channel on the consuming side. Control
// messages must never be dropped, so producers never block on a slow
// consumer; the backlog stays small in practice.
type queue[T any] struct {
	mu      sync.Mutex
	items   []T
	closed  bool
	wake    chan struct{}
	outCh   chan T
	stopped chan struct{}
	stopOne sync.Once
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{
		wake:    make(chan struct{}, 1),
		outCh:   make(chan T),
		stopped: make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops accepting items. Items already queued are still delivered
// unless abort is called.
func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// abort drops the backlog and closes the output channel.
func (q *queue[T]) abort() {
	q.close()
	q.stopOne.Do(func() { close(q.stopped) })
}

func (q *queue[T]) out() <-chan T {
	return q.outCh
}

func (q *queue[T]) pump() {
	defer close(q.outCh)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-q.stopped:
				return
			}
		}
		next := q.items[0]
		q.mu.Unlock()

		select {
		case q.outCh <- next:
			q.mu.Lock()
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
		case <-q.stopped:
			return
		}
	}
}
