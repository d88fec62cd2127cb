package protocol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Status is the session state both processes track.
type Status string

const (
	StatusInitial         Status = "initial"
	StatusWaiting         Status = "extui_waiting"
	StatusViewportCreated Status = "viewport_created"
	StatusRunning         Status = "extui_running"
	StatusExited          Status = "extui_exited"
	StatusInit            Status = "init"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusInitial, StatusWaiting, StatusViewportCreated, StatusRunning, StatusExited, StatusInit:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown states so that a typo on the wire surfaces
// as a decode error instead of a silent state change.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st := Status(raw)
	if !st.Valid() {
		return fmt.Errorf("unknown status %q", raw)
	}
	*s = st
	return nil
}

// StatusTracker owns the status value of one process. Reads are lock-free
// snapshots; every Set is delivered, in order, to each watcher.
type StatusTracker struct {
	current atomic.Value

	mu       sync.Mutex
	watchers map[int]*queue[Status]
	nextID   int
}

// NewStatusTracker creates a tracker holding initial.
func NewStatusTracker(initial Status) *StatusTracker {
	t := &StatusTracker{watchers: make(map[int]*queue[Status])}
	t.current.Store(initial)
	return t
}

// Get returns the current status.
func (t *StatusTracker) Get() Status {
	return t.current.Load().(Status)
}

// Set stores s and returns the previous value.
func (t *StatusTracker) Set(s Status) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.current.Swap(s).(Status)
	for _, q := range t.watchers {
		q.push(s)
	}
	return prev
}

// Watch subscribes to future changes. The returned cancel func must be
// called to release the subscription.
func (t *StatusTracker) Watch() (<-chan Status, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	q := newQueue[Status]()
	t.watchers[id] = q

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers, id)
			t.mu.Unlock()
			q.abort()
		})
	}
	return q.out(), cancel
}

// WaitFor blocks until the status is one of want, or ctx ends.
func (t *StatusTracker) WaitFor(ctx context.Context, want ...Status) (Status, error) {
	ch, cancel := t.Watch()
	defer cancel()

	match := func(s Status) bool {
		for _, w := range want {
			if s == w {
				return true
			}
		}
		return false
	}

	if cur := t.Get(); match(cur) {
		return cur, nil
	}
	for {
		select {
		case <-ctx.Done():
			return t.Get(), ctx.Err()
		case s, ok := <-ch:
			if !ok {
				return t.Get(), context.Canceled
			}
			if match(s) {
				return s, nil
			}
		}
	}
}
