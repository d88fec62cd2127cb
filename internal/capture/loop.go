package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/renderview/internal/frame"
	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/window"
)

// DefaultMaxConsecutiveFailures ends the loop when no capture succeeds.
const DefaultMaxConsecutiveFailures = 10

// failureBackoff separates retries after a failed capture.
const failureBackoff = 20 * time.Millisecond

// LoopOptions configures a Loop.
type LoopOptions struct {
	MaxConsecutiveFailures int
	// MinInterval spaces captures; zero captures back to back.
	MinInterval time.Duration
	// Alive reports whether the target window still exists. A dead
	// target ends the loop on the next failure.
	Alive func() bool
}

// Stats counts loop activity.
type Stats struct {
	Frames   uint64
	Failures uint64
	Dropped  uint64
}

// Loop captures frames on its own goroutine and hands them to a mailbox.
type Loop struct {
	capturer Capturer
	out      *frame.Mailbox
	opts     LoopOptions

	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
	err      error

	frames   atomic.Uint64
	failures atomic.Uint64
}

// NewLoop creates a loop that owns capturer and closes it on exit.
func NewLoop(capturer Capturer, out *frame.Mailbox, opts LoopOptions) *Loop {
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return &Loop{
		capturer: capturer,
		out:      out,
		opts:     opts,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the capture goroutine. Calling it twice has no effect.
func (l *Loop) Start() {
	if l.started.Swap(true) {
		return
	}
	go l.run()
}

// Done is closed when the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Err returns why the loop ended. It is nil after a requested stop and
// wraps window.ErrWindowNotFound when the target went away. Only valid
// after Done is closed.
func (l *Loop) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Stop asks the loop to exit and waits up to timeout. It reports whether
// the loop exited in time.
func (l *Loop) Stop(timeout time.Duration) bool {
	l.stopped.Store(true)
	l.stopOnce.Do(func() { close(l.stopCh) })
	if !l.started.Load() {
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.done:
		return true
	case <-t.C:
		logger.WithComponent("capture").Warn().Dur("timeout", timeout).Msg("Capture loop did not stop in time")
		return false
	}
}

// Stats returns counters since Start.
func (l *Loop) Stats() Stats {
	return Stats{
		Frames:   l.frames.Load(),
		Failures: l.failures.Load(),
		Dropped:  l.out.Dropped(),
	}
}

func (l *Loop) run() {
	log := logger.WithComponent("capture")
	defer close(l.done)
	defer func() {
		if err := l.capturer.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close capturer")
		}
	}()

	log.Info().Str("capturer", l.capturer.Name()).Msg("Capture loop started")

	var seq uint64
	consecutive := 0
	for !l.stopped.Load() {
		start := time.Now()
		img, err := l.capturer.Capture()
		if err != nil {
			consecutive++
			l.failures.Add(1)
			failure := &Failure{Err: err, Consecutive: consecutive}
			log.Warn().Err(failure).Msg("Frame skipped")
			l.capturer.Reset()

			gone := l.opts.Alive != nil && !l.opts.Alive()
			if gone || consecutive >= l.opts.MaxConsecutiveFailures {
				l.err = fmt.Errorf("capture loop ended: %w", errors.Join(window.ErrWindowNotFound, failure))
				log.Error().Err(l.err).Bool("target_gone", gone).Msg("Capture loop terminated")
				return
			}
			l.sleep(failureBackoff)
			continue
		}
		consecutive = 0

		seq++
		f := frame.New(img, seq, start)
		l.out.Put(f)
		if n := l.frames.Add(1); n == 1 {
			log.Info().
				Int("width", f.Width()).
				Int("height", f.Height()).
				Str("size", logger.Size(f.Size())).
				Msg("First frame captured")
		}

		if l.opts.MinInterval > 0 {
			l.sleep(l.opts.MinInterval - time.Since(start))
		}
	}
	log.Info().Uint64("frames", l.frames.Load()).Msg("Capture loop stopped")
}

func (l *Loop) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-l.stopCh:
	}
}
