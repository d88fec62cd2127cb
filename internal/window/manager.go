package window

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/protocol"
)

// StatusSource reports the control channel status.
type StatusSource interface {
	WaitFor(ctx context.Context, want ...protocol.Status) (protocol.Status, error)
}

// MonitorOptions configures a Monitor. Zero values take defaults.
type MonitorOptions struct {
	TitlePattern  string
	PollInterval  time.Duration
	DetectTimeout time.Duration
}

const (
	DefaultTitlePattern  = "Blender"
	DefaultPollInterval  = 250 * time.Millisecond
	DefaultDetectTimeout = 30 * time.Second
)

// Monitor detects the viewport window the host creates and keeps it sized
// and parked. One Monitor holds at most one target.
type Monitor struct {
	backend Backend
	status  StatusSource
	pattern *regexp.Regexp
	poll    time.Duration
	timeout time.Duration

	mu       sync.Mutex
	baseline map[uint64]struct{}
	target   *Target
	detected bool
}

// NewMonitor creates a monitor over backend.
func NewMonitor(backend Backend, status StatusSource, opts MonitorOptions) (*Monitor, error) {
	if opts.TitlePattern == "" {
		opts.TitlePattern = DefaultTitlePattern
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DetectTimeout <= 0 {
		opts.DetectTimeout = DefaultDetectTimeout
	}

	pattern, err := regexp.Compile(opts.TitlePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title pattern %q: %w", opts.TitlePattern, err)
	}

	return &Monitor{
		backend: backend,
		status:  status,
		pattern: pattern,
		poll:    opts.PollInterval,
		timeout: opts.DetectTimeout,
	}, nil
}

// Snapshot records the windows that exist now. Only windows absent from the
// snapshot are detection candidates.
func (m *Monitor) Snapshot() error {
	windows, err := m.backend.ListWindows()
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	baseline := make(map[uint64]struct{}, len(windows))
	for _, w := range windows {
		baseline[w.ID] = struct{}{}
	}

	m.mu.Lock()
	m.baseline = baseline
	m.mu.Unlock()

	logger.WithComponent("monitor").Debug().
		Int("count", len(windows)).
		Str("backend", m.backend.Name()).
		Msg("Window baseline recorded")
	return nil
}

// Detect waits for the host to report viewport_created, then finds the
// viewport window with Find.
func (m *Monitor) Detect(ctx context.Context, res protocol.Resolution) (Target, error) {
	if err := m.ready(); err != nil {
		return Target{}, err
	}

	logger.WithComponent("monitor").Info().Msg("Waiting for host to create the viewport")
	if _, err := m.status.WaitFor(ctx, protocol.StatusViewportCreated); err != nil {
		return Target{}, fmt.Errorf("failed waiting for viewport: %w", err)
	}
	return m.Find(ctx, res)
}

// Find polls for a new window whose title matches and prepares it at the
// scaled resolution. It does not wait for the host; callers that already
// saw viewport_created use it directly. It returns ErrWindowNotFound when
// nothing appears within the detection timeout.
func (m *Monitor) Find(ctx context.Context, res protocol.Resolution) (Target, error) {
	log := logger.WithComponent("monitor")
	if err := m.ready(); err != nil {
		return Target{}, err
	}

	deadline := time.NewTimer(m.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		info, found, err := m.findNew()
		if err != nil {
			log.Debug().Err(err).Msg("Window enumeration failed")
		}
		if found {
			return m.prepare(info, res)
		}

		select {
		case <-ctx.Done():
			return Target{}, ctx.Err()
		case <-deadline.C:
			log.Error().Dur("timeout", m.timeout).Str("pattern", m.pattern.String()).Msg("Viewport window never appeared")
			return Target{}, fmt.Errorf("no window matching %q after %s: %w", m.pattern, m.timeout, ErrWindowNotFound)
		case <-ticker.C:
		}
	}
}

// ready takes the baseline if none exists and refuses a second detection.
func (m *Monitor) ready() error {
	m.mu.Lock()
	if m.detected {
		m.mu.Unlock()
		return ErrTargetActive
	}
	missing := m.baseline == nil
	m.mu.Unlock()
	if missing {
		return m.Snapshot()
	}
	return nil
}

func (m *Monitor) findNew() (Info, bool, error) {
	windows, err := m.backend.ListWindows()
	if err != nil {
		return Info{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range windows {
		if _, seen := m.baseline[w.ID]; seen {
			continue
		}
		if m.pattern.MatchString(w.Title) {
			return w, true, nil
		}
	}
	return Info{}, false, nil
}

func (m *Monitor) prepare(info Info, res protocol.Resolution) (Target, error) {
	w, h := res.Scaled()
	t, err := m.backend.Prepare(info, w, h)
	if err != nil {
		return Target{}, fmt.Errorf("failed to prepare window %s: %w", info, err)
	}

	m.mu.Lock()
	if m.detected {
		m.mu.Unlock()
		return Target{}, ErrTargetActive
	}
	m.target = &t
	m.detected = true
	m.mu.Unlock()

	logger.WithComponent("monitor").Info().
		Uint64("window", t.ID).
		Str("title", t.Title).
		Int("width", t.Width).
		Int("height", t.Height).
		Int("x", t.X).
		Int("y", t.Y).
		Msg("Viewport window prepared")
	return t, nil
}

// Apply resizes and re-parks the target after a resolution change.
func (m *Monitor) Apply(res protocol.Resolution) (Target, error) {
	m.mu.Lock()
	if m.target == nil {
		m.mu.Unlock()
		return Target{}, ErrNoTarget
	}
	cur := *m.target
	m.mu.Unlock()

	w, h := res.Scaled()
	t, err := m.backend.Resize(cur, w, h)
	if err != nil {
		if !m.backend.IsAlive(cur) {
			return Target{}, fmt.Errorf("failed to resize window 0x%x: %w", cur.ID, ErrWindowNotFound)
		}
		return Target{}, fmt.Errorf("failed to resize window 0x%x: %w", cur.ID, err)
	}

	m.mu.Lock()
	m.target = &t
	m.mu.Unlock()

	logger.WithComponent("monitor").Info().
		Uint64("window", t.ID).
		Str("resolution", res.String()).
		Msg("Viewport window resized")
	return t, nil
}

// Target returns the detected target.
func (m *Monitor) Target() (Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target == nil {
		return Target{}, false
	}
	return *m.target, true
}

// Alive reports whether the target still exists.
func (m *Monitor) Alive() bool {
	t, ok := m.Target()
	return ok && m.backend.IsAlive(t)
}

// Windows lists all windows, marking the ones present at Snapshot time.
func (m *Monitor) Windows() ([]Info, map[uint64]bool, error) {
	windows, err := m.backend.ListWindows()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list windows: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	known := make(map[uint64]bool, len(windows))
	for _, w := range windows {
		_, known[w.ID] = m.baseline[w.ID]
	}
	return windows, known, nil
}

// IsNotFound reports whether err means the viewport window is gone or
// never appeared.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWindowNotFound)
}
