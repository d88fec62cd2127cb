package window

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/renderview/internal/protocol"
)

// fakeBackend is an in-memory window system.
type fakeBackend struct {
	mu       sync.Mutex
	windows  []Info
	closed   map[uint64]bool
	prepared []Target
	screenW  int
	screenH  int
}

func newFakeBackend(windows ...Info) *fakeBackend {
	return &fakeBackend{
		windows: windows,
		closed:  make(map[uint64]bool),
		screenW: 2560,
		screenH: 1440,
	}
}

func (f *fakeBackend) add(w Info) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
}

func (f *fakeBackend) ListWindows() ([]Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Info, len(f.windows))
	copy(out, f.windows)
	return out, nil
}

func (f *fakeBackend) Prepare(info Info, w, h int) (Target, error) {
	t := Target{ID: info.ID, Title: info.Title, ChromeStripped: true}
	return f.Resize(t, w, h)
}

func (f *fakeBackend) Resize(t Target, w, h int) (Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed[t.ID] {
		return t, errors.New("bad window")
	}
	t.Width, t.Height = w, h
	t.X, t.Y = ParkPosition(f.screenW, f.screenH)
	f.prepared = append(f.prepared, t)
	return t, nil
}

func (f *fakeBackend) IsAlive(t Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed[t.ID]
}

func (f *fakeBackend) ScreenSize() (int, int) { return f.screenW, f.screenH }
func (f *fakeBackend) Close() error           { return nil }
func (f *fakeBackend) Name() string           { return "fake" }

var fullHD = protocol.Resolution{X: 1920, Y: 1080, Percentage: 100}

// TestDetectPreparesNewMatchingWindow verifies detection ignores baseline
// windows, waits for viewport_created and parks the new window at the
// scaled resolution.
func TestDetectPreparesNewMatchingWindow(t *testing.T) {
	backend := newFakeBackend(
		Info{ID: 1, Title: "Blender [main.blend]"},
		Info{ID: 2, Title: "Terminal"},
	)
	status := protocol.NewStatusTracker(protocol.StatusWaiting)
	m, err := NewMonitor(backend, status, MonitorOptions{PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	if err := m.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	type result struct {
		t   Target
		err error
	}
	done := make(chan result, 1)
	go func() {
		tgt, err := m.Detect(context.Background(), fullHD)
		done <- result{tgt, err}
	}()

	backend.add(Info{ID: 3, Title: "Not it"})
	backend.add(Info{ID: 4, Title: "Blender Render"})
	select {
	case r := <-done:
		t.Fatalf("detection finished before viewport_created: %+v", r)
	case <-time.After(30 * time.Millisecond):
	}

	status.Set(protocol.StatusViewportCreated)
	var r result
	select {
	case r = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("detection did not finish")
	}
	if r.err != nil {
		t.Fatalf("Detect: %v", r.err)
	}
	if r.t.ID != 4 {
		t.Fatalf("detected window %d, want 4", r.t.ID)
	}
	if r.t.Width != 1920 || r.t.Height != 1080 {
		t.Fatalf("size = %dx%d, want 1920x1080", r.t.Width, r.t.Height)
	}
	if r.t.X != 2559 || r.t.Y != 1439 || !r.t.ChromeStripped {
		t.Fatalf("target = %+v, want parked at (2559,1439) without chrome", r.t)
	}

	if _, err := m.Detect(context.Background(), fullHD); !errors.Is(err, ErrTargetActive) {
		t.Fatalf("second Detect = %v, want ErrTargetActive", err)
	}
}

// TestDetectTimesOut verifies a window that never appears is reported as
// ErrWindowNotFound.
func TestDetectTimesOut(t *testing.T) {
	backend := newFakeBackend(Info{ID: 1, Title: "Blender"})
	status := protocol.NewStatusTracker(protocol.StatusViewportCreated)
	m, err := NewMonitor(backend, status, MonitorOptions{
		PollInterval:  5 * time.Millisecond,
		DetectTimeout: 40 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	if err := m.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	start := time.Now()
	_, err = m.Detect(context.Background(), fullHD)
	if !errors.Is(err, ErrWindowNotFound) || !IsNotFound(err) {
		t.Fatalf("Detect = %v, want ErrWindowNotFound", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took %s", time.Since(start))
	}
}

// TestDetectHonorsContext verifies cancellation while waiting for the host.
func TestDetectHonorsContext(t *testing.T) {
	status := protocol.NewStatusTracker(protocol.StatusWaiting)
	m, _ := NewMonitor(newFakeBackend(), status, MonitorOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Detect(ctx, fullHD); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Detect = %v, want deadline exceeded", err)
	}
}

// TestFindSkipsStatusWait verifies Find polls right away even when the
// status tracker never reaches viewport_created.
func TestFindSkipsStatusWait(t *testing.T) {
	backend := newFakeBackend(Info{ID: 1, Title: "Blender"})
	status := protocol.NewStatusTracker(protocol.StatusWaiting)
	m, err := NewMonitor(backend, status, MonitorOptions{PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	if err := m.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	backend.add(Info{ID: 2, Title: "Blender Render"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tgt, err := m.Find(ctx, fullHD)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if tgt.ID != 2 {
		t.Fatalf("found window %d, want 2", tgt.ID)
	}
	if got := status.Get(); got != protocol.StatusWaiting {
		t.Fatalf("status = %s, want unchanged", got)
	}
}

// TestApplyResizes verifies a resolution change re-parks the target and a
// closed target reports ErrWindowNotFound.
func TestApplyResizes(t *testing.T) {
	backend := newFakeBackend()
	status := protocol.NewStatusTracker(protocol.StatusViewportCreated)
	m, _ := NewMonitor(backend, status, MonitorOptions{PollInterval: time.Millisecond})
	_ = m.Snapshot()

	if _, err := m.Apply(fullHD); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("Apply without target = %v", err)
	}

	backend.add(Info{ID: 9, Title: "Blender"})
	if _, err := m.Detect(context.Background(), fullHD); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	tgt, err := m.Apply(protocol.Resolution{X: 1920, Y: 1080, Percentage: 50})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tgt.Width != 960 || tgt.Height != 540 {
		t.Fatalf("size = %dx%d, want 960x540", tgt.Width, tgt.Height)
	}
	if cur, _ := m.Target(); cur != tgt {
		t.Fatalf("Target = %+v, want %+v", cur, tgt)
	}

	backend.mu.Lock()
	backend.closed[9] = true
	backend.mu.Unlock()
	if m.Alive() {
		t.Fatalf("closed target reported alive")
	}
	if _, err := m.Apply(fullHD); !errors.Is(err, ErrWindowNotFound) {
		t.Fatalf("Apply on closed target = %v", err)
	}
}

// TestBadPattern verifies an invalid title pattern is rejected.
func TestBadPattern(t *testing.T) {
	status := protocol.NewStatusTracker(protocol.StatusInitial)
	if _, err := NewMonitor(newFakeBackend(), status, MonitorOptions{TitlePattern: "("}); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
}
