package viewer

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/renderview/internal/capture"
	"github.com/bryanchriswhite/renderview/internal/gallery"
	"github.com/bryanchriswhite/renderview/internal/protocol"
	"github.com/bryanchriswhite/renderview/internal/region"
	"github.com/bryanchriswhite/renderview/internal/window"
)

// fakeBackend is an in-memory window system with a 2560x1440 screen.
type fakeBackend struct {
	mu       sync.Mutex
	windows  []window.Info
	gone     map[uint64]bool
	prepared []window.Target
}

func (f *fakeBackend) add(w window.Info) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
}

func (f *fakeBackend) last() (window.Target, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prepared) == 0 {
		return window.Target{}, false
	}
	return f.prepared[len(f.prepared)-1], true
}

func (f *fakeBackend) ListWindows() ([]window.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]window.Info(nil), f.windows...), nil
}

func (f *fakeBackend) Prepare(info window.Info, w, h int) (window.Target, error) {
	return f.Resize(window.Target{ID: info.ID, Title: info.Title, ChromeStripped: true}, w, h)
}

func (f *fakeBackend) Resize(t window.Target, w, h int) (window.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[t.ID] {
		return t, errors.New("bad window")
	}
	t.Width, t.Height = w, h
	t.X, t.Y = window.ParkPosition(2560, 1440)
	f.prepared = append(f.prepared, t)
	return t, nil
}

func (f *fakeBackend) IsAlive(t window.Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.gone[t.ID]
}

func (f *fakeBackend) ScreenSize() (int, int) { return 2560, 1440 }
func (f *fakeBackend) Close() error           { return nil }
func (f *fakeBackend) Name() string           { return "fake" }

// fakeCapturer returns a gray 100x80 frame until its target goes away.
type fakeCapturer struct {
	backend *fakeBackend
	target  window.Target
}

func (c *fakeCapturer) Capture() (*image.RGBA, error) {
	if !c.backend.IsAlive(c.target) {
		return nil, errors.New("window destroyed")
	}
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img, nil
}

func (c *fakeCapturer) Reset()       {}
func (c *fakeCapturer) Close() error { return nil }
func (c *fakeCapturer) Name() string { return "fake" }

type harness struct {
	t       *testing.T
	srv     *protocol.Server
	backend *fakeBackend
	session *Session
	cancel  context.CancelFunc
	result  chan error
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	srv, err := protocol.Listen("127.0.0.1:0", protocol.Options{WriteTimeout: time.Second})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srvCtx, srvCancel := context.WithCancel(context.Background())
	go srv.Serve(srvCtx)

	backend := &fakeBackend{
		windows: []window.Info{{ID: 1, Title: "Terminal"}, {ID: 2, Title: "Blender"}},
		gone:    make(map[uint64]bool),
	}
	s, err := New(Options{
		ControlAddr: srv.Addr(),
		Monitor:     window.MonitorOptions{PollInterval: 5 * time.Millisecond, DetectTimeout: 2 * time.Second},
		Capture:     capture.LoopOptions{MinInterval: 2 * time.Millisecond},
	}, Deps{
		Backend: backend,
		NewCapturer: func(t window.Target) (capture.Capturer, error) {
			return &fakeCapturer{backend: backend, target: t}, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, srv: srv, backend: backend, session: s, cancel: cancel, result: make(chan error, 1)}
	go func() { h.result <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		srvCancel()
		srv.Close()
	})
	return h
}

// expect reads host-side messages until match accepts one.
func (h *harness) expect(what string, match func(protocol.Message) bool) protocol.Message {
	h.t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case in := <-h.srv.Inbound():
			if match(in.Msg) {
				return in.Msg
			}
		case err := <-h.result:
			h.t.Fatalf("viewer ended while waiting for %s: %v", what, err)
		case <-timeout:
			h.t.Fatalf("timed out waiting for %s", what)
		}
	}
}

// stopped waits for Run to return after cancel.
func (h *harness) stopped() error {
	h.t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(3 * time.Second):
		h.t.Fatalf("Run did not return")
		return nil
	}
}

// expectAfterStop drains what the viewer sent before Run returned until
// match accepts a message.
func (h *harness) expectAfterStop(what string, match func(protocol.Message) bool) {
	h.t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case in := <-h.srv.Inbound():
			if match(in.Msg) {
				return
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func isStatus(want protocol.Status) func(protocol.Message) bool {
	return func(m protocol.Message) bool { return m.Status != nil && *m.Status == want }
}

func isResized(m protocol.Message) bool { return bool(m.Resized) }

// handshake drives the host side up to extui_running.
func (h *harness) handshake() {
	h.t.Helper()
	h.expect("extui_waiting", isStatus(protocol.StatusWaiting))

	h.backend.add(window.Info{ID: 7, Title: "Blender Render"})
	h.srv.Broadcast(protocol.ResolutionMessage(protocol.Resolution{X: 1920, Y: 1080, Percentage: 100}))
	h.srv.Broadcast(protocol.StatusMessage(protocol.StatusViewportCreated))

	h.expect("resized", isResized)
	h.expect("extui_running", isStatus(protocol.StatusRunning))
}

func (h *harness) waitFrames() {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := h.session.Status(context.Background())
		if err != nil {
			h.t.Fatalf("Status: %v", err)
		}
		if st.Frames > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("no frames captured")
}

// TestHandshakeParksViewport verifies the startup sequence and that the new
// window is prepared at the host resolution in the parking position.
func TestHandshakeParksViewport(t *testing.T) {
	h := startHarness(t)
	h.handshake()

	got, ok := h.backend.last()
	if !ok {
		t.Fatalf("nothing prepared")
	}
	want := window.Target{ID: 7, Title: "Blender Render", Width: 1920, Height: 1080, X: 2559, Y: 1439, ChromeStripped: true}
	if got != want {
		t.Fatalf("target = %+v, want %+v", got, want)
	}
	h.waitFrames()

	st, err := h.session.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != string(protocol.StatusViewportCreated) && st.Status != string(protocol.StatusRunning) {
		t.Fatalf("status = %q", st.Status)
	}

	h.cancel()
	if err := h.stopped(); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	h.expectAfterStop("extui_exited", isStatus(protocol.StatusExited))
}

// TestRegionSelectionReachesHost verifies an armed drag is sent to the host
// as a bottom-left normalized region.
func TestRegionSelectionReachesHost(t *testing.T) {
	h := startHarness(t)
	h.handshake()
	h.waitFrames()

	ctx := context.Background()
	// A press before arming must not select.
	h.session.Input(region.Event{Kind: region.Press, Button: region.Left, X: 10, Y: 10})
	h.session.Input(region.Event{Kind: region.Release, Button: region.Left, X: 90, Y: 70})

	if err := h.session.ArmRegion(ctx); err != nil {
		t.Fatalf("ArmRegion: %v", err)
	}
	h.session.Input(region.Event{Kind: region.Press, Button: region.Left, X: 25, Y: 20})
	h.session.Input(region.Event{Kind: region.Motion, X: 60, Y: 50})
	h.session.Input(region.Event{Kind: region.Release, Button: region.Left, X: 75, Y: 60})

	m := h.expect("render_region", func(m protocol.Message) bool { return bool(m.RenderRegion) })
	r, ok := m.Region()
	if !ok {
		t.Fatalf("region incomplete: %+v", m)
	}
	want := protocol.Region{XMin: 0.25, YMin: 0.25, XMax: 0.75, YMax: 0.75}
	if r != want {
		t.Fatalf("region = %+v, want %+v", r, want)
	}

	st, _ := h.session.Status(ctx)
	if st.Selector != "idle" {
		t.Fatalf("selector = %q, want idle", st.Selector)
	}
}

// TestResolutionChangeResizes verifies a new resolution resizes the target
// and is acknowledged with resized.
func TestResolutionChangeResizes(t *testing.T) {
	h := startHarness(t)
	h.handshake()

	h.srv.Broadcast(protocol.ResolutionMessage(protocol.Resolution{X: 1920, Y: 1080, Percentage: 50}))
	h.expect("resized", isResized)

	got, _ := h.backend.last()
	if got.Width != 960 || got.Height != 540 {
		t.Fatalf("target = %dx%d, want 960x540", got.Width, got.Height)
	}
}

// TestGalleryActions verifies snapshots and roles drive the composite.
func TestGalleryActions(t *testing.T) {
	h := startHarness(t)
	h.handshake()
	h.waitFrames()
	ctx := context.Background()

	a, err := h.session.TakeSnapshot(ctx, "before")
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	b, err := h.session.TakeSnapshot(ctx, "")
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if a.Width != 100 || a.Height != 80 {
		t.Fatalf("snapshot size = %dx%d", a.Width, a.Height)
	}

	if err := h.session.SetRole(ctx, gallery.RoleA, a.ID); err != nil {
		t.Fatalf("SetRole A: %v", err)
	}
	if err := h.session.SetRole(ctx, gallery.RoleB, b.ID); err != nil {
		t.Fatalf("SetRole B: %v", err)
	}
	st, _ := h.session.Status(ctx)
	if !st.DividerVisible || st.Snapshots != 2 {
		t.Fatalf("status = %+v", st)
	}

	if err := h.session.SetDivider(ctx, 1000); err != nil {
		t.Fatalf("SetDivider: %v", err)
	}
	st, _ = h.session.Status(ctx)
	if st.DividerOffset != 50 {
		t.Fatalf("divider offset = %v, want clamp to 50", st.DividerOffset)
	}

	if err := h.session.RemoveSnapshot(ctx, b.ID); err != nil {
		t.Fatalf("RemoveSnapshot: %v", err)
	}
	st, _ = h.session.Status(ctx)
	if st.DividerVisible {
		t.Fatalf("divider still visible after removing B")
	}

	if err := h.session.Navigate(ctx, 1); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	snaps, err := h.session.Gallery(ctx)
	if err != nil {
		t.Fatalf("Gallery: %v", err)
	}
	if len(snaps) != 1 || !snaps[0].Selected || len(snaps[0].Roles) != 1 {
		t.Fatalf("gallery = %+v", snaps)
	}
	if err := h.session.RemoveSnapshot(ctx, b.ID); !errors.Is(err, gallery.ErrNoSnapshot) {
		t.Fatalf("second remove = %v", err)
	}
}

// TestViewportClosedEndsSession verifies losing the window ends Run with
// ErrWindowNotFound.
func TestViewportClosedEndsSession(t *testing.T) {
	h := startHarness(t)
	h.handshake()
	h.waitFrames()

	h.backend.mu.Lock()
	h.backend.gone[7] = true
	h.backend.mu.Unlock()

	select {
	case err := <-h.result:
		if !window.IsNotFound(err) {
			t.Fatalf("Run = %v, want ErrWindowNotFound", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not end")
	}
	if _, err := h.session.Status(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Status after exit = %v", err)
	}
}
