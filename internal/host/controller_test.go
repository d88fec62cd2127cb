package host

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/renderview/internal/display"
	"github.com/bryanchriswhite/renderview/internal/protocol"
	"github.com/bryanchriswhite/renderview/internal/region"
)

// fakeScene records the calls the controller makes.
type fakeScene struct {
	mu      sync.Mutex
	res     protocol.Resolution
	created int
	closed  int
	aligned int
	borders []protocol.Region
}

func (f *fakeScene) Resolution() protocol.Resolution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res
}

func (f *fakeScene) setResolution(r protocol.Resolution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.res = r
}

func (f *fakeScene) CreateViewport() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return nil
}

func (f *fakeScene) CloseViewport() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeScene) AlignCamera() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aligned++
	return nil
}

func (f *fakeScene) SetRenderBorder(r protocol.Region) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.borders = append(f.borders, r)
	return nil
}

func (f *fakeScene) counts() (created, closed, aligned, borders int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.closed, f.aligned, len(f.borders)
}

// fakeProcess is a viewer that runs until it is killed or exits.
type fakeProcess struct {
	mu     sync.Mutex
	killed bool
	once   sync.Once
	done   chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit()
	return nil
}

func (p *fakeProcess) exit() {
	p.once.Do(func() { close(p.done) })
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeViewer dials the controller the way a real viewer does.
type fakeViewer struct {
	t      *testing.T
	client *protocol.Client
}

func dialViewer(t *testing.T, addr string) *fakeViewer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := protocol.Dial(ctx, addr, protocol.Options{WriteTimeout: time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &fakeViewer{t: t, client: c}
}

func (v *fakeViewer) send(m protocol.Message) {
	v.t.Helper()
	if err := v.client.Send(m); err != nil {
		v.t.Fatalf("Send: %v", err)
	}
}

// expect reads messages until match accepts one.
func (v *fakeViewer) expect(what string, match func(protocol.Message) bool) protocol.Message {
	v.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-v.client.Inbound():
			if !ok {
				v.t.Fatalf("connection closed waiting for %s", what)
			}
			if match(m) {
				return m
			}
		case <-timeout:
			v.t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fixture struct {
	ctl     *Controller
	scene   *fakeScene
	viewers chan *fakeViewer

	mu        sync.Mutex
	processes []*fakeProcess
}

func (f *fixture) process() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.processes) == 0 {
		return nil
	}
	return f.processes[len(f.processes)-1]
}

func (f *fixture) launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.processes)
}

// startController runs a controller whose launcher dials a fake viewer and
// reports extui_waiting, unless silent is set.
func startController(t *testing.T, silent bool) *fixture {
	t.Helper()
	f := &fixture{
		scene:   &fakeScene{res: protocol.Resolution{X: 1920, Y: 1080, Percentage: 100}},
		viewers: make(chan *fakeViewer, 1),
	}

	var addr string
	launcher := LauncherFunc(func() (Process, error) {
		if !silent {
			v := dialViewer(t, addr)
			v.send(protocol.StatusMessage(protocol.StatusWaiting))
			f.viewers <- v
		}
		p := newFakeProcess()
		f.mu.Lock()
		f.processes = append(f.processes, p)
		f.mu.Unlock()
		return p, nil
	})

	ctl, err := NewController(f.scene, Options{
		Addr:           "127.0.0.1:0",
		Control:        protocol.Options{WriteTimeout: time.Second},
		Launcher:       launcher,
		ReadyTimeout:   300 * time.Millisecond,
		AlignDelay:     time.Millisecond,
		RegionDelay:    time.Millisecond,
		CloseDelay:     time.Millisecond,
		ResolutionPoll: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	addr = ctl.Addr()
	f.ctl = ctl

	ctx, cancel := context.WithCancel(context.Background())
	go ctl.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		ctl.Shutdown()
	})
	return f
}

// TestCreateRenderViewHandshake checks the resolution and viewport_created
// reach the viewer in order.
func TestCreateRenderViewHandshake(t *testing.T) {
	f := startController(t, false)

	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView: %v", err)
	}
	v := <-f.viewers

	m := v.expect("resolution", func(m protocol.Message) bool {
		_, ok := m.Resolution()
		return ok
	})
	if res, _ := m.Resolution(); res.X != 1920 || res.Y != 1080 || res.Percentage != 100 {
		t.Fatalf("resolution = %+v", res)
	}
	v.expect("viewport_created", func(m protocol.Message) bool {
		return m.Status != nil && *m.Status == protocol.StatusViewportCreated
	})

	if created, _, _, _ := f.scene.counts(); created != 1 {
		t.Fatalf("CreateViewport called %d times", created)
	}
	if got := f.ctl.Status(); got != protocol.StatusViewportCreated {
		t.Fatalf("status = %s", got)
	}
	if err := f.ctl.CreateRenderView(context.Background()); !errors.Is(err, ErrViewerRunning) {
		t.Fatalf("second CreateRenderView err = %v, want ErrViewerRunning", err)
	}
}

// TestCreateRenderViewTimeout checks a silent viewer is killed.
func TestCreateRenderViewTimeout(t *testing.T) {
	f := startController(t, true)

	err := f.ctl.CreateRenderView(context.Background())
	if !errors.Is(err, ErrViewerNotReady) {
		t.Fatalf("err = %v, want ErrViewerNotReady", err)
	}
	if !f.process().wasKilled() {
		t.Fatalf("viewer not killed")
	}
	if created, _, _, _ := f.scene.counts(); created != 0 {
		t.Fatalf("viewport created without a viewer")
	}
	if got := f.ctl.Status(); got != protocol.StatusInit {
		t.Fatalf("status = %s, want init", got)
	}
}

// TestResizedAlignsCamera checks "resized" aligns the camera and answers
// with renderview_running.
func TestResizedAlignsCamera(t *testing.T) {
	f := startController(t, false)
	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView: %v", err)
	}
	v := <-f.viewers

	v.send(protocol.ResizedMessage())
	v.expect("renderview_running", protocol.Message.Running)
	if _, _, aligned, _ := f.scene.counts(); aligned != 1 {
		t.Fatalf("aligned = %d", aligned)
	}
}

// TestRegionAppliedToScene checks a selection becomes the render border.
func TestRegionAppliedToScene(t *testing.T) {
	f := startController(t, false)
	if err := f.ctl.SetRenderRegionFromLastSelection(); !errors.Is(err, ErrNoRegion) {
		t.Fatalf("err = %v, want ErrNoRegion", err)
	}
	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView: %v", err)
	}
	v := <-f.viewers

	want := protocol.Region{XMin: 0.1, YMin: 0.2, XMax: 0.6, YMax: 0.9}
	v.send(protocol.RegionMessage(want))
	eventually(t, "render border", func() bool {
		_, _, _, n := f.scene.counts()
		return n == 1
	})
	got, ok := f.ctl.LastRegion()
	if !ok || got != want {
		t.Fatalf("LastRegion = %+v, %v", got, ok)
	}
}

// TestResolutionChangedSendsOnce checks only changes go out.
func TestResolutionChangedSendsOnce(t *testing.T) {
	f := startController(t, false)
	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView: %v", err)
	}
	v := <-f.viewers
	v.expect("viewport_created", func(m protocol.Message) bool {
		return m.Status != nil && *m.Status == protocol.StatusViewportCreated
	})

	if f.ctl.ResolutionChanged() {
		t.Fatalf("unchanged resolution was sent")
	}
	f.scene.setResolution(protocol.Resolution{X: 1280, Y: 720, Percentage: 50})
	m := v.expect("new resolution", func(m protocol.Message) bool {
		_, ok := m.Resolution()
		return ok
	})
	if res, _ := m.Resolution(); res.X != 1280 || res.Percentage != 50 {
		t.Fatalf("resolution = %+v", res)
	}
}

// TestViewerExitClosesViewport checks extui_exited resets the session.
func TestViewerExitClosesViewport(t *testing.T) {
	f := startController(t, false)
	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView: %v", err)
	}
	v := <-f.viewers

	v.send(protocol.StatusMessage(protocol.StatusExited))
	eventually(t, "viewport close", func() bool {
		_, closed, _, _ := f.scene.counts()
		return closed == 1
	})
	if got := f.ctl.Status(); got != protocol.StatusInit {
		t.Fatalf("status = %s, want init", got)
	}
}

// TestViewerDisconnectEndsSession checks a viewer that drops without
// extui_exited is killed, the viewport closes and a new render view can be
// created.
func TestViewerDisconnectEndsSession(t *testing.T) {
	f := startController(t, false)
	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView: %v", err)
	}
	v := <-f.viewers
	first := f.process()

	v.client.Close()
	eventually(t, "viewport close", func() bool {
		_, closed, _, _ := f.scene.counts()
		return closed == 1
	})
	if got := f.ctl.Status(); got != protocol.StatusInit {
		t.Fatalf("status = %s, want init", got)
	}
	if !first.wasKilled() {
		t.Fatalf("lingering viewer not killed")
	}

	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView after disconnect: %v", err)
	}
	<-f.viewers
	if f.launches() != 2 {
		t.Fatalf("launches = %d, want 2", f.launches())
	}
	if created, _, _, _ := f.scene.counts(); created != 2 {
		t.Fatalf("CreateViewport called %d times, want 2", created)
	}
}

// TestViewerProcessExitEndsSession checks a viewer process that dies frees
// the session even while its connection is still open.
func TestViewerProcessExitEndsSession(t *testing.T) {
	f := startController(t, false)
	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView: %v", err)
	}
	<-f.viewers

	f.process().exit()
	eventually(t, "viewport close", func() bool {
		_, closed, _, _ := f.scene.counts()
		return closed == 1
	})
	if f.process().wasKilled() {
		t.Fatalf("exited viewer was killed")
	}
	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView after exit: %v", err)
	}
	<-f.viewers
}

// TestExitThenDisconnectClosesOnce checks extui_exited followed by the
// connection dropping ends the session a single time.
func TestExitThenDisconnectClosesOnce(t *testing.T) {
	f := startController(t, false)
	if err := f.ctl.CreateRenderView(context.Background()); err != nil {
		t.Fatalf("CreateRenderView: %v", err)
	}
	v := <-f.viewers

	v.send(protocol.StatusMessage(protocol.StatusExited))
	v.client.Close()
	eventually(t, "viewport close", func() bool {
		_, closed, _, _ := f.scene.counts()
		return closed == 1
	})
	time.Sleep(20 * time.Millisecond)
	if _, closed, _, _ := f.scene.counts(); closed != 1 {
		t.Fatalf("CloseViewport called %d times, want 1", closed)
	}
}

// TestPortInUse checks a second controller cannot bind the same port.
func TestPortInUse(t *testing.T) {
	f := startController(t, false)
	_, err := NewController(&fakeScene{}, Options{Addr: f.ctl.Addr(), Launcher: LauncherFunc(func() (Process, error) {
		return newFakeProcess(), nil
	})})
	if !errors.Is(err, protocol.ErrPortInUse) {
		t.Fatalf("err = %v, want ErrPortInUse", err)
	}
}

// fakeSurface collects what the demo scene paints.
type fakeSurface struct {
	mu     sync.Mutex
	shown  int
	last   *image.RGBA
	events chan region.Event
	closed chan struct{}
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{events: make(chan region.Event), closed: make(chan struct{})}
}

func (s *fakeSurface) Size() (int, int) { return 64, 48 }

func (s *fakeSurface) Show(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown++
	s.last = img
	return nil
}

func (s *fakeSurface) frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown
}

func (s *fakeSurface) Events() <-chan region.Event { return s.events }
func (s *fakeSurface) Closed() <-chan struct{}      { return s.closed }
func (s *fakeSurface) Close() error                 { return nil }

// TestDemoSceneLifecycle checks the viewport paints and honours the
// scene operations.
func TestDemoSceneLifecycle(t *testing.T) {
	surface := newFakeSurface()
	var title string
	scene := NewDemoScene("Blender Render", protocol.Resolution{X: 128, Y: 96, Percentage: 100},
		func(tt string, w, h int) (display.Surface, error) {
			title = tt
			return surface, nil
		})
	scene.interval = time.Millisecond

	if err := scene.AlignCamera(); !errors.Is(err, ErrNoViewport) {
		t.Fatalf("AlignCamera before open err = %v", err)
	}
	if err := scene.CreateViewport(); err != nil {
		t.Fatalf("CreateViewport: %v", err)
	}
	if title != "Blender Render" {
		t.Fatalf("title = %q", title)
	}
	eventually(t, "painted frames", func() bool { return surface.frames() > 2 })

	if err := scene.SetRenderBorder(protocol.Region{XMin: 0.5, YMin: 0.5, XMax: 0.4, YMax: 1}); err == nil {
		t.Fatalf("inverted border accepted")
	}
	if err := scene.SetRenderBorder(protocol.Region{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5}); err != nil {
		t.Fatalf("SetRenderBorder: %v", err)
	}
	if err := scene.AlignCamera(); err != nil {
		t.Fatalf("AlignCamera: %v", err)
	}
	if scene.Aligned() != 1 {
		t.Fatalf("Aligned = %d", scene.Aligned())
	}
	if err := scene.SetResolution(protocol.Resolution{}); err == nil {
		t.Fatalf("empty resolution accepted")
	}

	if err := scene.CloseViewport(); err != nil {
		t.Fatalf("CloseViewport: %v", err)
	}
	n := surface.frames()
	time.Sleep(10 * time.Millisecond)
	if surface.frames() != n {
		t.Fatalf("painting continued after close")
	}
}

// TestDemoSceneBorderOrigin checks the border is drawn with a bottom-left
// origin.
func TestDemoSceneBorderOrigin(t *testing.T) {
	scene := NewDemoScene("x", protocol.Resolution{X: 100, Y: 100, Percentage: 100}, nil)
	if err := scene.SetRenderBorder(protocol.Region{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5}); err != nil {
		t.Fatalf("SetRenderBorder: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	scene.render(img, 0)

	// The lower-left quadrant's right edge sits at x=48..49, y=50..99.
	if c := img.RGBAAt(49, 75); c != borderColor {
		t.Fatalf("border pixel = %v, want %v", c, borderColor)
	}
	if c := img.RGBAAt(49, 25); c == borderColor {
		t.Fatalf("border drawn in the top half")
	}
}
