// Package host is the host side of the control channel: it launches the
// viewer, tells it when the viewport exists and what resolution to use,
// and applies the render regions it sends back to a Scene.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/protocol"
)

var (
	// ErrViewerRunning is returned by CreateRenderView while a viewer is up.
	ErrViewerRunning = errors.New("viewer already running")
	// ErrViewerNotReady is returned when the viewer never reported
	// extui_waiting.
	ErrViewerNotReady = errors.New("viewer did not become ready")
	// ErrNoRegion is returned when no selection was received yet.
	ErrNoRegion = errors.New("no render region received")
)

// Scene is the content-creation tool the controller drives.
type Scene interface {
	Resolution() protocol.Resolution
	CreateViewport() error
	CloseViewport() error
	AlignCamera() error
	SetRenderBorder(protocol.Region) error
}

// Options configures a Controller. Zero durations take defaults.
type Options struct {
	Addr     string
	Control  protocol.Options
	Launcher Launcher

	ReadyTimeout   time.Duration
	AlignDelay     time.Duration
	RegionDelay    time.Duration
	CloseDelay     time.Duration
	ResolutionPoll time.Duration
}

const (
	DefaultReadyTimeout   = 5 * time.Second
	DefaultAlignDelay     = 500 * time.Millisecond
	DefaultRegionDelay    = 500 * time.Millisecond
	DefaultCloseDelay     = time.Second
	DefaultResolutionPoll = time.Second
)

func (o Options) withDefaults() Options {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.AlignDelay <= 0 {
		o.AlignDelay = DefaultAlignDelay
	}
	if o.RegionDelay <= 0 {
		o.RegionDelay = DefaultRegionDelay
	}
	if o.CloseDelay <= 0 {
		o.CloseDelay = DefaultCloseDelay
	}
	if o.ResolutionPoll <= 0 {
		o.ResolutionPoll = DefaultResolutionPoll
	}
	return o
}

// Controller owns the control server and the viewer process.
type Controller struct {
	opts   Options
	scene  Scene
	server *protocol.Server
	status *protocol.StatusTracker

	mu       sync.Mutex
	viewer   Process
	lastSent *protocol.Resolution
	region   *protocol.Region
	watch    context.CancelFunc
	timers   []*time.Timer
}

// NewController binds the control port. A taken port is reported as
// protocol.ErrPortInUse and nothing is started.
func NewController(scene Scene, opts Options) (*Controller, error) {
	opts = opts.withDefaults()
	if opts.Launcher == nil {
		l, err := SelfLauncher()
		if err != nil {
			return nil, err
		}
		opts.Launcher = l
	}

	srv, err := protocol.Listen(opts.Addr, opts.Control)
	if err != nil {
		return nil, err
	}

	return &Controller{
		opts:   opts,
		scene:  scene,
		server: srv,
		status: protocol.NewStatusTracker(protocol.StatusInit),
	}, nil
}

// Addr returns the bound control address.
func (c *Controller) Addr() string {
	return c.server.Addr()
}

// Status returns the host's view of the session status.
func (c *Controller) Status() protocol.Status {
	return c.status.Get()
}

// StatusTracker exposes the status for waiting on transitions.
func (c *Controller) StatusTracker() *protocol.StatusTracker {
	return c.status
}

// Peers returns the number of connected viewers.
func (c *Controller) Peers() int {
	return c.server.Peers()
}

// Serve accepts viewers and handles their messages until ctx ends.
func (c *Controller) Serve(ctx context.Context) error {
	log := logger.WithComponent("host")

	errCh := make(chan error, 1)
	go func() { errCh <- c.server.Serve(ctx) }()

	inbound := c.server.Inbound()
	events := c.server.Events()
	for {
		select {
		case <-ctx.Done():
			return <-errCh
		case err := <-errCh:
			return err
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Connected {
				log.Debug().Uint64("peer", ev.ID).Msg("Peer connected")
				continue
			}
			log.Debug().Uint64("peer", ev.ID).AnErr("cause", ev.Err).Msg("Peer disconnected")
			c.peerLost()
		case in, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			c.handle(in)
		}
	}
}

// handle applies one viewer message.
func (c *Controller) handle(in protocol.Inbound) {
	log := logger.WithComponent("host")
	m := in.Msg

	if m.Status != nil {
		st := *m.Status
		log.Info().Uint64("peer", in.From).Str("status", string(st)).Msg("Viewer status")
		c.status.Set(st)
		if st == protocol.StatusExited && !c.endSession(nil, false, "viewer exited") {
			c.status.Set(protocol.StatusInit)
		}
	}

	if bool(m.Resized) {
		c.after(c.opts.AlignDelay, func() {
			if err := c.AlignCamera(); err != nil {
				log.Warn().Err(err).Msg("Failed to align camera")
			}
		})
	}

	if r, ok := m.Region(); ok {
		c.mu.Lock()
		c.region = &r
		c.mu.Unlock()
		log.Info().
			Float64("xmin", r.XMin).
			Float64("ymin", r.YMin).
			Float64("xmax", r.XMax).
			Float64("ymax", r.YMax).
			Msg("Render region received")
		c.after(c.opts.RegionDelay, func() {
			if err := c.SetRenderRegionFromLastSelection(); err != nil {
				log.Warn().Err(err).Msg("Failed to set render region")
			}
		})
	}
}

// peerLost ends the session when its last viewer connection drops without
// an extui_exited. Connections that drop before the viewer reported ready
// are left to the ready timeout.
func (c *Controller) peerLost() {
	if c.server.Peers() > 0 {
		return
	}
	switch c.status.Get() {
	case protocol.StatusInit, protocol.StatusInitial:
		return
	}
	c.endSession(nil, true, "connection lost")
}

// endSession resets the host after the viewer went away: the status returns
// to init and the viewport closes after CloseDelay. kill stops a viewer
// that may still be running. only restricts it to the session of that
// process; nil means the current one. Sessions end once; it reports
// whether this call ended one.
func (c *Controller) endSession(only Process, kill bool, reason string) bool {
	c.mu.Lock()
	p := c.viewer
	if p == nil || (only != nil && only != p) {
		c.mu.Unlock()
		return false
	}
	c.viewer = nil
	if c.watch != nil {
		c.watch()
		c.watch = nil
	}
	c.lastSent = nil
	c.mu.Unlock()

	log := logger.WithComponent("host")
	log.Info().Str("reason", reason).Msg("Render view session ended")

	c.status.Set(protocol.StatusInit)
	if kill {
		if err := p.Kill(); err != nil {
			log.Debug().Err(err).Msg("Failed to kill viewer")
		}
	}
	c.after(c.opts.CloseDelay, func() {
		if err := c.scene.CloseViewport(); err != nil {
			log.Warn().Err(err).Msg("Failed to close viewport")
		}
	})
	return true
}

// reap waits for a launched viewer and ends its session if it dies while
// still current.
func (c *Controller) reap(p Process) {
	err := p.Wait()
	logger.WithComponent("host").Debug().AnErr("cause", err).Msg("Viewer process exited")
	c.endSession(p, false, "viewer process exited")
}

func (c *Controller) after(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, time.AfterFunc(d, fn))
}

// CreateRenderView launches the viewer, waits for it to report
// extui_waiting, sends the resolution, creates the viewport and announces
// viewport_created. Resolution changes are pushed until ctx ends or the
// viewer exits.
func (c *Controller) CreateRenderView(ctx context.Context) error {
	log := logger.WithComponent("host")

	c.mu.Lock()
	if c.viewer != nil {
		c.mu.Unlock()
		return ErrViewerRunning
	}
	c.mu.Unlock()

	c.status.Set(protocol.StatusInitial)
	p, err := c.opts.Launcher.Launch()
	if err != nil {
		c.status.Set(protocol.StatusInit)
		return fmt.Errorf("failed to launch viewer: %w", err)
	}
	c.mu.Lock()
	c.viewer = p
	c.mu.Unlock()
	go c.reap(p)

	readyCtx, cancel := context.WithTimeout(ctx, c.opts.ReadyTimeout)
	_, err = c.status.WaitFor(readyCtx, protocol.StatusWaiting)
	cancel()
	if err != nil {
		log.Error().Dur("timeout", c.opts.ReadyTimeout).Msg("Viewer never reported ready")
		c.killViewer()
		c.status.Set(protocol.StatusInit)
		return fmt.Errorf("%w: %v", ErrViewerNotReady, err)
	}

	c.pushResolution(true)

	if err := c.scene.CreateViewport(); err != nil {
		c.killViewer()
		c.status.Set(protocol.StatusInit)
		return fmt.Errorf("failed to create viewport: %w", err)
	}

	c.status.Set(protocol.StatusViewportCreated)
	n := c.server.Broadcast(protocol.StatusMessage(protocol.StatusViewportCreated))
	log.Info().Int("viewers", n).Msg("Viewport created")

	watchCtx, stop := context.WithCancel(ctx)
	c.mu.Lock()
	c.watch = stop
	c.mu.Unlock()
	go c.watchResolution(watchCtx)
	return nil
}

func (c *Controller) watchResolution(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ResolutionPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ResolutionChanged()
		}
	}
}

// ResolutionChanged sends the scene resolution if it differs from the last
// one sent. It reports whether a message went out.
func (c *Controller) ResolutionChanged() bool {
	return c.pushResolution(false)
}

func (c *Controller) pushResolution(force bool) bool {
	res := c.scene.Resolution()

	c.mu.Lock()
	if !force && c.lastSent != nil && *c.lastSent == res {
		c.mu.Unlock()
		return false
	}
	c.lastSent = &res
	c.mu.Unlock()

	n := c.server.Broadcast(protocol.ResolutionMessage(res))
	logger.WithComponent("host").Info().
		Str("resolution", res.String()).
		Int("viewers", n).
		Msg("Resolution sent")
	return true
}

// AlignCamera fits the scene camera to the viewport and tells the viewer
// to reset its zoom.
func (c *Controller) AlignCamera() error {
	if err := c.scene.AlignCamera(); err != nil {
		return err
	}
	c.server.Broadcast(protocol.RunningMessage())
	return nil
}

// SetRenderRegionFromLastSelection applies the last received region.
func (c *Controller) SetRenderRegionFromLastSelection() error {
	r, ok := c.LastRegion()
	if !ok {
		return ErrNoRegion
	}
	return c.scene.SetRenderBorder(r)
}

// LastRegion returns the most recent selection from the viewer.
func (c *Controller) LastRegion() (protocol.Region, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.region == nil {
		return protocol.Region{}, false
	}
	return *c.region, true
}

func (c *Controller) killViewer() {
	c.mu.Lock()
	p := c.viewer
	c.viewer = nil
	c.mu.Unlock()
	if p == nil {
		return
	}
	if err := p.Kill(); err != nil {
		logger.WithComponent("host").Debug().Err(err).Msg("Failed to kill viewer")
	}
}

// Shutdown stops the server, cancels pending work and kills a running
// viewer.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	if c.watch != nil {
		c.watch()
		c.watch = nil
	}
	c.mu.Unlock()

	c.killViewer()
	return c.server.Close()
}
