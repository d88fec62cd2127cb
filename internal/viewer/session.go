// Package viewer runs the viewer process: it joins the host's control
// channel, takes over the viewport window, captures it and shows the
// composite with snapshots and the A/B comparison.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/renderview/internal/capture"
	"github.com/bryanchriswhite/renderview/internal/composite"
	"github.com/bryanchriswhite/renderview/internal/display"
	"github.com/bryanchriswhite/renderview/internal/frame"
	"github.com/bryanchriswhite/renderview/internal/gallery"
	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/output"
	"github.com/bryanchriswhite/renderview/internal/overlay"
	"github.com/bryanchriswhite/renderview/internal/protocol"
	"github.com/bryanchriswhite/renderview/internal/region"
	"github.com/bryanchriswhite/renderview/internal/window"
)

// ErrSessionClosed is returned by actions posted after Run returned.
var ErrSessionClosed = errors.New("viewer session closed")

// DefaultResolution is used when the viewport appears before the host sent
// a resolution.
var DefaultResolution = protocol.Resolution{X: 1920, Y: 1080, Percentage: 100}

// Options configures a Session.
type Options struct {
	ControlAddr string
	Control     protocol.Options
	Monitor     window.MonitorOptions
	Capture     capture.LoopOptions

	MaxSnapshots int
	ThumbSize    int

	ZoomStep         float64
	DevicePixelRatio float64

	// PreviewListen enables the HTTP preview and control API when set.
	PreviewListen string
	Preview       output.Config

	// StopTimeout bounds the wait for the capture loop on exit.
	StopTimeout time.Duration
}

// Deps are the platform pieces a Session drives.
type Deps struct {
	Backend     window.Backend
	NewCapturer func(window.Target) (capture.Capturer, error)
	// Surface is optional; without it the viewer is driven over HTTP.
	Surface display.Surface
}

type detection struct {
	target window.Target
	res    protocol.Resolution
	err    error
}

// Session is one viewer run. All fields below the channels belong to the
// UI task in Run.
type Session struct {
	opts Options
	deps Deps

	status  *protocol.StatusTracker
	monitor *window.Monitor
	mailbox *frame.Mailbox
	client  *protocol.Client
	latest  atomic.Pointer[protocol.Resolution]

	actions  chan Action
	finished chan struct{}
	runOnce  sync.Once

	loop      *capture.Loop
	comp      composite.State
	gallery   *gallery.Gallery
	selector  *region.Selector
	grab      region.DividerGrab
	view      *region.View
	imageView *region.View
	res       protocol.Resolution
	applied   protocol.Resolution

	overlays  *overlay.Manager
	divider   *overlay.DividerWidget
	badges    *overlay.BadgeWidget
	selection *overlay.SelectionWidget
	statusBar *overlay.TextWidget
	preview   *output.MJPEGOutput
	annotated *image.RGBA
	screen    *image.RGBA
	dirty     bool
}

// New builds a session. It does not connect until Run.
func New(opts Options, deps Deps) (*Session, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("window backend is required")
	}
	if deps.NewCapturer == nil {
		deps.NewCapturer = capture.NewCapturer
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 2 * time.Second
	}
	if opts.DevicePixelRatio <= 0 {
		opts.DevicePixelRatio = 1
	}

	status := protocol.NewStatusTracker(protocol.StatusInitial)
	monitor, err := window.NewMonitor(deps.Backend, status, opts.Monitor)
	if err != nil {
		return nil, err
	}

	s := &Session{
		opts:      opts,
		deps:      deps,
		status:    status,
		monitor:   monitor,
		mailbox:   frame.NewMailbox(),
		actions:   make(chan Action, 64),
		finished:  make(chan struct{}),
		gallery:   gallery.New(opts.MaxSnapshots, opts.ThumbSize),
		view:      region.NewView(opts.ZoomStep),
		imageView: region.NewView(opts.ZoomStep),
		res:       DefaultResolution,
		overlays:  overlay.NewManager(),
		divider:   overlay.NewDividerWidget(region.DefaultGrabBand),
		badges:    overlay.NewBadgeWidget(),
		selection: overlay.NewSelectionWidget(),
		statusBar: overlay.NewTextWidget("status", 8, 8),
	}
	s.selector = region.NewSelector(region.SinkFunc(s.sendRegion))

	bg := overlay.StatusBackground
	s.statusBar.SetBackground(&bg)
	for _, w := range []overlay.Widget{s.divider, s.badges, s.selection, s.statusBar} {
		if err := s.overlays.AddWidget(w); err != nil {
			return nil, err
		}
	}
	if opts.PreviewListen != "" {
		s.preview = output.NewMJPEGOutput(opts.Preview)
	}
	return s, nil
}

// StatusTracker returns the tracker mirroring the host's status.
func (s *Session) StatusTracker() *protocol.StatusTracker {
	return s.status
}

// Run connects to the host and runs the UI task until ctx ends, the window
// is closed, the connection drops or the viewport disappears.
func (s *Session) Run(ctx context.Context) error {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("session already ran")
	}
	defer close(s.finished)

	log := logger.WithComponent("viewer")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.monitor.Snapshot(); err != nil {
		log.Warn().Err(err).Msg("Failed to record window baseline")
	}

	client, err := protocol.Dial(ctx, s.opts.ControlAddr, s.opts.Control)
	if err != nil {
		return err
	}
	s.client = client
	defer s.shutdown()

	if err := s.sendStatus(protocol.StatusWaiting); err != nil {
		return fmt.Errorf("failed to announce viewer: %w", err)
	}

	if s.preview != nil {
		if err := s.startPreview(ctx); err != nil {
			log.Warn().Err(err).Msg("Preview disabled")
		}
	}

	detected := make(chan detection, 1)
	go s.detect(ctx, detected)

	var (
		inbound  = client.Inbound()
		loopDone <-chan struct{}
		events   <-chan region.Event
		closed   <-chan struct{}
	)
	if s.deps.Surface != nil {
		events = s.deps.Surface.Events()
		closed = s.deps.Surface.Closed()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Viewer stopping")
			return nil

		case <-client.Done():
			return fmt.Errorf("control channel closed: %w", client.Err())

		case m, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			if err := s.handleMessage(m); err != nil {
				return err
			}

		case d := <-detected:
			if d.err != nil {
				return d.err
			}
			if err := s.attach(d); err != nil {
				return err
			}
			loopDone = s.loop.Done()

		case <-loopDone:
			return s.loop.Err()

		case <-s.mailbox.Ready():
			if f := s.mailbox.Take(); f != nil {
				s.comp.Live = f
				s.dirty = true
			}

		case ev := <-events:
			s.handleEvent(ev, s.view, false)

		case <-closed:
			log.Info().Msg("Viewer window closed by user")
			return nil

		case a := <-s.actions:
			a.run(s)
		}

		if s.dirty {
			s.redraw()
		}
	}
}

// detect runs off the UI task: it blocks until the host created the
// viewport, then finds and prepares it at the latest known resolution.
func (s *Session) detect(ctx context.Context, out chan<- detection) {
	if _, err := s.status.WaitFor(ctx, protocol.StatusViewportCreated); err != nil {
		out <- detection{err: fmt.Errorf("failed waiting for viewport: %w", err)}
		return
	}
	res := DefaultResolution
	if r := s.latest.Load(); r != nil {
		res = *r
	}
	t, err := s.monitor.Find(ctx, res)
	out <- detection{target: t, res: res, err: err}
}

// attach finishes the handshake for a detected target and starts capture.
func (s *Session) attach(d detection) error {
	log := logger.WithComponent("viewer")
	s.applied = d.res

	// A resolution that arrived during detection still has to be applied.
	if s.res != d.res {
		if _, err := s.monitor.Apply(s.res); err != nil {
			return err
		}
		s.applied = s.res
	}

	if err := s.client.Send(protocol.ResizedMessage()); err != nil {
		return err
	}
	if err := s.sendStatus(protocol.StatusRunning); err != nil {
		return err
	}

	c, err := s.deps.NewCapturer(d.target)
	if err != nil {
		return fmt.Errorf("failed to create capturer: %w", err)
	}
	opts := s.opts.Capture
	if opts.Alive == nil {
		opts.Alive = s.monitor.Alive
	}
	s.loop = capture.NewLoop(c, s.mailbox, opts)
	s.loop.Start()

	log.Info().
		Uint64("window", d.target.ID).
		Str("capturer", c.Name()).
		Msg("Viewer running")
	return nil
}

// handleMessage applies one host message on the UI task.
func (s *Session) handleMessage(m protocol.Message) error {
	log := logger.WithComponent("viewer")

	if res, ok := m.Resolution(); ok {
		s.res = res
		s.latest.Store(&res)
		log.Info().Str("resolution", res.String()).Msg("Resolution received")

		if s.loop != nil && res != s.applied {
			if _, err := s.monitor.Apply(res); err != nil {
				return err
			}
			s.applied = res
			if err := s.client.Send(protocol.ResizedMessage()); err != nil {
				return err
			}
		}
	}

	if m.Status != nil {
		prev := s.status.Set(*m.Status)
		log.Info().
			Str("from", string(prev)).
			Str("to", string(*m.Status)).
			Msg("Host status")
	}

	if m.Running() {
		s.fit("1:1")
	}
	return nil
}

func (s *Session) sendStatus(st protocol.Status) error {
	s.status.Set(st)
	return s.client.SendStatus(st)
}

func (s *Session) sendRegion(r protocol.Region) error {
	logger.WithComponent("viewer").Info().
		Float64("xmin", r.XMin).
		Float64("ymin", r.YMin).
		Float64("xmax", r.XMax).
		Float64("ymax", r.YMax).
		Msg("Sending render region")
	return s.client.Send(protocol.RegionMessage(r))
}

func (s *Session) shutdown() {
	log := logger.WithComponent("viewer")

	if err := s.sendStatus(protocol.StatusExited); err != nil {
		log.Debug().Err(err).Msg("Could not report exit to host")
	}
	if s.loop != nil && !s.loop.Stop(s.opts.StopTimeout) {
		log.Warn().Dur("timeout", s.opts.StopTimeout).Msg("Capture loop did not stop in time")
	}
	if s.preview != nil {
		_ = s.preview.Stop()
	}
	if s.deps.Surface != nil {
		_ = s.deps.Surface.Close()
	}
	_ = s.client.Close()
	if err := s.deps.Backend.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close window backend")
	}
}
