package display

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/region"
)

// X11 keysyms the viewer reacts to.
const (
	keysymLeft   = 0xff51
	keysymRight  = 0xff53
	keysymDelete = 0xffff
	keysymEscape = 0xff1b
)

// X11Surface is a top-level window showing the viewer image. Input is
// delivered on Events; Closed fires when the user closes the window.
type X11Surface struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	window xproto.Window
	gc     xproto.Gcontext

	width  atomic.Int32
	height atomic.Int32

	deleteAtom xproto.Atom
	keysyms    []xproto.Keysym
	perCode    int
	minCode    xproto.Keycode

	events    chan region.Event
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	buf       []byte
}

// NewX11Surface creates and maps a window of width x height.
func NewX11Surface(title string, width, height int) (*X11Surface, error) {
	log := logger.WithComponent("display")

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	setup := xproto.Setup(conn)
	s := &X11Surface{
		conn:   conn,
		screen: setup.DefaultScreen(conn),
		events: make(chan region.Event, 64),
		closed: make(chan struct{}),
	}
	s.width.Store(int32(width))
	s.height.Store(int32(height))

	if s.window, err = xproto.NewWindowId(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create window ID: %w", err)
	}

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x202020,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify |
			xproto.EventMaskButtonPress | xproto.EventMaskButtonRelease |
			xproto.EventMaskPointerMotion | xproto.EventMaskKeyPress,
	}
	err = xproto.CreateWindowChecked(conn, s.screen.RootDepth, s.window, s.screen.Root,
		0, 0, uint16(width), uint16(height), 0,
		xproto.WindowClassInputOutput, s.screen.RootVisual, mask, values).Check()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	if err := s.setWindowTitle(title); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := s.setWindowClass("renderview", "RenderView"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}
	if err := s.watchDelete(); err != nil {
		log.Warn().Err(err).Msg("Failed to register WM_DELETE_WINDOW")
	}
	s.loadKeymap(setup)

	if s.gc, err = xproto.NewGcontextId(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, s.gc, xproto.Drawable(s.window), 0, nil).Check(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create GC: %w", err)
	}

	if err := xproto.MapWindowChecked(conn, s.window).Check(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to map window: %w", err)
	}

	go s.pump()

	log.Info().
		Int("width", width).
		Int("height", height).
		Uint32("window_id", uint32(s.window)).
		Msg("Viewer window created")
	return s, nil
}

// Size returns the current window size.
func (s *X11Surface) Size() (int, int) {
	return int(s.width.Load()), int(s.height.Load())
}

// Events delivers input in window coordinates.
func (s *X11Surface) Events() <-chan region.Event {
	return s.events
}

// Closed is closed when the window goes away.
func (s *X11Surface) Closed() <-chan struct{} {
	return s.closed
}

// Show puts img, which must match the window size, on screen.
func (s *X11Surface) Show(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	depth := s.screen.RootDepth

	var bitsPerPixel, scanlinePad uint8
	for _, format := range xproto.Setup(s.conn).PixmapFormats {
		if format.Depth == depth {
			bitsPerPixel = format.BitsPerPixel
			scanlinePad = format.ScanlinePad
			break
		}
	}
	if bitsPerPixel != 32 {
		return fmt.Errorf("unsupported pixmap format: %d bpp at depth %d", bitsPerPixel, depth)
	}

	// Scanlines are padded to scanlinePad bits.
	padBytes := int(scanlinePad) / 8
	stride := ((w*4 + padBytes - 1) / padBytes) * padBytes
	if cap(s.buf) < stride*h {
		s.buf = make([]byte, stride*h)
	}
	data := s.buf[:stride*h]

	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := data[y*stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = 0
			if depth == 32 {
				dst[i+3] = src[i+3]
			}
		}
	}

	// Large frames exceed the request size limit; send bands of rows.
	maxBytes := int(xproto.Setup(s.conn).MaximumRequestLength)*4 - 64
	rows := max(1, maxBytes/stride)
	for y := 0; y < h; y += rows {
		n := min(rows, h-y)
		err := xproto.PutImageChecked(s.conn, xproto.ImageFormatZPixmap,
			xproto.Drawable(s.window), s.gc,
			uint16(w), uint16(n), 0, int16(y), 0, depth,
			data[y*stride:(y+n)*stride]).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// Close destroys the window and closes the connection.
func (s *X11Surface) Close() error {
	s.markClosed()
	xproto.FreeGC(s.conn, s.gc)
	xproto.DestroyWindow(s.conn, s.window)
	s.conn.Sync()
	s.conn.Close()
	return nil
}

func (s *X11Surface) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *X11Surface) pump() {
	log := logger.WithComponent("display")
	defer s.markClosed()

	for {
		ev, err := s.conn.WaitForEvent()
		if ev == nil && err == nil {
			return
		}
		if err != nil {
			log.Debug().Err(err).Msg("X11 event error")
			continue
		}

		switch e := ev.(type) {
		case xproto.ButtonPressEvent:
			s.emitButton(region.Press, e.Detail, e.EventX, e.EventY)
		case xproto.ButtonReleaseEvent:
			s.emitButton(region.Release, e.Detail, e.EventX, e.EventY)
		case xproto.MotionNotifyEvent:
			s.emit(region.Event{Kind: region.Motion, X: float64(e.EventX), Y: float64(e.EventY)})
		case xproto.KeyPressEvent:
			if key := s.keyName(e.Detail); key != "" {
				s.emit(region.Event{Kind: region.Key, Key: key, X: float64(e.EventX), Y: float64(e.EventY)})
			}
		case xproto.ConfigureNotifyEvent:
			s.width.Store(int32(e.Width))
			s.height.Store(int32(e.Height))
		case xproto.ClientMessageEvent:
			if e.Type != 0 && xproto.Atom(e.Data.Data32[0]) == s.deleteAtom {
				log.Info().Msg("Viewer window closed")
				return
			}
		case xproto.DestroyNotifyEvent:
			return
		}
	}
}

func (s *X11Surface) emitButton(kind region.Kind, detail xproto.Button, x, y int16) {
	ev := region.Event{Kind: kind, X: float64(x), Y: float64(y)}
	switch detail {
	case xproto.ButtonIndex1:
		ev.Button = region.Left
	case xproto.ButtonIndex2:
		ev.Button = region.Middle
	case xproto.ButtonIndex3:
		ev.Button = region.Right
	case xproto.ButtonIndex4, xproto.ButtonIndex5:
		// Wheel notches arrive as a press/release pair; use the press.
		if kind != region.Press {
			return
		}
		ev.Kind = region.Wheel
		ev.Delta = 1
		if detail == xproto.ButtonIndex5 {
			ev.Delta = -1
		}
	default:
		return
	}
	s.emit(ev)
}

// emit drops events when the UI task is behind; motion is continuous.
func (s *X11Surface) emit(ev region.Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *X11Surface) loadKeymap(setup *xproto.SetupInfo) {
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)
	reply, err := xproto.GetKeyboardMapping(s.conn, setup.MinKeycode, count).Reply()
	if err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to load keyboard mapping")
		return
	}
	s.keysyms = reply.Keysyms
	s.perCode = int(reply.KeysymsPerKeycode)
	s.minCode = setup.MinKeycode
}

func (s *X11Surface) keyName(code xproto.Keycode) string {
	if s.perCode == 0 || code < s.minCode {
		return ""
	}
	i := int(code-s.minCode) * s.perCode
	if i >= len(s.keysyms) {
		return ""
	}
	switch sym := s.keysyms[i]; sym {
	case keysymLeft:
		return region.KeyLeft
	case keysymRight:
		return region.KeyRight
	case keysymDelete:
		return region.KeyDelete
	case keysymEscape:
		return region.KeyEscape
	default:
		if sym >= 0x20 && sym < 0x7f {
			return string(rune(sym))
		}
	}
	return ""
}

func (s *X11Surface) watchDelete() error {
	protocols, err := s.getAtom("WM_PROTOCOLS")
	if err != nil {
		return err
	}
	if s.deleteAtom, err = s.getAtom("WM_DELETE_WINDOW"); err != nil {
		return err
	}
	data := []byte{byte(s.deleteAtom), byte(s.deleteAtom >> 8), byte(s.deleteAtom >> 16), byte(s.deleteAtom >> 24)}
	return xproto.ChangePropertyChecked(s.conn, xproto.PropModeReplace, s.window,
		protocols, xproto.AtomAtom, 32, 1, data).Check()
}

func (s *X11Surface) setWindowTitle(title string) error {
	titleAtom, err := s.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := s.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}
	if err := xproto.ChangePropertyChecked(s.conn, xproto.PropModeReplace, s.window,
		xproto.AtomWmName, xproto.AtomString, 8, uint32(len(title)), []byte(title)).Check(); err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(s.conn, xproto.PropModeReplace, s.window,
		titleAtom, utf8Atom, 8, uint32(len(title)), []byte(title)).Check()
}

func (s *X11Surface) setWindowClass(instance, class string) error {
	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"
	return xproto.ChangePropertyChecked(s.conn, xproto.PropModeReplace, s.window,
		xproto.AtomWmClass, xproto.AtomString, 8, uint32(len(classStr)), []byte(classStr)).Check()
}

func (s *X11Surface) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(s.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
