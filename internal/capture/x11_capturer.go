package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/window"
)

// X11Capturer captures one window. With the Composite extension the window
// is redirected once and its backing pixmap is reused until the window
// size changes or a capture fails.
type X11Capturer struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	win    xproto.Window

	compositeEnabled bool
	redirected       bool

	mu     sync.Mutex
	pixmap xproto.Pixmap
	width  uint16
	height uint16
}

// NewX11Capturer connects to the X server and prepares to capture t.
func NewX11Capturer(t window.Target) (*X11Capturer, error) {
	log := logger.WithComponent("x11-capturer")

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	setup := xproto.Setup(conn)

	c := &X11Capturer{
		conn:   conn,
		screen: setup.DefaultScreen(conn),
		win:    xproto.Window(t.ID),
	}

	if err := composite.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Composite extension not available - parked window may capture blank")
	} else {
		c.compositeEnabled = true
	}
	return c, nil
}

// Name returns the capturer name
func (c *X11Capturer) Name() string {
	return "x11"
}

// Capture reads the window contents.
func (c *X11Capturer) Capture() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(c.win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}
	if geom.Width == 0 || geom.Height == 0 {
		return nil, fmt.Errorf("window has zero size")
	}
	if geom.Width != c.width || geom.Height != c.height {
		c.freePixmap()
		c.width, c.height = geom.Width, geom.Height
	}

	drawable := c.drawable()
	reply, err := xproto.GetImage(c.conn, xproto.ImageFormatZPixmap, drawable,
		0, 0, geom.Width, geom.Height, 0xffffffff).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	depth := int(c.screen.RootDepth)
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported depth %d", depth)
	}

	w, h := int(geom.Width), int(geom.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bgraToRGBA(img, reply.Data, w*4)
	return img, nil
}

// drawable returns the cached composite pixmap, naming it on first use.
// It falls back to the window itself.
func (c *X11Capturer) drawable() xproto.Drawable {
	if !c.compositeEnabled {
		return xproto.Drawable(c.win)
	}
	if c.pixmap != 0 {
		return xproto.Drawable(c.pixmap)
	}

	log := logger.WithComponent("x11-capturer")
	if !c.redirected {
		if err := composite.RedirectWindowChecked(c.conn, c.win, composite.RedirectAutomatic).Check(); err != nil {
			log.Warn().Err(err).Uint32("window", uint32(c.win)).Msg("Failed to redirect window, capturing directly")
			return xproto.Drawable(c.win)
		}
		c.redirected = true
	}

	pixmap, err := xproto.NewPixmapId(c.conn)
	if err != nil {
		return xproto.Drawable(c.win)
	}
	if err := composite.NameWindowPixmapChecked(c.conn, c.win, pixmap).Check(); err != nil {
		log.Debug().Err(err).Msg("Failed to name window pixmap")
		return xproto.Drawable(c.win)
	}
	c.pixmap = pixmap
	log.Debug().Uint32("window", uint32(c.win)).Msg("Using Composite pixmap for window capture")
	return xproto.Drawable(pixmap)
}

func (c *X11Capturer) freePixmap() {
	if c.pixmap != 0 {
		xproto.FreePixmap(c.conn, c.pixmap)
		c.pixmap = 0
	}
}

// Reset drops the cached pixmap.
func (c *X11Capturer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freePixmap()
	c.width, c.height = 0, 0
}

// Close frees the pixmap, undoes the redirect and closes the connection.
func (c *X11Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freePixmap()
	if c.redirected {
		composite.UnredirectWindow(c.conn, c.win, composite.RedirectAutomatic)
		c.redirected = false
	}
	c.conn.Close()
	return nil
}
