package window

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/renderview/internal/logger"
)

// _MOTIF_WM_HINTS flag selecting the decorations field.
const motifHintsDecorations = 1 << 1

// X11Backend implements Backend on an X server. Stripping chrome uses
// _MOTIF_WM_HINTS; the window is kept mapped while parked so the Composite
// extension can still name its pixmap.
type X11Backend struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo

	mu    sync.Mutex
	atoms map[string]xproto.Atom
}

// NewX11Backend connects to the display named by $DISPLAY.
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		atoms:  make(map[string]xproto.Atom),
	}, nil
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// ScreenSize returns the default screen size.
func (b *X11Backend) ScreenSize() (int, int) {
	return int(b.screen.WidthInPixels), int(b.screen.HeightInPixels)
}

// ListWindows returns all visible windows using EWMH _NET_CLIENT_LIST with QueryTree fallback
func (b *X11Backend) ListWindows() ([]Info, error) {
	log := logger.WithComponent("x11-backend")

	windows, err := b.listWindowsEWMH()
	if err == nil && len(windows) > 0 {
		log.Debug().Int("count", len(windows)).Msg("ListWindows: using EWMH _NET_CLIENT_LIST")
		return windows, nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("ListWindows: EWMH failed, falling back to QueryTree")
	}

	windows, err = b.listWindowsQueryTree()
	if err != nil {
		return nil, fmt.Errorf("failed to query window tree: %w", err)
	}
	log.Debug().Int("count", len(windows)).Msg("ListWindows: using QueryTree fallback")
	return windows, nil
}

func (b *X11Backend) listWindowsEWMH() ([]Info, error) {
	clientListAtom, err := b.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}

	reply, err := xproto.GetProperty(b.conn, false, b.root, clientListAtom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}
	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("_NET_CLIENT_LIST is empty")
	}

	windows := make([]Info, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		win := xproto.Window(le32(reply.Value[i:]))
		info, err := b.getWindowInfo(win)
		if err != nil || (info.Title == "" && info.Class == "") {
			continue
		}
		windows = append(windows, info)
	}
	return windows, nil
}

func (b *X11Backend) listWindowsQueryTree() ([]Info, error) {
	tree, err := xproto.QueryTree(b.conn, b.root).Reply()
	if err != nil {
		return nil, err
	}

	windows := make([]Info, 0)
	for _, child := range tree.Children {
		info, err := b.getWindowInfo(child)
		if err != nil || (info.Title == "" && info.Class == "") {
			continue
		}
		windows = append(windows, info)
	}
	return windows, nil
}

// Prepare strips decorations, sizes the window and parks it at the
// bottom-right corner of the screen.
func (b *X11Backend) Prepare(info Info, width, height int) (Target, error) {
	log := logger.WithComponent("x11-backend")
	win := xproto.Window(info.ID)

	stripped := true
	if err := b.stripDecorations(win); err != nil {
		log.Warn().Err(err).Uint64("window", info.ID).Msg("Failed to strip window decorations")
		stripped = false
	}

	t := Target{
		ID:             info.ID,
		Title:          info.Title,
		ChromeStripped: stripped,
	}
	return b.Resize(t, width, height)
}

// Resize sets the client size and parks the window.
func (b *X11Backend) Resize(t Target, width, height int) (Target, error) {
	if width <= 0 || height <= 0 {
		return t, fmt.Errorf("invalid size %dx%d", width, height)
	}
	win := xproto.Window(t.ID)
	sw, sh := b.ScreenSize()
	x, y := ParkPosition(sw, sh)

	// Value order follows the mask bit order: x, y, width, height.
	mask := uint16(xproto.ConfigWindowX | xproto.ConfigWindowY |
		xproto.ConfigWindowWidth | xproto.ConfigWindowHeight)
	values := []uint32{uint32(int32(x)), uint32(int32(y)), uint32(width), uint32(height)}
	if err := xproto.ConfigureWindowChecked(b.conn, win, mask, values).Check(); err != nil {
		return t, fmt.Errorf("failed to configure window: %w", err)
	}

	if err := xproto.MapWindowChecked(b.conn, win).Check(); err != nil {
		return t, fmt.Errorf("failed to map window: %w", err)
	}

	t.Width, t.Height = width, height
	t.X, t.Y = x, y

	logger.WithComponent("x11-backend").Debug().
		Uint64("window", t.ID).
		Int("width", width).
		Int("height", height).
		Int("x", x).
		Int("y", y).
		Msg("Window configured")
	return t, nil
}

func (b *X11Backend) stripDecorations(win xproto.Window) error {
	atom, err := b.getAtom("_MOTIF_WM_HINTS")
	if err != nil {
		return fmt.Errorf("failed to get _MOTIF_WM_HINTS atom: %w", err)
	}

	// flags, functions, decorations, input_mode, status
	hints := []uint32{motifHintsDecorations, 0, 0, 0, 0}
	data := make([]byte, 0, len(hints)*4)
	for _, v := range hints {
		data = append(data, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}

	return xproto.ChangePropertyChecked(b.conn, xproto.PropModeReplace, win,
		atom, atom, 32, uint32(len(hints)), data).Check()
}

// IsAlive reports whether the window still exists.
func (b *X11Backend) IsAlive(t Target) bool {
	_, err := xproto.GetWindowAttributes(b.conn, xproto.Window(t.ID)).Reply()
	return err == nil
}

func (b *X11Backend) getWindowInfo(win xproto.Window) (Info, error) {
	info := Info{ID: uint64(win)}

	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return info, err
	}
	info.Geometry = Geometry{
		X:      int(geom.X),
		Y:      int(geom.Y),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}

	for _, name := range []string{"_NET_WM_NAME", "WM_NAME"} {
		atom, err := b.getAtom(name)
		if err != nil {
			continue
		}
		if title, err := b.getProperty(win, atom); err == nil && title != "" {
			info.Title = title
			break
		}
	}

	// WM_CLASS is instance\0class\0
	if atom, err := b.getAtom("WM_CLASS"); err == nil {
		if raw, err := b.getProperty(win, atom); err == nil {
			parts := strings.Split(raw, "\x00")
			if len(parts) >= 2 && parts[1] != "" {
				info.Class = parts[1]
			} else if parts[0] != "" {
				info.Class = parts[0]
			}
		}
	}

	if atom, err := b.getAtom("_NET_WM_PID"); err == nil {
		reply, err := xproto.GetProperty(b.conn, false, win, atom, xproto.AtomCardinal, 0, 1).Reply()
		if err == nil && len(reply.Value) >= 4 {
			info.PID = int(le32(reply.Value))
		}
	}

	return info, nil
}

func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	b.mu.Lock()
	if a, ok := b.atoms[name]; ok {
		b.mu.Unlock()
		return a, nil
	}
	b.mu.Unlock()

	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.atoms[name] = reply.Atom
	b.mu.Unlock()
	return reply.Atom, nil
}

func (b *X11Backend) getProperty(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(b.conn, false, win, atom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}
	return string(reply.Value), nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
