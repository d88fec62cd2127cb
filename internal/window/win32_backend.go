//go:build windows

package window

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"

	"github.com/bryanchriswhite/renderview/internal/logger"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procGetWindowTextW      = user32.NewProc("GetWindowTextW")
	procGetWindowTextLength = user32.NewProc("GetWindowTextLengthW")
)

const (
	stripStyle   = win.WS_CAPTION | win.WS_THICKFRAME
	stripExStyle = win.WS_EX_DLGMODALFRAME | win.WS_EX_WINDOWEDGE | win.WS_EX_CLIENTEDGE | win.WS_EX_STATICEDGE
)

// Win32Backend implements Backend with the Win32 window API.
type Win32Backend struct {
	enumOnce sync.Once
	enumCB   uintptr

	mu    sync.Mutex
	found []Info
}

// NewWin32Backend creates the Win32 backend.
func NewWin32Backend() (*Win32Backend, error) {
	return &Win32Backend{}, nil
}

// Close releases nothing; the backend holds no handles.
func (b *Win32Backend) Close() error {
	return nil
}

// Name returns the backend name
func (b *Win32Backend) Name() string {
	return "win32"
}

// ScreenSize returns the primary screen size.
func (b *Win32Backend) ScreenSize() (int, int) {
	return int(win.GetSystemMetrics(win.SM_CXSCREEN)), int(win.GetSystemMetrics(win.SM_CYSCREEN))
}

// ListWindows enumerates visible top-level windows that have a title.
func (b *Win32Backend) ListWindows() ([]Info, error) {
	b.enumOnce.Do(func() {
		b.enumCB = windows.NewCallback(b.enumProc)
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	b.found = b.found[:0]
	if err := windows.EnumWindows(b.enumCB, nil); err != nil {
		return nil, fmt.Errorf("EnumWindows failed: %w", err)
	}
	out := make([]Info, len(b.found))
	copy(out, b.found)
	return out, nil
}

func (b *Win32Backend) enumProc(hwnd windows.HWND, _ uintptr) uintptr {
	if !windows.IsWindowVisible(hwnd) {
		return 1
	}
	title := windowText(hwnd)
	if title == "" {
		return 1
	}

	info := Info{ID: uint64(hwnd), Title: title}

	var class [256]uint16
	if n, err := windows.GetClassName(hwnd, &class[0], int32(len(class))); err == nil {
		info.Class = windows.UTF16ToString(class[:n])
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err == nil {
		info.PID = int(pid)
	}

	var r win.RECT
	if win.GetWindowRect(win.HWND(hwnd), &r) {
		info.Geometry = Geometry{
			X:      int(r.Left),
			Y:      int(r.Top),
			Width:  int(r.Right - r.Left),
			Height: int(r.Bottom - r.Top),
		}
	}

	b.found = append(b.found, info)
	return 1
}

func windowText(hwnd windows.HWND) string {
	n, _, _ := procGetWindowTextLength.Call(uintptr(hwnd))
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	got, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:got])
}

// Prepare strips the caption and resize border, sizes the client area and
// parks the window at the bottom-right corner of the screen.
func (b *Win32Backend) Prepare(info Info, width, height int) (Target, error) {
	hwnd := win.HWND(info.ID)

	style := uint32(win.GetWindowLong(hwnd, win.GWL_STYLE))
	win.SetWindowLong(hwnd, win.GWL_STYLE, int32(style&^stripStyle))
	exStyle := uint32(win.GetWindowLong(hwnd, win.GWL_EXSTYLE))
	win.SetWindowLong(hwnd, win.GWL_EXSTYLE, int32(exStyle&^stripExStyle))

	t := Target{ID: info.ID, Title: info.Title, ChromeStripped: true}
	return b.Resize(t, width, height)
}

// Resize sets the client area to width x height and parks the window.
func (b *Win32Backend) Resize(t Target, width, height int) (Target, error) {
	if width <= 0 || height <= 0 {
		return t, fmt.Errorf("invalid size %dx%d", width, height)
	}
	hwnd := win.HWND(t.ID)

	// Grow the outer rectangle by whatever frame remains so the client
	// area matches exactly.
	r := win.RECT{Right: int32(width), Bottom: int32(height)}
	style := uint32(win.GetWindowLong(hwnd, win.GWL_STYLE))
	win.AdjustWindowRect(&r, style, false)

	sw, sh := b.ScreenSize()
	x, y := ParkPosition(sw, sh)

	if win.IsIconic(hwnd) {
		win.ShowWindow(hwnd, win.SW_RESTORE)
	}
	flags := uint32(win.SWP_NOZORDER | win.SWP_NOACTIVATE | win.SWP_FRAMECHANGED)
	if !win.SetWindowPos(hwnd, 0, int32(x), int32(y), r.Right-r.Left, r.Bottom-r.Top, flags) {
		return t, fmt.Errorf("SetWindowPos failed: %w", syscall.GetLastError())
	}
	win.ShowWindow(hwnd, win.SW_SHOWNOACTIVATE)

	t.Width, t.Height = width, height
	t.X, t.Y = x, y

	logger.WithComponent("win32-backend").Debug().
		Uint64("window", t.ID).
		Int("width", width).
		Int("height", height).
		Int("x", x).
		Int("y", y).
		Msg("Window configured")
	return t, nil
}

// IsAlive reports whether the window handle is still valid.
func (b *Win32Backend) IsAlive(t Target) bool {
	return windows.IsWindow(windows.HWND(t.ID))
}
