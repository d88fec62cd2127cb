//go:build windows

package capture

import (
	"fmt"
	"image"
	"sync"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"

	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/window"
)

var (
	user32          = windows.NewLazySystemDLL("user32.dll")
	procPrintWindow = user32.NewProc("PrintWindow")
)

const (
	pwClientOnly        = 0x1
	pwRenderFullContent = 0x2
)

// Win32Capturer captures one window with PrintWindow, which works for
// windows that are off-screen but not minimized. The DCs and bitmap are
// kept between frames and rebuilt when the client size changes.
type Win32Capturer struct {
	hwnd win.HWND

	mu     sync.Mutex
	wdc    win.HDC
	mdc    win.HDC
	bmp    win.HBITMAP
	width  int
	height int
	buf    []byte
}

// NewWin32Capturer prepares to capture t.
func NewWin32Capturer(t window.Target) (*Win32Capturer, error) {
	hwnd := win.HWND(t.ID)
	if !windows.IsWindow(windows.HWND(t.ID)) {
		return nil, fmt.Errorf("window 0x%x: %w", t.ID, window.ErrWindowNotFound)
	}
	return &Win32Capturer{hwnd: hwnd}, nil
}

// Name returns the capturer name
func (c *Win32Capturer) Name() string {
	return "win32"
}

// Capture prints the client area into the cached bitmap.
func (c *Win32Capturer) Capture() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var r win.RECT
	if !win.GetClientRect(c.hwnd, &r) {
		return nil, fmt.Errorf("GetClientRect failed")
	}
	w, h := int(r.Right-r.Left), int(r.Bottom-r.Top)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("window has zero size")
	}
	if w != c.width || h != c.height || c.mdc == 0 {
		c.release()
		if err := c.alloc(w, h); err != nil {
			return nil, err
		}
	}

	ok, _, _ := procPrintWindow.Call(uintptr(c.hwnd), uintptr(c.mdc), pwClientOnly|pwRenderFullContent)
	if ok == 0 {
		return nil, fmt.Errorf("PrintWindow failed")
	}

	var bi win.BITMAPINFO
	bi.BmiHeader = win.BITMAPINFOHEADER{
		BiSize:        uint32(unsafe.Sizeof(bi.BmiHeader)),
		BiWidth:       int32(w),
		BiHeight:      -int32(h), // top-down
		BiPlanes:      1,
		BiBitCount:    32,
		BiCompression: win.BI_RGB,
	}
	if n := win.GetDIBits(c.mdc, c.bmp, 0, uint32(h), &c.buf[0], &bi, win.DIB_RGB_COLORS); n == 0 {
		return nil, fmt.Errorf("GetDIBits failed")
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bgraToRGBA(img, c.buf, w*4)
	return img, nil
}

func (c *Win32Capturer) alloc(w, h int) error {
	c.wdc = win.GetDC(c.hwnd)
	if c.wdc == 0 {
		return fmt.Errorf("GetDC failed")
	}
	c.mdc = win.CreateCompatibleDC(c.wdc)
	if c.mdc == 0 {
		c.release()
		return fmt.Errorf("CreateCompatibleDC failed")
	}
	c.bmp = win.CreateCompatibleBitmap(c.wdc, int32(w), int32(h))
	if c.bmp == 0 {
		c.release()
		return fmt.Errorf("CreateCompatibleBitmap failed")
	}
	win.SelectObject(c.mdc, win.HGDIOBJ(c.bmp))
	c.width, c.height = w, h
	c.buf = make([]byte, w*h*4)

	logger.WithComponent("win32-capturer").Debug().
		Int("width", w).
		Int("height", h).
		Str("buffer", logger.Size(len(c.buf))).
		Msg("Capture surfaces allocated")
	return nil
}

func (c *Win32Capturer) release() {
	if c.bmp != 0 {
		win.DeleteObject(win.HGDIOBJ(c.bmp))
		c.bmp = 0
	}
	if c.mdc != 0 {
		win.DeleteDC(c.mdc)
		c.mdc = 0
	}
	if c.wdc != 0 {
		win.ReleaseDC(c.hwnd, c.wdc)
		c.wdc = 0
	}
	c.width, c.height = 0, 0
}

// Reset drops the cached DCs and bitmap.
func (c *Win32Capturer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release()
}

// Close releases all GDI handles.
func (c *Win32Capturer) Close() error {
	c.Reset()
	return nil
}
