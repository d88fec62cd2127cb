// Package window finds the host's viewport window, strips its chrome,
// sizes it to the render resolution and parks it off-screen where it stays
// capturable.
package window

import (
	"errors"
	"fmt"
)

var (
	// ErrWindowNotFound is returned when no viewport window appears within
	// the detection timeout, or when the target has gone away.
	ErrWindowNotFound = errors.New("viewport window not found")
	// ErrTargetActive is returned when detection runs a second time in the
	// same process.
	ErrTargetActive = errors.New("viewport target already active")
	// ErrNoTarget is returned by operations that need a detected target.
	ErrNoTarget = errors.New("no viewport target")
)

// Geometry is a window rectangle in screen pixels.
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Info describes a top-level window.
type Info struct {
	ID       uint64   `json:"id"`
	Title    string   `json:"title"`
	Class    string   `json:"class"`
	PID      int      `json:"pid"`
	Geometry Geometry `json:"geometry"`
}

func (i Info) String() string {
	return fmt.Sprintf("0x%x %q (%s)", i.ID, i.Title, i.Class)
}

// Target is the prepared viewport window.
type Target struct {
	ID             uint64 `json:"id"`
	Title          string `json:"title"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	ChromeStripped bool   `json:"chrome_stripped"`
}

// Backend is the platform window system.
type Backend interface {
	// ListWindows returns all top-level application windows.
	ListWindows() ([]Info, error)

	// Prepare strips the window's chrome, sizes its client area to
	// width x height and parks it at the bottom-right screen corner, shown
	// and unminimized.
	Prepare(info Info, width, height int) (Target, error)

	// Resize re-applies size and position to an existing target.
	Resize(t Target, width, height int) (Target, error)

	// IsAlive reports whether the target window still exists.
	IsAlive(t Target) bool

	// ScreenSize returns the size of the primary screen.
	ScreenSize() (int, int)

	Close() error

	// Name returns the backend name (e.g., "x11", "win32")
	Name() string
}

// ParkPosition returns where the window's top-left corner goes so that it
// is off the visible desktop but still on the screen.
func ParkPosition(screenW, screenH int) (int, int) {
	return screenW - 1, screenH - 1
}
