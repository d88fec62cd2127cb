//go:build windows

package window

// NewDefaultBackend returns the backend for this platform.
func NewDefaultBackend() (Backend, error) {
	return NewWin32Backend()
}
