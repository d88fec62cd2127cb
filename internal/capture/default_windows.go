//go:build windows

package capture

import "github.com/bryanchriswhite/renderview/internal/window"

// NewCapturer returns the capturer for this platform.
func NewCapturer(t window.Target) (Capturer, error) {
	return NewWin32Capturer(t)
}
