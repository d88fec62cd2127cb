package display

import (
	"image"

	"github.com/bryanchriswhite/renderview/internal/region"
)

// Surface is an on-screen window the viewer draws into.
type Surface interface {
	// Size returns the drawable size in pixels.
	Size() (int, int)
	// Show displays img, sized to Size.
	Show(img *image.RGBA) error
	// Events delivers input in surface coordinates.
	Events() <-chan region.Event
	// Closed is closed when the user closes the window.
	Closed() <-chan struct{}
	Close() error
}
