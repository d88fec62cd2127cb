//go:build !windows

package display

// NewSurface opens the viewer window.
func NewSurface(title string, width, height int) (Surface, error) {
	return NewX11Surface(title, width, height)
}
