//go:build windows

package display

// NewSurface returns ErrUnsupported; on Windows the viewer is driven
// through the HTTP preview.
func NewSurface(title string, width, height int) (Surface, error) {
	return nil, ErrUnsupported
}
