package composite

import (
	"image"

	"github.com/bryanchriswhite/renderview/internal/frame"
)

// State is everything a composite depends on. It belongs to the UI task.
type State struct {
	Live      *frame.Frame
	Selection *frame.Frame
	A         *frame.Frame
	B         *frame.Frame
	Divider   Divider

	cached  *image.RGBA
	visible bool
	key     stateKey
	valid   bool
}

type stateKey struct {
	live, selection, a, b layerKey
	divider               float64
}

type layerKey struct {
	sum  uint64
	w, h int
	set  bool
}

func keyOf(f *frame.Frame) layerKey {
	if f == nil || f.Image == nil {
		return layerKey{}
	}
	return layerKey{sum: f.Sum, w: f.Width(), h: f.Height(), set: true}
}

func (s *State) currentKey() stateKey {
	k := stateKey{
		live:      keyOf(s.Live),
		selection: keyOf(s.Selection),
		a:         keyOf(s.A),
		b:         keyOf(s.B),
	}
	// The divider only matters while both overlays are shown.
	if k.a.set && k.b.set {
		k.divider = s.Divider.Offset
	}
	return k
}

// Dirty reports whether Render would produce a different image than last
// time.
func (s *State) Dirty() bool {
	return !s.valid || s.currentKey() != s.key
}

// Render composites the current layers. Identical inputs return the
// previously built image; callers must treat it as read-only.
func (s *State) Render() (*image.RGBA, bool) {
	k := s.currentKey()
	if s.valid && k == s.key {
		return s.cached, s.visible
	}

	s.cached, s.visible = Composite(img(s.Live), img(s.Selection), img(s.A), img(s.B), s.Divider)
	s.key = k
	s.valid = true
	return s.cached, s.visible
}

// DividerVisible reports whether both comparison overlays are set.
func (s *State) DividerVisible() bool {
	return s.A != nil && s.B != nil
}

// CanvasSize returns the size of the next composite.
func (s *State) CanvasSize() (int, int) {
	return canvasSize(img(s.Live), img(s.Selection), img(s.A), img(s.B))
}

func img(f *frame.Frame) *image.RGBA {
	if f == nil {
		return nil
	}
	return f.Image
}
