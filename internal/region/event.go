// Package region turns pointer input over the displayed image into render
// region selections. It does not depend on any windowing toolkit: surfaces
// translate their native events into Event values.
package region

import "fmt"

// Kind is the type of an input event.
type Kind int

const (
	Press Kind = iota + 1
	Release
	Motion
	Wheel
	Key
)

func (k Kind) String() string {
	switch k {
	case Press:
		return "press"
	case Release:
		return "release"
	case Motion:
		return "motion"
	case Wheel:
		return "wheel"
	case Key:
		return "key"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Button identifies a pointer button.
type Button int

const (
	NoButton Button = iota
	Left
	Middle
	Right
)

// Key names understood by the viewer.
const (
	KeyLeft   = "Left"
	KeyRight  = "Right"
	KeyDelete = "Delete"
	KeyEscape = "Escape"
)

// Event is a normalized input event in surface (widget) pixels.
type Event struct {
	Kind   Kind    `json:"kind"`
	Button Button  `json:"button,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	// Delta is the number of wheel notches; positive zooms in.
	Delta int    `json:"delta,omitempty"`
	Key   string `json:"key,omitempty"`
}

// Point is a position in image pixels.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned rectangle in image pixels. Min and Max are not
// necessarily ordered until Normalize is called.
type Rect struct {
	Min, Max Point
}

// Normalize orders the corners so Min is the top-left.
func (r Rect) Normalize() Rect {
	if r.Min.X > r.Max.X {
		r.Min.X, r.Max.X = r.Max.X, r.Min.X
	}
	if r.Min.Y > r.Max.Y {
		r.Min.Y, r.Max.Y = r.Max.Y, r.Min.Y
	}
	return r
}

// Intersect clips r to o. Both must be normalized.
func (r Rect) Intersect(o Rect) Rect {
	return Rect{
		Min: Point{X: max(r.Min.X, o.Min.X), Y: max(r.Min.Y, o.Min.Y)},
		Max: Point{X: min(r.Max.X, o.Max.X), Y: min(r.Max.Y, o.Max.Y)},
	}
}

// Empty reports whether r has no positive area.
func (r Rect) Empty() bool {
	return !(r.Min.X < r.Max.X && r.Min.Y < r.Max.Y)
}

// Dx returns the width.
func (r Rect) Dx() float64 { return r.Max.X - r.Min.X }

// Dy returns the height.
func (r Rect) Dy() float64 { return r.Max.Y - r.Min.Y }
