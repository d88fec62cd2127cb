package region

import "math"

// DefaultZoomStep is the zoom factor of one wheel notch.
const DefaultZoomStep = 1.25

// View maps image pixels to surface pixels: surface = image*Scale + T.
// It also tracks middle-button panning.
type View struct {
	Scale    float64
	TX, TY   float64
	ZoomStep float64

	panning      bool
	lastX, lastY float64
}

// NewView returns an identity view.
func NewView(zoomStep float64) *View {
	if zoomStep <= 1 {
		zoomStep = DefaultZoomStep
	}
	return &View{Scale: 1, ZoomStep: zoomStep}
}

// ToImage converts a surface position to image pixels.
func (v *View) ToImage(x, y float64) Point {
	return Point{X: (x - v.TX) / v.Scale, Y: (y - v.TY) / v.Scale}
}

// ToSurface converts an image position to surface pixels.
func (v *View) ToSurface(p Point) (float64, float64) {
	return p.X*v.Scale + v.TX, p.Y*v.Scale + v.TY
}

// ZoomAt scales by factor keeping the image point under (x, y) fixed.
func (v *View) ZoomAt(x, y, factor float64) {
	if factor <= 0 {
		return
	}
	anchor := v.ToImage(x, y)
	v.Scale *= factor
	v.TX = x - anchor.X*v.Scale
	v.TY = y - anchor.Y*v.Scale
}

// Pan shifts the view by a surface delta.
func (v *View) Pan(dx, dy float64) {
	v.TX += dx
	v.TY += dy
}

// Fit1to1 shows the image at one image pixel per physical pixel, centered
// in a surface of sw x sh logical pixels.
func (v *View) Fit1to1(dpr float64, sw, sh, iw, ih int) {
	if dpr <= 0 {
		dpr = 1
	}
	v.Scale = 1 / dpr
	v.center(sw, sh, iw, ih)
}

// FitWindow scales the image to fit the surface, keeping its aspect ratio.
func (v *View) FitWindow(sw, sh, iw, ih int) {
	if iw <= 0 || ih <= 0 || sw <= 0 || sh <= 0 {
		return
	}
	v.Scale = math.Min(float64(sw)/float64(iw), float64(sh)/float64(ih))
	v.center(sw, sh, iw, ih)
}

func (v *View) center(sw, sh, iw, ih int) {
	v.TX = (float64(sw) - float64(iw)*v.Scale) / 2
	v.TY = (float64(sh) - float64(ih)*v.Scale) / 2
}

// Handle applies wheel zoom and middle-button panning. It reports whether
// the event was consumed.
func (v *View) Handle(ev Event) bool {
	switch ev.Kind {
	case Wheel:
		if ev.Delta == 0 {
			return false
		}
		v.ZoomAt(ev.X, ev.Y, math.Pow(v.ZoomStep, float64(ev.Delta)))
		return true
	case Press:
		if ev.Button != Middle {
			return false
		}
		v.panning = true
		v.lastX, v.lastY = ev.X, ev.Y
		return true
	case Motion:
		if !v.panning {
			return false
		}
		v.Pan(ev.X-v.lastX, ev.Y-v.lastY)
		v.lastX, v.lastY = ev.X, ev.Y
		return true
	case Release:
		if ev.Button != Middle || !v.panning {
			return false
		}
		v.panning = false
		return true
	}
	return false
}

// Panning reports whether a middle-button drag is in progress.
func (v *View) Panning() bool {
	return v.panning
}
