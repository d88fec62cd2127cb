package region

import "math"

// DefaultGrabBand is the half-width in surface pixels around the divider
// that starts a drag.
const DefaultGrabBand = 6

// DividerGrab tracks a left-button drag of the A/B divider.
type DividerGrab struct {
	Band float64

	active bool
	lastX  float64
}

// Active reports whether a divider drag is in progress.
func (g *DividerGrab) Active() bool {
	return g.active
}

// Handle feeds one event. lineX is the divider position in image pixels and
// visible whether it is shown. It returns the drag delta in image pixels
// and whether the event was consumed.
func (g *DividerGrab) Handle(ev Event, view *View, lineX float64, visible bool) (float64, bool) {
	band := g.Band
	if band <= 0 {
		band = DefaultGrabBand
	}

	switch ev.Kind {
	case Press:
		if !visible || ev.Button != Left {
			return 0, false
		}
		sx, _ := view.ToSurface(Point{X: lineX})
		if math.Abs(ev.X-sx) > band {
			return 0, false
		}
		g.active = true
		g.lastX = view.ToImage(ev.X, ev.Y).X
		return 0, true
	case Motion:
		if !g.active {
			return 0, false
		}
		x := view.ToImage(ev.X, ev.Y).X
		dx := x - g.lastX
		g.lastX = x
		return dx, true
	case Release:
		if !g.active || ev.Button != Left {
			return 0, false
		}
		g.active = false
		return 0, true
	}
	return 0, false
}
