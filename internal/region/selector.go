package region

import (
	"fmt"

	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/protocol"
)

// State is the selector's position in the drawing cycle.
type State int

const (
	Idle State = iota
	Armed
	Dragging
	PendingCommit
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Dragging:
		return "dragging"
	case PendingCommit:
		return "pending-commit"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Sink receives committed selections.
type Sink interface {
	SendRegion(protocol.Region) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(protocol.Region) error

// SendRegion implements Sink.
func (f SinkFunc) SendRegion(r protocol.Region) error { return f(r) }

// Selector draws a render region with the left button. A press only starts
// a selection after Arm, so ordinary clicks never select.
type Selector struct {
	state State
	start Point
	cur   Point
	sink  Sink

	last    protocol.Region
	hasLast bool
}

// NewSelector creates an idle selector sending commits to sink.
func NewSelector(sink Sink) *Selector {
	return &Selector{sink: sink}
}

// State returns the current state.
func (s *Selector) State() State {
	return s.state
}

// Arm makes the next left press start a selection.
func (s *Selector) Arm() {
	if s.state == Idle {
		s.state = Armed
	}
}

// Cancel abandons an armed or in-progress selection.
func (s *Selector) Cancel() {
	s.state = Idle
}

// Live returns the rectangle being dragged, in image pixels.
func (s *Selector) Live() (Rect, bool) {
	if s.state != Dragging {
		return Rect{}, false
	}
	return Rect{Min: s.start, Max: s.cur}.Normalize(), true
}

// Last returns the most recently committed region.
func (s *Selector) Last() (protocol.Region, bool) {
	return s.last, s.hasLast
}

// Handle feeds one event. view converts surface positions to image pixels;
// iw and ih are the displayed image size. It reports whether the event was
// consumed.
func (s *Selector) Handle(ev Event, view *View, iw, ih int) bool {
	if ev.Kind == Key && ev.Key == KeyEscape && s.state != Idle {
		s.Cancel()
		return true
	}

	switch s.state {
	case Armed:
		if ev.Kind == Press && ev.Button == Left {
			p := view.ToImage(ev.X, ev.Y)
			s.start, s.cur = p, p
			s.state = Dragging
			return true
		}
	case Dragging:
		switch ev.Kind {
		case Motion:
			s.cur = view.ToImage(ev.X, ev.Y)
			return true
		case Release:
			if ev.Button != Left {
				return false
			}
			s.cur = view.ToImage(ev.X, ev.Y)
			s.state = PendingCommit
			s.commit(iw, ih)
			return true
		}
	}
	return false
}

// commit normalizes and clips the drag to the image, then sends it. An
// empty intersection sends nothing.
func (s *Selector) commit(iw, ih int) {
	defer func() { s.state = Idle }()

	r, ok := Normalized(Rect{Min: s.start, Max: s.cur}, iw, ih)
	if !ok {
		logger.WithComponent("region").Debug().Msg("Selection outside image, ignored")
		return
	}

	s.last, s.hasLast = r, true
	if s.sink == nil {
		return
	}
	if err := s.sink.SendRegion(r); err != nil {
		logger.WithComponent("region").Warn().Err(err).Msg("Failed to send render region")
	}
}

// Normalized converts a drag rectangle in image pixels to fractions of an
// iw x ih image with a bottom-left origin. It returns false when the drag
// does not overlap the image.
func Normalized(drag Rect, iw, ih int) (protocol.Region, bool) {
	if iw <= 0 || ih <= 0 {
		return protocol.Region{}, false
	}
	w, h := float64(iw), float64(ih)
	bounds := Rect{Max: Point{X: w, Y: h}}
	r := drag.Normalize().Intersect(bounds)
	if r.Empty() {
		return protocol.Region{}, false
	}
	return protocol.Region{
		XMin: r.Min.X / w,
		XMax: r.Max.X / w,
		YMin: (h - r.Max.Y) / h,
		YMax: (h - r.Min.Y) / h,
	}, true
}
