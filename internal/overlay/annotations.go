package overlay

import (
	"image"
	"image/color"
	"math"
)

var (
	dividerColor   = color.RGBA{255, 255, 255, 255}
	bandColor      = color.RGBA{255, 255, 255, 255}
	selectionColor = color.RGBA{255, 200, 0, 255}
	badgeBg        = color.RGBA{0, 0, 0, 255}

	// StatusBackground is the box behind the status line.
	StatusBackground = color.RGBA{0, 0, 0, 160}
)

// DividerWidget draws the A/B split line and its grab band.
type DividerWidget struct {
	*BaseWidget
	x       float64
	band    int
	visible bool
}

// NewDividerWidget creates a hidden divider with a grab band of band
// pixels either side.
func NewDividerWidget(band int) *DividerWidget {
	return &DividerWidget{BaseWidget: NewBaseWidget("divider", 0, 0, 0.9), band: band}
}

// Type returns the widget type
func (w *DividerWidget) Type() string {
	return "divider"
}

// Set places the line at image x and shows or hides it.
func (w *DividerWidget) Set(x float64, visible bool) {
	w.x = x
	w.visible = visible
}

// Render draws the line and a faint band around it.
func (w *DividerWidget) Render(img *image.RGBA) error {
	if !w.visible {
		return nil
	}
	h := img.Bounds().Dy()
	x := int(math.Round(w.x))
	if w.band > 0 {
		DrawRectangle(img, x-w.band, 0, w.band*2, h, bandColor, 0.15)
	}
	DrawRectangle(img, x-1, 0, 2, h, dividerColor, w.opacity)
	return nil
}

// BadgeWidget labels the two halves of the split with their roles.
type BadgeWidget struct {
	*BaseWidget
	x       float64
	visible bool
}

// NewBadgeWidget creates hidden A/B badges.
func NewBadgeWidget() *BadgeWidget {
	return &BadgeWidget{BaseWidget: NewBaseWidget("badges", 0, 8, 0.85)}
}

// Type returns the widget type
func (w *BadgeWidget) Type() string {
	return "badges"
}

// Set places the badges either side of image x.
func (w *BadgeWidget) Set(x float64, visible bool) {
	w.x = x
	w.visible = visible
}

// Render draws "A" left and "B" right of the divider.
func (w *BadgeWidget) Render(img *image.RGBA) error {
	if !w.visible {
		return nil
	}
	bg := badgeBg
	x := int(math.Round(w.x))
	// Width of a one-letter basicfont label with padding 4.
	const labelW = 7 + 8
	drawLabel(img, "A", x-labelW-8, w.y, 4, 13, dividerColor, &bg, w.opacity)
	drawLabel(img, "B", x+8, w.y, 4, 13, dividerColor, &bg, w.opacity)
	return nil
}

// SelectionWidget draws the dashed outline of the region being dragged.
type SelectionWidget struct {
	*BaseWidget
	rect   image.Rectangle
	active bool
	dash   int
}

// NewSelectionWidget creates an inactive selection outline.
func NewSelectionWidget() *SelectionWidget {
	return &SelectionWidget{BaseWidget: NewBaseWidget("selection", 0, 0, 1.0), dash: 6}
}

// Type returns the widget type
func (w *SelectionWidget) Type() string {
	return "selection"
}

// Set shows r, in image pixels, or hides the outline.
func (w *SelectionWidget) Set(r image.Rectangle, active bool) {
	w.rect = r.Canon()
	w.active = active
}

// Render draws a one-pixel dashed rectangle.
func (w *SelectionWidget) Render(img *image.RGBA) error {
	if !w.active || w.rect.Empty() {
		return nil
	}
	r := w.rect
	c := selectionColor
	dash := max(w.dash, 1)
	on := func(i int) bool { return (i/dash)%2 == 0 }

	b := img.Bounds()
	set := func(x, y int) {
		if image.Pt(x, y).In(b) {
			img.SetRGBA(x, y, c)
		}
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		if on(x - r.Min.X) {
			set(x, r.Min.Y)
			set(x, r.Max.Y-1)
		}
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		if on(y - r.Min.Y) {
			set(r.Min.X, y)
			set(r.Max.X-1, y)
		}
	}
	return nil
}
