package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextWidget displays a line of text, optionally on a background box.
type TextWidget struct {
	*BaseWidget
	text      string
	fontSize  int
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
	padding   int
}

// NewTextWidget creates a white text widget at (x, y).
func NewTextWidget(id string, x, y int) *TextWidget {
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, x, y, 1.0),
		fontSize:   13, // basicfont size
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() || w.text == "" {
		return nil
	}
	drawLabel(img, w.text, w.x, w.y, w.padding, w.fontSize, w.textColor, w.bgColor, w.opacity)
	return nil
}

// drawLabel renders text with basicfont at (x, y), top-left of the box.
func drawLabel(img *image.RGBA, text string, x, y, padding, fontSize int, fg color.RGBA, bg *color.RGBA, opacity float64) image.Rectangle {
	face := basicfont.Face7x13
	widthPx := font.MeasureString(face, text).Ceil()
	box := image.Rect(x, y, x+widthPx+padding*2, y+fontSize+padding*2)

	if bg != nil {
		DrawRectangle(img, box.Min.X, box.Min.Y, box.Dx(), box.Dy(), *bg, opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, widthPx, fontSize))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(fontSize - face.Descent)},
	}
	d.DrawString(text)
	BlendImage(img, textImg, x+padding, y+padding, opacity)
	return box
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.text = text
}

// Text returns the current text
func (w *TextWidget) Text() string {
	return w.text
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.textColor = c
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.bgColor = c
}
