// Package composite merges the live frame, the selected snapshot and the
// A/B comparison overlays into the frame that is shown to the user.
package composite

import (
	"image"
	"image/draw"

	"golang.org/x/image/vector"
)

// Composite blends up to four layers.
//
// The canvas is as large as the largest input; every layer is centered,
// never stretched. The base is selection if set, otherwise live. When both a
// and b are set, a is drawn left of the divider and b right of it. The
// returned flag is true exactly when the divider is in effect.
func Composite(live, selection, a, b *image.RGBA, d Divider) (*image.RGBA, bool) {
	w, h := canvasSize(live, selection, a, b)
	if w == 0 || h == 0 {
		return nil, false
	}
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))

	base := live
	if selection != nil {
		base = selection
	}
	if base != nil {
		draw.Draw(canvas, centered(base, w, h), base, base.Bounds().Min, draw.Src)
	}

	if a == nil || b == nil {
		return canvas, false
	}

	left := d.Mask(w, h)
	right := invert(left)
	draw.DrawMask(canvas, centered(a, w, h), a, a.Bounds().Min, left, centered(a, w, h).Min, draw.Over)
	draw.DrawMask(canvas, centered(b, w, h), b, b.Bounds().Min, right, centered(b, w, h).Min, draw.Over)
	return canvas, true
}

func canvasSize(imgs ...*image.RGBA) (int, int) {
	var w, h int
	for _, img := range imgs {
		if img == nil {
			continue
		}
		b := img.Bounds()
		if b.Dx() > w {
			w = b.Dx()
		}
		if b.Dy() > h {
			h = b.Dy()
		}
	}
	return w, h
}

// centered returns the canvas rectangle img occupies when centered.
func centered(img *image.RGBA, w, h int) image.Rectangle {
	b := img.Bounds()
	x := (w - b.Dx()) / 2
	y := (h - b.Dy()) / 2
	return image.Rect(x, y, x+b.Dx(), y+b.Dy())
}

// Divider is the vertical split between overlay A and overlay B. Offset is
// measured in canvas pixels from the horizontal center.
type Divider struct {
	Offset float64
}

// X returns the divider's canvas x coordinate for a canvas of width w.
func (d Divider) X(w int) float64 {
	return float64(w)/2 + d.Offset
}

// Endpoints returns the divider's two points in canvas space. It spans the
// full canvas height.
func (d Divider) Endpoints(w, h int) (image.Point, image.Point) {
	x := int(d.X(w) + 0.5)
	return image.Pt(x, 0), image.Pt(x, h)
}

// Drag moves the divider horizontally by dx, keeping it inside a canvas of
// width w.
func (d Divider) Drag(dx float64, w int) Divider {
	return Divider{Offset: clampOffset(d.Offset+dx, w)}
}

// MoveTo places the divider at canvas x, clamped to the canvas.
func (d Divider) MoveTo(x float64, w int) Divider {
	return Divider{Offset: clampOffset(x-float64(w)/2, w)}
}

func clampOffset(off float64, w int) float64 {
	half := float64(w) / 2
	if off < -half {
		return -half
	}
	if off > half {
		return half
	}
	return off
}

// Mask rasterizes the region left of the divider: the polygon through the
// top-left corner, both divider endpoints and the bottom-left corner.
func (d Divider) Mask(w, h int) *image.Alpha {
	p1, p2 := d.Endpoints(w, h)

	z := vector.NewRasterizer(w, h)
	z.MoveTo(0, 0)
	z.LineTo(float32(p1.X), float32(p1.Y))
	z.LineTo(float32(p2.X), float32(p2.Y))
	z.LineTo(0, float32(h))
	z.ClosePath()

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// invert returns the complement of m.
func invert(m *image.Alpha) *image.Alpha {
	out := image.NewAlpha(m.Bounds())
	for i, a := range m.Pix {
		out.Pix[i] = 255 - a
	}
	return out
}
