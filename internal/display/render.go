// Package display puts the annotated composite on screen and turns the
// window's input into region events.
package display

import (
	"errors"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/bryanchriswhite/renderview/internal/region"
)

// ErrUnsupported is returned where no native surface exists. The viewer
// then runs with only the HTTP preview.
var ErrUnsupported = errors.New("display surface not supported on this platform")

// Background fills the area around the image.
var Background = color.RGBA{32, 32, 32, 255}

// Project draws src into dst through the view transform. Zoomed-in views
// use nearest-neighbor so individual pixels stay sharp.
func Project(dst, src *image.RGBA, v *region.View) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)
	if src == nil || src.Bounds().Empty() {
		return
	}

	sb := src.Bounds()
	// Aff3 maps source to destination pixels; src is drawn with its origin
	// at image (0,0).
	m := f64.Aff3{
		v.Scale, 0, v.TX - float64(sb.Min.X)*v.Scale,
		0, v.Scale, v.TY - float64(sb.Min.Y)*v.Scale,
	}

	var interp draw.Interpolator = draw.ApproxBiLinear
	if v.Scale >= 1 {
		interp = draw.NearestNeighbor
	}
	interp.Transform(dst, m, src, sb, draw.Over, nil)
}
