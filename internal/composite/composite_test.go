package composite

import (
	"bytes"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/bryanchriswhite/renderview/internal/frame"
)

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
	gray  = color.RGBA{128, 128, 128, 255}
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// gradient produces distinct pixel values so mixups are visible.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 7), uint8(y * 11), uint8(x + y), 255})
		}
	}
	return img
}

// TestCompositeIdempotent verifies identical inputs give byte-identical
// output, with and without the split.
func TestCompositeIdempotent(t *testing.T) {
	live := gradient(64, 48)
	sel := gradient(32, 32)
	a := solid(50, 40, red)
	b := solid(70, 30, blue)

	for _, d := range []Divider{{}, {Offset: -13.5}, {Offset: 20}} {
		first, v1 := Composite(live, sel, a, b, d)
		second, v2 := Composite(live, sel, a, b, d)
		if v1 != v2 || !bytes.Equal(first.Pix, second.Pix) {
			t.Fatalf("divider %+v: composite is not idempotent", d)
		}
	}
}

// TestSingleOverlayIsIgnored verifies that with only one of A/B set the
// output equals the plain base composite for any divider position and the
// divider stays hidden.
func TestSingleOverlayIsIgnored(t *testing.T) {
	live := gradient(40, 30)
	a := solid(40, 30, red)

	want, _ := Composite(live, nil, nil, nil, Divider{})
	for _, off := range []float64{-25, -20, -3.3, 0, 7, 20, 40} {
		d := Divider{Offset: off}
		for _, pair := range [][2]*image.RGBA{{a, nil}, {nil, a}} {
			got, visible := Composite(live, nil, pair[0], pair[1], d)
			if visible {
				t.Fatalf("offset %v: divider visible with a single overlay", off)
			}
			if !bytes.Equal(got.Pix, want.Pix) {
				t.Fatalf("offset %v: single overlay changed the output", off)
			}
		}
	}
}

// TestCanvasAndBaseSelection verifies the canvas takes the largest input
// and the selected snapshot replaces the live frame as base.
func TestCanvasAndBaseSelection(t *testing.T) {
	live := solid(4, 4, gray)
	sel := solid(2, 2, green)

	out, visible := Composite(live, sel, nil, nil, Divider{})
	if visible {
		t.Fatalf("divider visible without overlays")
	}
	if out.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("canvas = %v, want 4x4", out.Bounds())
	}
	if out.RGBAAt(1, 1) != green || out.RGBAAt(2, 2) != green {
		t.Fatalf("selection not centered")
	}
	if out.RGBAAt(0, 0).A != 0 {
		t.Fatalf("live frame must not show behind a selected snapshot, got %v", out.RGBAAt(0, 0))
	}

	wide := solid(6, 2, red)
	out, _ = Composite(live, nil, nil, nil, Divider{})
	out2, _ := Composite(live, wide, nil, nil, Divider{})
	if out.Bounds().Dx() != 4 || out2.Bounds() != image.Rect(0, 0, 6, 4) {
		t.Fatalf("canvas sizes = %v, %v", out.Bounds(), out2.Bounds())
	}
	if out2.RGBAAt(0, 1) != red || out2.RGBAAt(0, 0).A != 0 {
		t.Fatalf("wide selection not vertically centered")
	}
}

// TestSplitPlacesOverlaysEitherSide verifies A is left and B right of the
// divider and that dragging moves the seam.
func TestSplitPlacesOverlaysEitherSide(t *testing.T) {
	live := solid(10, 4, gray)
	a := solid(10, 4, red)
	b := solid(10, 4, blue)

	tests := []struct {
		offset float64
		seam   int
	}{
		{offset: 0, seam: 5},
		{offset: 2, seam: 7},
		{offset: -5, seam: 0},
		{offset: 5, seam: 10},
	}
	for _, tt := range tests {
		out, visible := Composite(live, nil, a, b, Divider{Offset: tt.offset})
		if !visible {
			t.Fatalf("offset %v: divider hidden with both overlays", tt.offset)
		}
		for x := 0; x < 10; x++ {
			want := blue
			if x < tt.seam {
				want = red
			}
			for y := 0; y < 4; y++ {
				if got := out.RGBAAt(x, y); got != want {
					t.Fatalf("offset %v: pixel (%d,%d) = %v, want %v", tt.offset, x, y, got, want)
				}
			}
		}
	}
}

// TestSplitCentersOverlaysIndependently verifies smaller overlays keep the
// base visible around them.
func TestSplitCentersOverlaysIndependently(t *testing.T) {
	live := solid(8, 8, gray)
	a := solid(4, 4, red)
	b := solid(2, 8, blue)

	out, _ := Composite(live, nil, a, b, Divider{})
	if out.RGBAAt(0, 0) != gray {
		t.Fatalf("corner = %v, want base", out.RGBAAt(0, 0))
	}
	if out.RGBAAt(2, 3) != red {
		t.Fatalf("A not centered: %v", out.RGBAAt(2, 3))
	}
	if out.RGBAAt(4, 0) != blue || out.RGBAAt(3, 0) != gray {
		t.Fatalf("B not centered or clipped: %v %v", out.RGBAAt(4, 0), out.RGBAAt(3, 0))
	}
	if out.RGBAAt(5, 3) != gray {
		t.Fatalf("A leaked right of divider: %v", out.RGBAAt(5, 3))
	}
}

// TestDividerDragClamps verifies the divider stays on the canvas.
func TestDividerDragClamps(t *testing.T) {
	d := Divider{}.Drag(500, 100)
	if d.Offset != 50 {
		t.Fatalf("Offset = %v, want 50", d.Offset)
	}
	d = d.Drag(-1000, 100)
	if d.Offset != -50 {
		t.Fatalf("Offset = %v, want -50", d.Offset)
	}
	if got := (Divider{}).MoveTo(75, 100); got.Offset != 25 {
		t.Fatalf("MoveTo offset = %v, want 25", got.Offset)
	}
	p1, p2 := Divider{Offset: 10}.Endpoints(100, 40)
	if p1 != image.Pt(60, 0) || p2 != image.Pt(60, 40) {
		t.Fatalf("Endpoints = %v %v", p1, p2)
	}
}

// TestStateCachesUntilInputsChange verifies Render reuses its result and
// that divider moves only matter while both overlays are set.
func TestStateCachesUntilInputsChange(t *testing.T) {
	now := time.Now()
	s := &State{Live: frame.New(gradient(16, 16), 1, now)}

	first, _ := s.Render()
	if s.Dirty() {
		t.Fatalf("state dirty right after render")
	}
	s.Live = frame.New(gradient(16, 16), 2, now)
	if s.Dirty() {
		t.Fatalf("identical pixels must not dirty the state")
	}
	again, _ := s.Render()
	if again != first {
		t.Fatalf("expected cached image")
	}

	s.Divider = Divider{Offset: 3}
	if s.Dirty() {
		t.Fatalf("divider without overlays must not dirty the state")
	}

	s.A = frame.New(solid(16, 16, red), 3, now)
	s.B = frame.New(solid(16, 16, blue), 4, now)
	if !s.Dirty() {
		t.Fatalf("setting overlays must dirty the state")
	}
	_, visible := s.Render()
	if !visible || !s.DividerVisible() {
		t.Fatalf("divider should be visible")
	}
	s.Divider = s.Divider.Drag(1, 16)
	if !s.Dirty() {
		t.Fatalf("divider drag must dirty the state")
	}
}
