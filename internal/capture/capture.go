// Package capture samples the parked viewport window into frames.
package capture

import (
	"fmt"
	"image"
)

// Capturer grabs the contents of one window.
type Capturer interface {
	// Capture returns the current window contents.
	Capture() (*image.RGBA, error)

	// Reset drops any cached handles; the next Capture rebuilds them.
	Reset()

	// Close releases all resources.
	Close() error

	// Name returns a human-readable name for this capturer
	Name() string
}

// Failure is a single failed capture. The frame is skipped.
type Failure struct {
	Err         error
	Consecutive int
}

func (f *Failure) Error() string {
	return fmt.Sprintf("capture failed (%d in a row): %v", f.Consecutive, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// bgraToRGBA converts a tightly packed BGRX buffer into img, forcing
// opaque alpha. stride is the source row length in bytes.
func bgraToRGBA(img *image.RGBA, src []byte, stride int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		s := src[y*stride:]
		d := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			if i+3 >= len(s) {
				break
			}
			d[i] = s[i+2]
			d[i+1] = s[i+1]
			d[i+2] = s[i]
			d[i+3] = 255
		}
	}
}
