package host

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/bryanchriswhite/renderview/internal/display"
	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/overlay"
	"github.com/bryanchriswhite/renderview/internal/protocol"
)

// ErrNoViewport is returned by scene operations that need an open viewport.
var ErrNoViewport = errors.New("viewport not open")

var borderColor = color.RGBA{255, 80, 40, 255}

// SurfaceFactory opens a window. display.NewSurface is the default.
type SurfaceFactory func(title string, width, height int) (display.Surface, error)

// DemoScene stands in for a content-creation tool. Its viewport is a
// plain window with an animated test pattern; the render border and the
// camera state are drawn into it so a viewer capture shows them.
type DemoScene struct {
	title      string
	newSurface SurfaceFactory
	interval   time.Duration

	mu      sync.Mutex
	res     protocol.Resolution
	surface display.Surface
	border  *protocol.Region
	aligned int
	stop    chan struct{}
	done    chan struct{}
	label   *overlay.TextWidget
}

// NewDemoScene creates a scene whose viewport window is titled title.
func NewDemoScene(title string, res protocol.Resolution, newSurface SurfaceFactory) *DemoScene {
	if newSurface == nil {
		newSurface = display.NewSurface
	}
	label := overlay.NewTextWidget("scene-label", 8, 8)
	bg := overlay.StatusBackground
	label.SetBackground(&bg)
	return &DemoScene{
		title:      title,
		newSurface: newSurface,
		interval:   100 * time.Millisecond,
		res:        res,
		label:      label,
	}
}

// Resolution implements Scene.
func (s *DemoScene) Resolution() protocol.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

// SetResolution changes the render resolution; the controller's watch
// picks it up.
func (s *DemoScene) SetResolution(res protocol.Resolution) error {
	if !res.Valid() {
		return fmt.Errorf("invalid resolution %s", res)
	}
	s.mu.Lock()
	s.res = res
	s.mu.Unlock()
	return nil
}

// Border returns the last applied render border.
func (s *DemoScene) Border() (protocol.Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.border == nil {
		return protocol.Region{}, false
	}
	return *s.border, true
}

// CreateViewport implements Scene.
func (s *DemoScene) CreateViewport() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.surface != nil {
		return nil
	}
	w, h := s.res.Scaled()
	surface, err := s.newSurface(s.title, w/2, h/2)
	if err != nil {
		return fmt.Errorf("failed to open viewport window: %w", err)
	}
	s.surface = surface
	s.aligned = 0
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.paint(surface, s.stop, s.done)

	logger.WithComponent("scene").Info().Str("title", s.title).Msg("Viewport opened")
	return nil
}

// CloseViewport implements Scene.
func (s *DemoScene) CloseViewport() error {
	s.mu.Lock()
	surface, stop, done := s.surface, s.stop, s.done
	s.surface = nil
	s.mu.Unlock()

	if surface == nil {
		return nil
	}
	close(stop)
	<-done
	logger.WithComponent("scene").Info().Msg("Viewport closed")
	return surface.Close()
}

// AlignCamera implements Scene.
func (s *DemoScene) AlignCamera() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.surface == nil {
		return ErrNoViewport
	}
	s.aligned++
	return nil
}

// Aligned returns how many times the camera was aligned since the viewport
// opened.
func (s *DemoScene) Aligned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aligned
}

// SetRenderBorder implements Scene.
func (s *DemoScene) SetRenderBorder(r protocol.Region) error {
	if !r.Valid() {
		return fmt.Errorf("invalid render border %+v", r)
	}
	s.mu.Lock()
	s.border = &r
	s.mu.Unlock()
	logger.WithComponent("scene").Info().
		Float64("xmin", r.XMin).
		Float64("ymin", r.YMin).
		Float64("xmax", r.XMax).
		Float64("ymax", r.YMax).
		Msg("Render border set")
	return nil
}

func (s *DemoScene) paint(surface display.Surface, stop, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("scene")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var buf *image.RGBA
	for tick := 0; ; tick++ {
		select {
		case <-stop:
			return
		case <-surface.Closed():
			return
		case <-surface.Events():
			continue
		case <-ticker.C:
		}

		w, h := surface.Size()
		if w <= 0 || h <= 0 {
			continue
		}
		if buf == nil || buf.Bounds().Dx() != w || buf.Bounds().Dy() != h {
			buf = image.NewRGBA(image.Rect(0, 0, w, h))
		}
		s.render(buf, tick)
		if err := surface.Show(buf); err != nil {
			log.Debug().Err(err).Msg("Failed to paint viewport")
		}
	}
}

// render draws one frame of the test pattern.
func (s *DemoScene) render(img *image.RGBA, tick int) {
	s.mu.Lock()
	res, border, aligned := s.res, s.border, s.aligned
	s.mu.Unlock()

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	phase := float64(tick) * 0.05
	for y := 0; y < h; y++ {
		fy := float64(y) / float64(h)
		for x := 0; x < w; x++ {
			fx := float64(x) / float64(w)
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			img.Pix[i+0] = uint8(255 * fx)
			img.Pix[i+1] = uint8(255 * fy)
			img.Pix[i+2] = uint8(127 + 127*math.Sin(phase+6*(fx+fy)))
			img.Pix[i+3] = 255
		}
	}

	if border != nil {
		// Border fractions have a bottom-left origin.
		x0 := int(border.XMin * float64(w))
		x1 := int(border.XMax * float64(w))
		y0 := int((1 - border.YMax) * float64(h))
		y1 := int((1 - border.YMin) * float64(h))
		const t = 2
		overlay.DrawRectangle(img, x0, y0, x1-x0, t, borderColor, 1)
		overlay.DrawRectangle(img, x0, y1-t, x1-x0, t, borderColor, 1)
		overlay.DrawRectangle(img, x0, y0, t, y1-y0, borderColor, 1)
		overlay.DrawRectangle(img, x1-t, y0, t, y1-y0, borderColor, 1)
	}

	text := "render " + res.String()
	if aligned > 0 {
		text += "  camera aligned"
	}
	s.label.SetText(text)
	_ = s.label.Render(img)
}
