package viewer

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/bryanchriswhite/renderview/internal/api"
	"github.com/bryanchriswhite/renderview/internal/display"
	"github.com/bryanchriswhite/renderview/internal/frame"
	"github.com/bryanchriswhite/renderview/internal/logger"
)

// redraw rebuilds the annotated composite and hands it to the surface and
// the preview.
func (s *Session) redraw() {
	s.dirty = false
	log := logger.WithComponent("viewer")

	base, visible := s.comp.Render()
	if base == nil {
		return
	}
	w, _ := s.comp.CanvasSize()

	lineX := s.comp.Divider.X(w)
	s.divider.Set(lineX, visible)
	s.badges.Set(lineX, visible)
	if r, ok := s.selector.Live(); ok {
		s.selection.Set(image.Rect(
			int(math.Round(r.Min.X)), int(math.Round(r.Min.Y)),
			int(math.Round(r.Max.X)), int(math.Round(r.Max.Y)),
		), true)
	} else {
		s.selection.Set(image.Rectangle{}, false)
	}
	s.statusBar.SetText(s.statusLine())

	// Annotations go on a copy so the cached composite stays clean for
	// snapshots.
	s.annotated = frame.CloneRGBA(base)
	s.overlays.Render(s.annotated)

	if s.preview != nil && s.preview.IsRunning() {
		if err := s.preview.WriteFrame(s.annotated); err != nil {
			log.Debug().Err(err).Msg("Preview rejected frame")
		}
	}

	if s.deps.Surface != nil {
		sw, sh := s.deps.Surface.Size()
		if sw <= 0 || sh <= 0 {
			return
		}
		if s.screen == nil || s.screen.Bounds().Dx() != sw || s.screen.Bounds().Dy() != sh {
			s.screen = image.NewRGBA(image.Rect(0, 0, sw, sh))
		}
		display.Project(s.screen, s.annotated, s.view)
		if err := s.deps.Surface.Show(s.screen); err != nil {
			log.Warn().Err(err).Msg("Failed to show frame")
		}
	}
}

func (s *Session) statusLine() string {
	line := string(s.status.Get())
	if s.loop != nil {
		stats := s.loop.Stats()
		line += fmt.Sprintf("  frames %d", stats.Frames)
		if stats.Failures > 0 {
			line += fmt.Sprintf("  failures %d", stats.Failures)
		}
	}
	if st := s.selector.State().String(); st != "idle" {
		line += "  region: " + st
	}
	if snap, ok := s.gallery.Selected(); ok {
		line += "  " + snap.Name
	}
	return line
}

// startPreview starts the MJPEG output and the control API; both stop with
// ctx.
func (s *Session) startPreview(ctx context.Context) error {
	if err := s.preview.Start(); err != nil {
		return err
	}
	srv := api.NewServer(s, s.preview.StreamHandler(), s.preview.ViewerHandler())
	go func() {
		if err := srv.ListenAndServe(ctx, s.opts.PreviewListen); err != nil {
			logger.WithComponent("viewer").Warn().Err(err).Msg("Preview server stopped")
		}
	}()
	return nil
}
