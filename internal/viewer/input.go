package viewer

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/renderview/internal/gallery"
	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/region"
)

// handleEvent routes one input event. view maps event positions to image
// pixels; remote events arrive in image pixels and never zoom or pan the
// local view.
func (s *Session) handleEvent(ev region.Event, view *region.View, remote bool) {
	iw, ih := s.comp.CanvasSize()

	if s.selector.Handle(ev, view, iw, ih) {
		s.dirty = true
		return
	}
	if ev.Kind == region.Key {
		s.handleKey(ev.Key)
		return
	}

	// Divider drags take precedence over starting a pan.
	lineX := s.comp.Divider.X(iw)
	if dx, ok := s.grab.Handle(ev, view, lineX, s.comp.DividerVisible()); ok {
		if dx != 0 {
			s.comp.Divider = s.comp.Divider.Drag(dx, iw)
		}
		s.dirty = true
		return
	}

	if !remote && view.Handle(ev) {
		s.dirty = true
	}
}

// handleKey implements the viewer's keyboard shortcuts.
func (s *Session) handleKey(key string) {
	log := logger.WithComponent("viewer")
	var err error

	switch key {
	case region.KeyLeft:
		err = s.navigate(-1)
	case region.KeyRight:
		err = s.navigate(1)
	case region.KeyDelete:
		err = s.removeCurrent()
	case region.KeyEscape:
		s.gallery.ClearSelection()
		s.syncLayers()
	case "r":
		s.selector.Arm()
	case "s":
		_, err = s.takeSnapshot("")
	case "a":
		err = s.assignCurrent(gallery.RoleA)
	case "b":
		err = s.assignCurrent(gallery.RoleB)
	case "x":
		s.gallery.UnsetRole(gallery.RoleA)
		s.gallery.UnsetRole(gallery.RoleB)
		s.syncLayers()
	case "f":
		s.fit("window")
	case "1":
		s.fit("1:1")
	case "p":
		err = s.saveComposite("")
	default:
		return
	}
	s.dirty = true

	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Key action failed")
	}
}

func (s *Session) removeCurrent() error {
	i := s.gallery.Current()
	if i < 0 {
		return fmt.Errorf("failed to delete snapshot: %w", gallery.ErrNoSnapshot)
	}
	if err := s.gallery.Remove(i); err != nil {
		return err
	}
	s.syncLayers()
	return nil
}

func (s *Session) assignCurrent(role gallery.Role) error {
	i := s.gallery.Current()
	if i < 0 {
		return fmt.Errorf("failed to set role %s: %w", role, gallery.ErrNoSnapshot)
	}
	if err := s.gallery.SetRole(i, role); err != nil {
		return err
	}
	s.syncLayers()
	return nil
}

// saveComposite writes the current composite as PNG. An empty path picks a
// timestamped name in the working directory.
func (s *Session) saveComposite(path string) error {
	img, _ := s.comp.Render()
	if img == nil {
		return fmt.Errorf("failed to save composite: nothing captured yet")
	}
	if path == "" {
		path = filepath.Join(".", "renderview-"+time.Now().Format("20060102-150405")+".png")
	}
	return gallery.SavePNG(path, img)
}

// syncLayers copies the gallery's preview and roles into the composite.
func (s *Session) syncLayers() {
	s.comp.Selection = nil
	if snap, ok := s.gallery.Selected(); ok {
		s.comp.Selection = snap.Frame
	}
	s.comp.A = nil
	if snap, ok := s.gallery.Role(gallery.RoleA); ok {
		s.comp.A = snap.Frame
	}
	s.comp.B = nil
	if snap, ok := s.gallery.Role(gallery.RoleB); ok {
		s.comp.B = snap.Frame
	}
	s.dirty = true
}

// fit resets the view: "1:1" shows one image pixel per device pixel,
// "window" scales the image to the surface.
func (s *Session) fit(mode string) {
	iw, ih := s.comp.CanvasSize()
	sw, sh := s.surfaceSize()
	switch mode {
	case "window":
		s.view.FitWindow(sw, sh, iw, ih)
	default:
		s.view.Fit1to1(s.opts.DevicePixelRatio, sw, sh, iw, ih)
	}
	s.dirty = true
}

func (s *Session) surfaceSize() (int, int) {
	if s.deps.Surface != nil {
		return s.deps.Surface.Size()
	}
	return s.comp.CanvasSize()
}
