package viewer

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/renderview/internal/api"
	"github.com/bryanchriswhite/renderview/internal/frame"
	"github.com/bryanchriswhite/renderview/internal/gallery"
	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/region"
)

// Action is work posted to the UI task from another goroutine.
type Action struct {
	Name string
	Do   func(s *Session) error
	done chan error
}

func (a Action) run(s *Session) {
	err := a.Do(s)
	if err != nil {
		logger.WithComponent("viewer").Debug().Err(err).Str("action", a.Name).Msg("Action failed")
	}
	if a.done != nil {
		a.done <- err
	}
}

// Do runs fn on the UI task and waits for its result.
func (s *Session) Do(ctx context.Context, name string, fn func(s *Session) error) error {
	a := Action{Name: name, Do: fn, done: make(chan error, 1)}
	select {
	case s.actions <- a:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.finished:
		return ErrSessionClosed
	}
	select {
	case err := <-a.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.finished:
		return ErrSessionClosed
	}
}

// Post queues fn without waiting. It reports false once the session ended.
func (s *Session) Post(name string, fn func(s *Session) error) bool {
	select {
	case s.actions <- Action{Name: name, Do: fn}:
		return true
	case <-s.finished:
		return false
	}
}

var _ api.Controller = (*Session)(nil)

// Status implements api.Controller.
func (s *Session) Status(ctx context.Context) (api.Status, error) {
	var st api.Status
	err := s.Do(ctx, "status", func(s *Session) error {
		st = s.statusView()
		return nil
	})
	return st, err
}

func (s *Session) statusView() api.Status {
	st := api.Status{
		Status:         string(s.status.Get()),
		Selector:       s.selector.State().String(),
		DividerVisible: s.comp.DividerVisible(),
		DividerOffset:  s.comp.Divider.Offset,
		Snapshots:      s.gallery.Len(),
		Scale:          s.view.Scale,
	}
	if t, ok := s.monitor.Target(); ok {
		st.Target = fmt.Sprintf("0x%x %s", t.ID, t.Title)
		st.Width, st.Height = t.Width, t.Height
	}
	if s.loop != nil {
		stats := s.loop.Stats()
		st.Frames, st.Failures, st.Dropped = stats.Frames, stats.Failures, stats.Dropped
	}
	return st
}

// Gallery implements api.Controller.
func (s *Session) Gallery(ctx context.Context) ([]api.Snapshot, error) {
	var out []api.Snapshot
	err := s.Do(ctx, "gallery", func(s *Session) error {
		selected, hasSel := s.gallery.Selected()
		for _, snap := range s.gallery.Snapshots() {
			out = append(out, s.snapshotView(snap, hasSel && selected.ID == snap.ID))
		}
		return nil
	})
	return out, err
}

func (s *Session) snapshotView(snap *gallery.Snapshot, selected bool) api.Snapshot {
	v := api.Snapshot{
		ID:       snap.ID,
		Name:     snap.Name,
		Width:    snap.Frame.Width(),
		Height:   snap.Frame.Height(),
		TakenAt:  snap.TakenAt,
		Selected: selected,
	}
	for _, r := range s.gallery.RolesOf(snap.ID) {
		v.Roles = append(v.Roles, string(r))
	}
	return v
}

// TakeSnapshot implements api.Controller.
func (s *Session) TakeSnapshot(ctx context.Context, name string) (api.Snapshot, error) {
	var out api.Snapshot
	err := s.Do(ctx, "snapshot", func(s *Session) error {
		snap, err := s.takeSnapshot(name)
		if err != nil {
			return err
		}
		out = s.snapshotView(snap, false)
		return nil
	})
	return out, err
}

func (s *Session) takeSnapshot(name string) (*gallery.Snapshot, error) {
	img, _ := s.comp.Render()
	if img == nil {
		return nil, api.ErrNoImage
	}
	var seq uint64
	if s.comp.Live != nil {
		seq = s.comp.Live.Seq
	}
	snap, err := s.gallery.Add(frame.New(img, seq, time.Now()), name)
	if err != nil {
		return nil, err
	}
	s.syncLayers()
	return snap, nil
}

// RemoveSnapshot implements api.Controller.
func (s *Session) RemoveSnapshot(ctx context.Context, id uuid.UUID) error {
	return s.Do(ctx, "remove", func(s *Session) error {
		if err := s.gallery.RemoveID(id); err != nil {
			return err
		}
		s.syncLayers()
		return nil
	})
}

// ToggleSnapshot implements api.Controller.
func (s *Session) ToggleSnapshot(ctx context.Context, id uuid.UUID) error {
	return s.Do(ctx, "toggle", func(s *Session) error {
		i := s.gallery.IndexOf(id)
		if i < 0 {
			return fmt.Errorf("snapshot %s: %w", id, gallery.ErrNoSnapshot)
		}
		if err := s.gallery.Toggle(i); err != nil {
			return err
		}
		s.syncLayers()
		return nil
	})
}

// SetRole implements api.Controller.
func (s *Session) SetRole(ctx context.Context, role gallery.Role, id uuid.UUID) error {
	return s.Do(ctx, "set-role", func(s *Session) error {
		i := s.gallery.IndexOf(id)
		if i < 0 {
			return fmt.Errorf("snapshot %s: %w", id, gallery.ErrNoSnapshot)
		}
		if err := s.gallery.SetRole(i, role); err != nil {
			return err
		}
		s.syncLayers()
		return nil
	})
}

// UnsetRole implements api.Controller.
func (s *Session) UnsetRole(ctx context.Context, role gallery.Role) error {
	return s.Do(ctx, "unset-role", func(s *Session) error {
		s.gallery.UnsetRole(role)
		s.syncLayers()
		return nil
	})
}

// Navigate implements api.Controller.
func (s *Session) Navigate(ctx context.Context, delta int) error {
	return s.Do(ctx, "navigate", func(s *Session) error {
		return s.navigate(delta)
	})
}

func (s *Session) navigate(delta int) error {
	if _, err := s.gallery.Navigate(delta); err != nil {
		return err
	}
	s.syncLayers()
	return nil
}

// ArmRegion implements api.Controller.
func (s *Session) ArmRegion(ctx context.Context) error {
	return s.Do(ctx, "arm", func(s *Session) error {
		s.selector.Arm()
		s.dirty = true
		return nil
	})
}

// Fit implements api.Controller. mode is "1:1" or "window".
func (s *Session) Fit(ctx context.Context, mode string) error {
	return s.Do(ctx, "fit", func(s *Session) error {
		s.fit(mode)
		return nil
	})
}

// SetDivider implements api.Controller.
func (s *Session) SetDivider(ctx context.Context, offset float64) error {
	return s.Do(ctx, "divider", func(s *Session) error {
		w, _ := s.comp.CanvasSize()
		s.comp.Divider = s.comp.Divider.Drag(offset-s.comp.Divider.Offset, w)
		s.dirty = true
		return nil
	})
}

// CompositePNG implements api.Controller.
func (s *Session) CompositePNG(ctx context.Context, w io.Writer) error {
	var img *image.RGBA
	err := s.Do(ctx, "composite", func(s *Session) error {
		out, _ := s.comp.Render()
		if out == nil {
			return api.ErrNoImage
		}
		// Encoding happens off the UI task on a private copy.
		img = frame.CloneRGBA(out)
		return nil
	})
	if err != nil {
		return err
	}
	return gallery.WritePNG(w, img)
}

// SnapshotPNG implements api.Controller.
func (s *Session) SnapshotPNG(ctx context.Context, id uuid.UUID, w io.Writer) error {
	var snap *gallery.Snapshot
	err := s.Do(ctx, "snapshot-png", func(s *Session) error {
		var err error
		snap, err = s.gallery.Get(id)
		return err
	})
	if err != nil {
		return err
	}
	// Snapshot frames are never modified after Add.
	return gallery.WritePNG(w, snap.Frame.Image)
}

// Input implements api.Controller. ev is in composite image pixels.
func (s *Session) Input(ev region.Event) {
	s.Post("input", func(s *Session) error {
		s.handleEvent(ev, s.imageView, true)
		return nil
	})
}
