// Package gallery keeps the in-memory list of snapshots taken from the
// composite and tracks which of them is previewed and which hold the A/B
// comparison roles.
package gallery

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/renderview/internal/frame"
	"github.com/bryanchriswhite/renderview/internal/logger"
)

// Role is a comparison slot.
type Role string

const (
	RoleA Role = "A"
	RoleB Role = "B"
)

// ParseRole accepts "a", "A", "b" or "B".
func ParseRole(s string) (Role, error) {
	switch s {
	case "a", "A":
		return RoleA, nil
	case "b", "B":
		return RoleB, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

var (
	ErrNoSnapshot   = errors.New("no such snapshot")
	ErrEmptyGallery = errors.New("gallery is empty")
)

// Defaults used when a Gallery is built with zero options.
const (
	DefaultMaxSnapshots = 64
	DefaultThumbSize    = 200
)

// Snapshot is a frozen copy of the composite. Its ID never changes.
type Snapshot struct {
	ID      uuid.UUID
	Name    string
	Frame   *frame.Frame
	Thumb   *image.RGBA
	TakenAt time.Time
}

// Gallery is owned by the UI task and is not safe for concurrent use.
type Gallery struct {
	items     []*Snapshot
	max       int
	thumbSize int

	selected uuid.UUID
	roles    map[Role]uuid.UUID
}

// New creates an empty gallery holding at most max snapshots.
func New(max, thumbSize int) *Gallery {
	if max <= 0 {
		max = DefaultMaxSnapshots
	}
	if thumbSize <= 0 {
		thumbSize = DefaultThumbSize
	}
	return &Gallery{
		max:       max,
		thumbSize: thumbSize,
		roles:     make(map[Role]uuid.UUID),
	}
}

// Len returns the number of snapshots.
func (g *Gallery) Len() int {
	return len(g.items)
}

// Add stores a copy of f at the front of the gallery. When the gallery is
// full the oldest snapshot is dropped.
func (g *Gallery) Add(f *frame.Frame, name string) (*Snapshot, error) {
	if f == nil || f.Image == nil {
		return nil, fmt.Errorf("failed to add snapshot: no frame")
	}

	s := &Snapshot{
		ID:      uuid.New(),
		Frame:   f.Clone(),
		TakenAt: time.Now(),
	}
	s.Name = name
	if s.Name == "" {
		s.Name = "Snapshot " + s.TakenAt.Format("15:04:05")
	}
	s.Thumb = Thumbnail(s.Frame.Image, g.thumbSize)

	g.items = append([]*Snapshot{s}, g.items...)
	for len(g.items) > g.max {
		g.removeAt(len(g.items) - 1)
	}

	logger.WithComponent("gallery").Info().
		Str("id", s.ID.String()).
		Str("name", s.Name).
		Int("count", len(g.items)).
		Msg("Snapshot added")
	return s, nil
}

// Remove deletes the snapshot at index.
func (g *Gallery) Remove(index int) error {
	if index < 0 || index >= len(g.items) {
		return fmt.Errorf("failed to remove snapshot %d: %w", index, ErrNoSnapshot)
	}
	g.removeAt(index)
	return nil
}

// RemoveID deletes the snapshot with the given ID.
func (g *Gallery) RemoveID(id uuid.UUID) error {
	i := g.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("failed to remove snapshot %s: %w", id, ErrNoSnapshot)
	}
	g.removeAt(i)
	return nil
}

func (g *Gallery) removeAt(i int) {
	s := g.items[i]
	g.items = append(g.items[:i], g.items[i+1:]...)

	if g.selected == s.ID {
		g.selected = uuid.Nil
	}
	for r, id := range g.roles {
		if id == s.ID {
			delete(g.roles, r)
		}
	}
	logger.WithComponent("gallery").Debug().Str("id", s.ID.String()).Msg("Snapshot removed")
}

// IndexOf returns the index of id, or -1.
func (g *Gallery) IndexOf(id uuid.UUID) int {
	for i, s := range g.items {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// At returns the snapshot at index.
func (g *Gallery) At(index int) (*Snapshot, error) {
	if index < 0 || index >= len(g.items) {
		return nil, fmt.Errorf("snapshot %d: %w", index, ErrNoSnapshot)
	}
	return g.items[index], nil
}

// Get returns the snapshot with the given ID.
func (g *Gallery) Get(id uuid.UUID) (*Snapshot, error) {
	i := g.IndexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNoSnapshot)
	}
	return g.items[i], nil
}

// SetRole gives role to the snapshot at index, taking it from any previous
// holder.
func (g *Gallery) SetRole(index int, role Role) error {
	s, err := g.At(index)
	if err != nil {
		return fmt.Errorf("failed to set role %s: %w", role, err)
	}
	g.roles[role] = s.ID
	return nil
}

// UnsetRole clears role.
func (g *Gallery) UnsetRole(role Role) {
	delete(g.roles, role)
}

// Role returns the snapshot holding role.
func (g *Gallery) Role(role Role) (*Snapshot, bool) {
	id, ok := g.roles[role]
	if !ok {
		return nil, false
	}
	s, err := g.Get(id)
	return s, err == nil
}

// RolesOf returns the roles held by id.
func (g *Gallery) RolesOf(id uuid.UUID) []Role {
	var out []Role
	for _, r := range []Role{RoleA, RoleB} {
		if g.roles[r] == id && id != uuid.Nil {
			out = append(out, r)
		}
	}
	return out
}

// Toggle previews the snapshot at index, or clears the preview if it is
// already shown.
func (g *Gallery) Toggle(index int) error {
	s, err := g.At(index)
	if err != nil {
		return fmt.Errorf("failed to toggle snapshot: %w", err)
	}
	if g.selected == s.ID {
		g.selected = uuid.Nil
		return nil
	}
	g.selected = s.ID
	return nil
}

// ClearSelection returns the display to the live frame.
func (g *Gallery) ClearSelection() {
	g.selected = uuid.Nil
}

// Navigate moves the preview by delta, wrapping around. With nothing
// selected, +1 selects the first snapshot and -1 the last.
func (g *Gallery) Navigate(delta int) (*Snapshot, error) {
	n := len(g.items)
	if n == 0 {
		return nil, ErrEmptyGallery
	}

	cur := g.Current()
	if cur < 0 {
		cur = 0
		if delta > 0 {
			cur = -1
		}
	}
	next := ((cur+delta)%n + n) % n

	g.selected = g.items[next].ID
	return g.items[next], nil
}

// Current returns the index of the previewed snapshot, or -1.
func (g *Gallery) Current() int {
	if g.selected == uuid.Nil {
		return -1
	}
	return g.IndexOf(g.selected)
}

// Selected returns the previewed snapshot.
func (g *Gallery) Selected() (*Snapshot, bool) {
	i := g.Current()
	if i < 0 {
		return nil, false
	}
	return g.items[i], true
}

// Snapshots returns the snapshots, newest first. The slice is a copy; the
// snapshots themselves must not be modified.
func (g *Gallery) Snapshots() []*Snapshot {
	out := make([]*Snapshot, len(g.items))
	copy(out, g.items)
	return out
}
