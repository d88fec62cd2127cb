// Package protocol implements the control channel between the host
// application and the viewer: one JSON object per line over a loopback TCP
// connection.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is the wire unit. Every field is optional and any subset may
// appear together.
type Message struct {
	Status *Status `json:"status,omitempty"`

	ResolutionX          *int `json:"resolution_x,omitempty"`
	ResolutionY          *int `json:"resolution_y,omitempty"`
	ResolutionPercentage *int `json:"resolution_percentage,omitempty"`

	Resized Flag `json:"resized,omitempty"`

	RenderRegion Flag   `json:"render_region,omitempty"`
	XMin         *Coord `json:"xmin,omitempty"`
	YMin         *Coord `json:"ymin,omitempty"`
	XMax         *Coord `json:"xmax,omitempty"`
	YMax         *Coord `json:"ymax,omitempty"`

	RenderviewRunning jsoniter.RawMessage `json:"renderview_running,omitempty"`
}

// Resolution is the host's render resolution.
type Resolution struct {
	X          int `json:"x"`
	Y          int `json:"y"`
	Percentage int `json:"percentage"`
}

// Scaled returns the effective pixel size after applying Percentage.
func (r Resolution) Scaled() (int, int) {
	p := r.Percentage
	if p <= 0 {
		p = 100
	}
	return r.X * p / 100, r.Y * p / 100
}

// Valid reports whether r describes a non-empty image.
func (r Resolution) Valid() bool {
	w, h := r.Scaled()
	return w > 0 && h > 0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d@%d%%", r.X, r.Y, r.Percentage)
}

// Region is a render border in image fractions with a bottom-left origin.
type Region struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Valid reports whether the region lies in [0,1] and has positive area.
func (r Region) Valid() bool {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	return in(r.XMin) && in(r.YMin) && in(r.XMax) && in(r.YMax) &&
		r.XMin < r.XMax && r.YMin < r.YMax
}

// Flag is a boolean that accepts true, "true", 1 and "1" on the wire and is
// written as the string "true".
type Flag bool

// MarshalJSON implements json.Marshaler.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte(`"true"`), nil
	}
	return []byte(`"false"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		*f = true
	case "false", "0", "no", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag value %s", data)
	}
	return nil
}

// Coord is a region bound. It is written as a two-decimal string and read
// from either a string or a number.
type Coord float64

// MarshalJSON implements json.Marshaler.
func (c Coord) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatFloat(float64(c), 'f', 2, 64))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Coord) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid coordinate %s: %w", data, err)
	}
	*c = Coord(v)
	return nil
}

// StatusMessage builds {"status": s}.
func StatusMessage(s Status) Message {
	return Message{Status: &s}
}

// ResolutionMessage builds the resolution push sent by the host.
func ResolutionMessage(r Resolution) Message {
	x, y, p := r.X, r.Y, r.Percentage
	return Message{ResolutionX: &x, ResolutionY: &y, ResolutionPercentage: &p}
}

// ResizedMessage builds the viewer's resize acknowledgement.
func ResizedMessage() Message {
	return Message{Resized: true}
}

// RegionMessage builds a render_region message. Bounds are rounded to two
// decimals on the wire.
func RegionMessage(r Region) Message {
	xmin, ymin, xmax, ymax := Coord(r.XMin), Coord(r.YMin), Coord(r.XMax), Coord(r.YMax)
	return Message{RenderRegion: true, XMin: &xmin, YMin: &ymin, XMax: &xmax, YMax: &ymax}
}

// RunningMessage builds the host's "fit to 1:1" signal.
func RunningMessage() Message {
	return Message{RenderviewRunning: jsoniter.RawMessage(`"true"`)}
}

// Resolution extracts a complete resolution triple, if present.
func (m Message) Resolution() (Resolution, bool) {
	if m.ResolutionX == nil || m.ResolutionY == nil {
		return Resolution{}, false
	}
	r := Resolution{X: *m.ResolutionX, Y: *m.ResolutionY, Percentage: 100}
	if m.ResolutionPercentage != nil {
		r.Percentage = *m.ResolutionPercentage
	}
	return r, true
}

// Region extracts the render region if the message carries one with all
// four bounds.
func (m Message) Region() (Region, bool) {
	if !bool(m.RenderRegion) || m.XMin == nil || m.YMin == nil || m.XMax == nil || m.YMax == nil {
		return Region{}, false
	}
	return Region{
		XMin: float64(*m.XMin),
		YMin: float64(*m.YMin),
		XMax: float64(*m.XMax),
		YMax: float64(*m.YMax),
	}, true
}

// Running reports whether the renderview_running signal is present.
func (m Message) Running() bool {
	return len(m.RenderviewRunning) > 0 && string(m.RenderviewRunning) != "null"
}

// Empty reports whether the message carries no recognized field.
func (m Message) Empty() bool {
	_, hasRes := m.Resolution()
	return m.Status == nil && !hasRes && !bool(m.Resized) && !bool(m.RenderRegion) && !m.Running()
}
