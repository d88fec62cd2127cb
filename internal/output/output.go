// Package output publishes the viewer's annotated composite outside the
// viewer window.
package output

import (
	"image"
)

// Output receives every displayed frame.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame hands over a frame. The output may keep img, so callers
	// must not modify it afterwards.
	WriteFrame(img *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	FPS     int
	Quality int
}

const (
	DefaultFPS     = 15
	DefaultQuality = 85
)

func (c Config) withDefaults() Config {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = DefaultQuality
	}
	return c
}
