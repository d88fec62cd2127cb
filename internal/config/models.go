package config

import "time"

// Config represents the application configuration shared by the host and
// the viewer processes.
type Config struct {
	LogLevel  string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty bool   `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`

	Control  ControlConfig  `json:"control" yaml:"control" mapstructure:"control"`
	Viewport ViewportConfig `json:"viewport" yaml:"viewport" mapstructure:"viewport"`
	Capture  CaptureConfig  `json:"capture" yaml:"capture" mapstructure:"capture"`
	Gallery  GalleryConfig  `json:"gallery" yaml:"gallery" mapstructure:"gallery"`
	View     ViewConfig     `json:"view" yaml:"view" mapstructure:"view"`
	Preview  PreviewConfig  `json:"preview" yaml:"preview" mapstructure:"preview"`
	Host     HostConfig     `json:"host" yaml:"host" mapstructure:"host"`
}

// ControlConfig configures the localhost control channel.
type ControlConfig struct {
	Host            string        `json:"host" yaml:"host" mapstructure:"host"`
	Port            int           `json:"port" yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageBytes int           `json:"max_message_bytes" yaml:"max_message_bytes" mapstructure:"max_message_bytes"`
}

// ViewportConfig configures detection of the host's viewport window.
type ViewportConfig struct {
	TitlePattern  string        `json:"title_pattern" yaml:"title_pattern" mapstructure:"title_pattern"`
	DetectTimeout time.Duration `json:"detect_timeout" yaml:"detect_timeout" mapstructure:"detect_timeout"`
	PollInterval  time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
}

// CaptureConfig configures the capture loop.
type CaptureConfig struct {
	MaxConsecutiveFailures int           `json:"max_consecutive_failures" yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	MinInterval            time.Duration `json:"min_interval" yaml:"min_interval" mapstructure:"min_interval"`
}

// GalleryConfig bounds the snapshot gallery.
type GalleryConfig struct {
	MaxSnapshots int `json:"max_snapshots" yaml:"max_snapshots" mapstructure:"max_snapshots"`
	ThumbSize    int `json:"thumb_size" yaml:"thumb_size" mapstructure:"thumb_size"`
}

// ViewConfig holds zoom behaviour of the displayed image.
type ViewConfig struct {
	ZoomStep         float64 `json:"zoom_step" yaml:"zoom_step" mapstructure:"zoom_step"`
	DevicePixelRatio float64 `json:"device_pixel_ratio" yaml:"device_pixel_ratio" mapstructure:"device_pixel_ratio"`
}

// PreviewConfig configures the MJPEG preview and the local control API.
type PreviewConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Listen      string `json:"listen" yaml:"listen" mapstructure:"listen"`
	FPS         int    `json:"fps" yaml:"fps" mapstructure:"fps"`
	JPEGQuality int    `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
}

// HostConfig configures the reference host controller.
type HostConfig struct {
	// ViewerCommand is the executable launched as the viewer. Empty means
	// the current executable with the "viewer" subcommand.
	ViewerCommand string        `json:"viewer_command" yaml:"viewer_command" mapstructure:"viewer_command"`
	ReadyTimeout  time.Duration `json:"ready_timeout" yaml:"ready_timeout" mapstructure:"ready_timeout"`
	AlignDelay    time.Duration `json:"align_delay" yaml:"align_delay" mapstructure:"align_delay"`
	RegionDelay   time.Duration `json:"region_delay" yaml:"region_delay" mapstructure:"region_delay"`
	CloseDelay    time.Duration `json:"close_delay" yaml:"close_delay" mapstructure:"close_delay"`
}
