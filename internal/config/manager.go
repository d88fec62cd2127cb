package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// RENDERVIEW_CONTROL_PORT=42100.
const EnvPrefix = "RENDERVIEW"

// defaults mirrors Config. Durations are kept as strings so that a saved
// file stays human readable.
var defaults = map[string]interface{}{
	"log_level":                        "info",
	"log_pretty":                       true,
	"control.host":                     "127.0.0.1",
	"control.port":                     42069,
	"control.read_timeout":             "0s",
	"control.write_timeout":            "5s",
	"control.max_message_bytes":        64 * 1024,
	"viewport.title_pattern":           "Blender",
	"viewport.detect_timeout":          "30s",
	"viewport.poll_interval":           "250ms",
	"capture.max_consecutive_failures": 10,
	"capture.min_interval":             "0s",
	"gallery.max_snapshots":            64,
	"gallery.thumb_size":               200,
	"view.zoom_step":                   1.25,
	"view.device_pixel_ratio":          1.0,
	"preview.enabled":                  true,
	"preview.listen":                   "127.0.0.1:42070",
	"preview.fps":                      15,
	"preview.jpeg_quality":             85,
	"host.viewer_command":              "",
	"host.ready_timeout":               "5s",
	"host.align_delay":                 "500ms",
	"host.region_delay":                "500ms",
	"host.close_delay":                 "1s",
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	mu         sync.RWMutex
}

// NewManager creates a configuration manager backed by a private viper
// instance.
func NewManager(configFile string) (*Manager, error) {
	return NewManagerWithViper(configFile, viper.New())
}

// NewManagerWithViper creates a configuration manager on top of v, which may
// already carry bound command line flags.
func NewManagerWithViper(configFile string, v *viper.Viper) (*Manager, error) {
	path := configFile
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".config", "renderview", "config.yaml")
	}

	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.WithComponent("config").Warn().Err(err).Msg("Failed to load .env")
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: path,
		v:          v,
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
		logger.WithComponent("config").Info().
			Str("path", path).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", path).
		Msg("Config loaded")

	return m, nil
}

// Get decodes the current settings into a Config.
func (m *Manager) Get() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Set stores a single key. Call Save to persist it.
func (m *Manager) Set(key string, value interface{}) {
	m.mu.Lock()
	m.v.Set(key, value)
	m.mu.Unlock()
}

// Lookup returns the raw value of key and whether it is known.
func (m *Manager) Lookup(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.v.IsSet(key) {
		return nil, false
	}
	return m.v.Get(key), true
}

// Save writes the effective settings to the config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	settings := m.v.AllSettings()
	m.mu.RUnlock()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("size", logger.Size(len(data))).
		Msg("Config saved")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Validate rejects settings the processes cannot run with.
func (c *Config) Validate() error {
	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		return fmt.Errorf("invalid control.port: %d", c.Control.Port)
	}
	if c.Control.MaxMessageBytes < 256 {
		return fmt.Errorf("control.max_message_bytes too small: %d", c.Control.MaxMessageBytes)
	}
	if c.Viewport.TitlePattern == "" {
		return fmt.Errorf("viewport.title_pattern must not be empty")
	}
	if c.Capture.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("capture.max_consecutive_failures must be positive")
	}
	if c.Gallery.MaxSnapshots <= 0 {
		return fmt.Errorf("gallery.max_snapshots must be positive")
	}
	if c.View.ZoomStep <= 1 {
		return fmt.Errorf("view.zoom_step must be greater than 1")
	}
	if c.View.DevicePixelRatio <= 0 {
		return fmt.Errorf("view.device_pixel_ratio must be positive")
	}
	return nil
}

// ControlAddr returns the host:port of the control channel.
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.Control.Host, c.Control.Port)
}
