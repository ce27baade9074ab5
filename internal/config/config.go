// Package config loads the framebridged daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	LogLevel         string         `yaml:"log_level"`          // debug, info, warn, error
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"` // seconds
	StatsIntervalS   int            `yaml:"stats_interval_s"`   // 0 disables periodic stats
	HealthAddr       string         `yaml:"health_addr"`        // e.g. ":8080"; empty disables
	Capture          CaptureConfig  `yaml:"capture"`
	Engines          []EngineConfig `yaml:"engines"`
}

// CaptureConfig selects the capture driver and tunes every session.
type CaptureConfig struct {
	Driver          string         `yaml:"driver"` // synthetic or gstreamer
	QueueDepth      int            `yaml:"queue_depth"`
	Policy          string         `yaml:"policy"` // default, block-producer, keep-latest
	PreferredAspect float64        `yaml:"preferred_aspect"`
	FPS             int            `yaml:"fps"`
	Cameras         []CameraConfig `yaml:"cameras"`
}

// CameraConfig describes one camera. Device is only used by the gstreamer
// driver.
type CameraConfig struct {
	ID                string       `yaml:"id"`
	Facing            string       `yaml:"facing"` // back or front
	Device            string       `yaml:"device"` // e.g. /dev/video0
	SensorOrientation int          `yaml:"sensor_orientation"`
	Modes             []ModeConfig `yaml:"modes"`
}

// ModeConfig is one output configuration a camera supports.
type ModeConfig struct {
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Format  string `yaml:"format"` // rgba or bgra
	Default bool   `yaml:"default"`
}

// EngineConfig is one render engine started by the daemon and the session
// that initially feeds it.
type EngineConfig struct {
	Name    string        `yaml:"name"`
	Kind    string        `yaml:"kind"` // raster or texture; empty picks the registry default
	Facing  string        `yaml:"facing"`
	Backend string        `yaml:"backend"` // managed or direct
	Surface SurfaceConfig `yaml:"surface"`
}

// SurfaceConfig sizes the off-screen surface the engine presents into.
type SurfaceConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration for the synthetic driver with a
// single raster engine on the back camera.
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("config: default configuration invalid: %v", err))
	}
	return cfg
}

// ShutdownTimeout returns the shutdown timeout as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// StatsInterval returns the stats reporting interval; zero disables it.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalS) * time.Second
}
