package config

import (
	"fmt"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/types"
)

// Driver names accepted in capture.driver.
const (
	DriverSynthetic = "synthetic"
	DriverGStreamer = "gstreamer"
)

// Defaults applied by Validate.
const (
	DefaultLogLevel         = "info"
	DefaultShutdownTimeoutS = 5
	DefaultSurfaceWidth     = 1280
	DefaultSurfaceHeight    = 720
)

// Validate checks cfg and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = DefaultShutdownTimeoutS
	}
	if cfg.ShutdownTimeoutS < 0 {
		return fmt.Errorf("shutdown_timeout_s must be positive, got %d", cfg.ShutdownTimeoutS)
	}
	if cfg.StatsIntervalS < 0 {
		return fmt.Errorf("stats_interval_s must be >= 0, got %d", cfg.StatsIntervalS)
	}

	if err := ValidateCapture(&cfg.Capture); err != nil {
		return err
	}

	return ValidateEngines(cfg)
}

// ValidateCapture checks the capture section and fills its defaults.
func ValidateCapture(c *CaptureConfig) error {
	switch c.Driver {
	case "":
		c.Driver = DriverSynthetic
	case DriverSynthetic, DriverGStreamer:
	default:
		return fmt.Errorf("capture.driver %q is invalid (want %s or %s)", c.Driver, DriverSynthetic, DriverGStreamer)
	}

	if c.QueueDepth == 0 {
		c.QueueDepth = capture.DefaultQueueDepth
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("capture.queue_depth must be positive, got %d", c.QueueDepth)
	}

	if c.Policy == "" {
		c.Policy = types.PolicyDefault.String()
	}
	if _, err := types.ParseQueuePolicy(c.Policy); err != nil {
		return fmt.Errorf("capture.policy: %w", err)
	}

	// Negative disables the aspect preference.
	if c.PreferredAspect == 0 {
		c.PreferredAspect = capture.DefaultAspect
	}
	if c.FPS < 0 {
		return fmt.Errorf("capture.fps must be >= 0, got %d", c.FPS)
	}

	if c.Driver == DriverGStreamer && len(c.Cameras) == 0 {
		return fmt.Errorf("capture.cameras is required for the %s driver", DriverGStreamer)
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if err := validateCamera(cam, c.Driver); err != nil {
			return fmt.Errorf("capture.cameras[%d]: %w", i, err)
		}
		if seen[cam.ID] {
			return fmt.Errorf("capture.cameras[%d]: duplicate id %q", i, cam.ID)
		}
		seen[cam.ID] = true
	}

	return nil
}

func validateCamera(cam *CameraConfig, driver string) error {
	if cam.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := types.ParseFacing(cam.Facing); err != nil {
		return err
	}
	if cam.SensorOrientation < 0 || cam.SensorOrientation >= 360 {
		return fmt.Errorf("sensor_orientation must be in [0, 360), got %d", cam.SensorOrientation)
	}
	if _, err := types.RotationFromDegrees(cam.SensorOrientation); err != nil {
		return fmt.Errorf("sensor_orientation: %w", err)
	}
	if driver == DriverGStreamer && cam.Device == "" {
		return fmt.Errorf("device is required for the %s driver", DriverGStreamer)
	}

	if len(cam.Modes) == 0 {
		return fmt.Errorf("at least one mode is required")
	}
	for j, m := range cam.Modes {
		if m.Width <= 0 || m.Height <= 0 {
			return fmt.Errorf("modes[%d]: size %dx%d is invalid", j, m.Width, m.Height)
		}
		if _, err := hwbuffer.ParseFormat(m.Format); err != nil {
			return fmt.Errorf("modes[%d]: %w", j, err)
		}
	}
	return nil
}

// ValidateEngines checks the engines section. An empty section gets one
// raster engine on the back camera's managed session.
func ValidateEngines(cfg *Config) error {
	if len(cfg.Engines) == 0 {
		cfg.Engines = []EngineConfig{{Name: "preview", Kind: types.KindRaster.String()}}
	}

	names := make(map[string]bool, len(cfg.Engines))
	for i := range cfg.Engines {
		e := &cfg.Engines[i]

		if e.Name == "" {
			e.Name = fmt.Sprintf("engine-%d", i)
		}
		if names[e.Name] {
			return fmt.Errorf("engines[%d]: duplicate name %q", i, e.Name)
		}
		names[e.Name] = true

		if e.Kind != "" {
			if _, err := types.ParseEngineKind(e.Kind); err != nil {
				return fmt.Errorf("engines[%d]: %w", i, err)
			}
		}

		if e.Facing == "" {
			e.Facing = types.FacingBack.String()
		}
		if e.Backend == "" {
			e.Backend = types.BackendManaged.String()
		}
		if _, err := e.SessionKey(); err != nil {
			return fmt.Errorf("engines[%d]: %w", i, err)
		}

		if e.Surface.Width == 0 && e.Surface.Height == 0 {
			e.Surface.Width = DefaultSurfaceWidth
			e.Surface.Height = DefaultSurfaceHeight
		}
		if e.Surface.Width <= 0 || e.Surface.Height <= 0 {
			return fmt.Errorf("engines[%d]: surface %dx%d is invalid", i, e.Surface.Width, e.Surface.Height)
		}
	}
	return nil
}
