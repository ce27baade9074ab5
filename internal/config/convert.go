package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/types"
)

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level %q is invalid (want debug, info, warn or error)", s)
	}
}

// Options converts the capture section into session manager options.
func (c CaptureConfig) Options() (capture.Options, error) {
	policy, err := types.ParseQueuePolicy(c.Policy)
	if err != nil {
		return capture.Options{}, err
	}
	return capture.Options{
		QueueDepth:      c.QueueDepth,
		Policy:          policy,
		PreferredAspect: c.PreferredAspect,
		FPS:             c.FPS,
	}, nil
}

// CameraInfos converts the configured cameras. It returns nil when none are
// configured so the synthetic driver falls back to its defaults.
func (c CaptureConfig) CameraInfos() ([]capture.CameraInfo, error) {
	if len(c.Cameras) == 0 {
		return nil, nil
	}
	out := make([]capture.CameraInfo, 0, len(c.Cameras))
	for _, cam := range c.Cameras {
		info, err := cam.Info()
		if err != nil {
			return nil, fmt.Errorf("camera %q: %w", cam.ID, err)
		}
		out = append(out, info)
	}
	return out, nil
}

// Info converts the camera into capture metadata.
func (cam CameraConfig) Info() (capture.CameraInfo, error) {
	facing, err := types.ParseFacing(cam.Facing)
	if err != nil {
		return capture.CameraInfo{}, err
	}
	rot, err := types.RotationFromDegrees(cam.SensorOrientation)
	if err != nil {
		return capture.CameraInfo{}, err
	}

	info := capture.CameraInfo{ID: cam.ID, Facing: facing, SensorOrientation: rot}
	for _, m := range cam.Modes {
		format, err := hwbuffer.ParseFormat(m.Format)
		if err != nil {
			return capture.CameraInfo{}, err
		}
		info.Outputs = append(info.Outputs, capture.OutputConfig{
			Width:   m.Width,
			Height:  m.Height,
			Format:  format,
			Default: m.Default,
		})
	}
	return info, nil
}

// SessionKey is the (facing, backend) pair that initially feeds the engine.
func (e EngineConfig) SessionKey() (types.SessionKey, error) {
	facing, err := types.ParseFacing(e.Facing)
	if err != nil {
		return types.SessionKey{}, err
	}
	backend, err := types.ParseBackend(e.Backend)
	if err != nil {
		return types.SessionKey{}, err
	}
	return types.SessionKey{Facing: facing, Backend: backend}, nil
}

// EngineKind returns the configured kind; ok is false when the kind was left
// empty for the registry to choose.
func (e EngineConfig) EngineKind() (kind types.EngineKind, ok bool, err error) {
	if e.Kind == "" {
		return 0, false, nil
	}
	kind, err = types.ParseEngineKind(e.Kind)
	return kind, err == nil, err
}
