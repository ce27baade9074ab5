package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gputypes"
)

const fullConfig = `
log_level: debug
shutdown_timeout_s: 3
stats_interval_s: 10
capture:
  driver: gstreamer
  queue_depth: 4
  policy: keep-latest
  preferred_aspect: 1.3333
  fps: 30
  cameras:
    - id: rear
      facing: back
      device: /dev/video0
      sensor_orientation: 90
      modes:
        - {width: 1280, height: 720, format: rgba, default: true}
        - {width: 640, height: 480, format: bgra}
engines:
  - name: main
    kind: texture
    facing: back
    backend: direct
    surface: {width: 800, height: 600}
  - name: thumb
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.ShutdownTimeout() != 3*time.Second || cfg.StatsInterval() != 10*time.Second {
		t.Errorf("durations = %v, %v", cfg.ShutdownTimeout(), cfg.StatsInterval())
	}

	opts, err := cfg.Capture.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	want := capture.Options{QueueDepth: 4, Policy: types.PolicyKeepLatest, PreferredAspect: 1.3333, FPS: 30}
	if opts != want {
		t.Errorf("Options = %+v, want %+v", opts, want)
	}

	cams, err := cfg.Capture.CameraInfos()
	if err != nil {
		t.Fatalf("CameraInfos: %v", err)
	}
	if len(cams) != 1 {
		t.Fatalf("cameras = %d, want 1", len(cams))
	}
	cam := cams[0]
	if cam.ID != "rear" || cam.Facing != types.FacingBack || cam.SensorOrientation != types.Rotation90 {
		t.Errorf("camera = %+v", cam)
	}
	if len(cam.Outputs) != 2 || !cam.Outputs[0].Default || cam.Outputs[1].Format != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("outputs = %v", cam.Outputs)
	}

	main := cfg.Engines[0]
	kind, ok, err := main.EngineKind()
	if err != nil || !ok || kind != types.KindTexture {
		t.Errorf("EngineKind = %v, %v, %v", kind, ok, err)
	}
	key, err := main.SessionKey()
	if err != nil || key != (types.SessionKey{Facing: types.FacingBack, Backend: types.BackendDirect}) {
		t.Errorf("SessionKey = %v, %v", key, err)
	}

	// Second engine is all defaults.
	thumb := cfg.Engines[1]
	if _, ok, _ := thumb.EngineKind(); ok {
		t.Errorf("thumb kind should be left to the registry, got %q", thumb.Kind)
	}
	if thumb.Facing != "back" || thumb.Backend != "managed" {
		t.Errorf("thumb source = %s/%s", thumb.Facing, thumb.Backend)
	}
	if thumb.Surface.Width != DefaultSurfaceWidth || thumb.Surface.Height != DefaultSurfaceHeight {
		t.Errorf("thumb surface = %+v", thumb.Surface)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.ShutdownTimeoutS != DefaultShutdownTimeoutS {
		t.Errorf("ShutdownTimeoutS = %d", cfg.ShutdownTimeoutS)
	}
	if cfg.StatsInterval() != 0 {
		t.Errorf("stats should be disabled by default")
	}
	if cfg.Capture.Driver != DriverSynthetic {
		t.Errorf("Driver = %q", cfg.Capture.Driver)
	}
	if cfg.Capture.QueueDepth != capture.DefaultQueueDepth {
		t.Errorf("QueueDepth = %d", cfg.Capture.QueueDepth)
	}
	if cfg.Capture.PreferredAspect != capture.DefaultAspect {
		t.Errorf("PreferredAspect = %v", cfg.Capture.PreferredAspect)
	}
	cams, err := cfg.Capture.CameraInfos()
	if err != nil || cams != nil {
		t.Errorf("CameraInfos = %v, %v; want nil so the driver uses its own", cams, err)
	}
	if len(cfg.Engines) != 1 || cfg.Engines[0].Name != "preview" || cfg.Engines[0].Kind != "raster" {
		t.Errorf("Engines = %+v", cfg.Engines)
	}
}

func TestNegativeAspectIsKept(t *testing.T) {
	cfg, err := Parse([]byte("capture: {preferred_aspect: -1}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Capture.PreferredAspect != -1 {
		t.Errorf("PreferredAspect = %v, want -1", cfg.Capture.PreferredAspect)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "log_level: loud", "log_level"},
		{"shutdown", "shutdown_timeout_s: -1", "shutdown_timeout_s"},
		{"stats", "stats_interval_s: -5", "stats_interval_s"},
		{"driver", "capture: {driver: v4l1}", "capture.driver"},
		{"queue depth", "capture: {queue_depth: -2}", "queue_depth"},
		{"policy", "capture: {policy: drop-everything}", "capture.policy"},
		{"fps", "capture: {fps: -30}", "capture.fps"},
		{"gstreamer without cameras", "capture: {driver: gstreamer}", "capture.cameras is required"},
		{"camera id", "capture: {cameras: [{facing: back, modes: [{width: 1, height: 1, format: rgba}]}]}", "id is required"},
		{"camera facing", "capture: {cameras: [{id: a, facing: up, modes: [{width: 1, height: 1, format: rgba}]}]}", "facing"},
		{"camera rotation", "capture: {cameras: [{id: a, facing: back, sensor_orientation: 45, modes: [{width: 1, height: 1, format: rgba}]}]}", "sensor_orientation"},
		{"camera rotation range", "capture: {cameras: [{id: a, facing: back, sensor_orientation: 360, modes: [{width: 1, height: 1, format: rgba}]}]}", "sensor_orientation"},
		{"camera modes", "capture: {cameras: [{id: a, facing: back}]}", "mode"},
		{"mode size", "capture: {cameras: [{id: a, facing: back, modes: [{width: 0, height: 1, format: rgba}]}]}", "size"},
		{"mode format", "capture: {cameras: [{id: a, facing: back, modes: [{width: 1, height: 1, format: nv21}]}]}", "modes[0]"},
		{"duplicate camera", "capture: {cameras: [{id: a, facing: back, modes: [{width: 1, height: 1, format: rgba}]}, {id: a, facing: front, modes: [{width: 1, height: 1, format: rgba}]}]}", "duplicate id"},
		{"gstreamer device", "capture: {driver: gstreamer, cameras: [{id: a, facing: back, modes: [{width: 1, height: 1, format: rgba}]}]}", "device is required"},
		{"engine kind", "engines: [{kind: vulkan}]", "engine kind"},
		{"engine backend", "engines: [{backend: camera3}]", "backend"},
		{"engine surface", "engines: [{surface: {width: 10, height: -1}}]", "surface"},
		{"duplicate engine", "engines: [{name: a}, {name: a}]", "duplicate name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.yaml)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
			if !strings.HasPrefix(err.Error(), "invalid configuration: ") {
				t.Errorf("error = %q, want validation prefix", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framebridge.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil || level != slog.LevelWarn {
		t.Errorf("level = %v, %v", level, err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Load(missing) = %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("engines: {"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "failed to parse config") {
		t.Errorf("Load(bad) = %v", err)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "framebridge.yaml"))
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if len(cfg.Engines) != 2 || cfg.HealthAddr == "" {
		t.Errorf("sample = %+v", cfg)
	}
	if _, err := cfg.Capture.CameraInfos(); err != nil {
		t.Errorf("CameraInfos: %v", err)
	}
}
