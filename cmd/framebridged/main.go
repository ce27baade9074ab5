// Command framebridged runs capture sessions and render engines described by
// a YAML configuration file.
//
// Each configured engine presents into an off-screen surface. SIGUSR1 toggles
// every engine between the back and front cameras, SIGUSR2 between the
// managed and direct backends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/config"
	"github.com/e7canasta/framebridge/internal/device/gstdevice"
	"github.com/e7canasta/framebridge/internal/device/synthetic"
	"github.com/e7canasta/framebridge/internal/engine"
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/orchestrator"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gg/surface"
)

const version = "v0.1.0"

type flags struct {
	configPath string
	debug      bool
	driver     string
	statsSec   int
	healthAddr string
}

// engineHandle ties a configured engine to its orchestrator id and surface.
type engineHandle struct {
	name    string
	id      string
	surface *surface.ImageSurface
}

func main() {
	f := parseFlags()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	logging.SetLogger(logger)

	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutdown signal received, stopping gracefully...")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("framebridged failed", "error", err, "category", types.Classify(err).String())
		os.Exit(1)
	}

	logger.Info("framebridged stopped gracefully")
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML configuration (defaults built in when empty)")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging (overrides log_level)")
	flag.StringVar(&f.driver, "driver", "", "Capture driver override: synthetic or gstreamer")
	flag.IntVar(&f.statsSec, "stats-interval", -1, "Statistics interval in seconds (overrides stats_interval_s, 0 disables)")
	flag.StringVar(&f.healthAddr, "health-addr", "", "Health check listen address (overrides health_addr)")
	flag.Parse()
	return f
}

func loadConfig(f flags) (*config.Config, error) {
	var cfg *config.Config
	if f.configPath == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	if f.debug {
		cfg.LogLevel = "debug"
	}
	if f.statsSec >= 0 {
		cfg.StatsIntervalS = f.statsSec
	}
	if f.healthAddr != "" {
		cfg.HealthAddr = f.healthAddr
	}
	if f.driver != "" {
		cfg.Capture.Driver = f.driver
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

func newDriver(cfg config.CaptureConfig) (capture.Driver, error) {
	cameras, err := cfg.CameraInfos()
	if err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case config.DriverGStreamer:
		gst := make([]gstdevice.Camera, len(cameras))
		for i, info := range cameras {
			gst[i] = gstdevice.Camera{CameraInfo: info, DevicePath: cfg.Cameras[i].Device}
		}
		d, err := gstdevice.New(gst)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return synthetic.New(synthetic.Config{Cameras: cameras, FPS: cfg.FPS}), nil
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 1. Capture driver and session manager
	driver, err := newDriver(cfg.Capture)
	if err != nil {
		return fmt.Errorf("failed to create capture driver: %w", err)
	}
	opts, err := cfg.Capture.Options()
	if err != nil {
		return err
	}
	manager := capture.NewManager(driver, opts)
	logger.Info("Capture driver ready", "driver", driver.Name())

	// 2. Orchestrator
	registry := engine.DefaultRegistry()
	orch := orchestrator.New(manager, registry)

	// 3. Engines, surfaces and initial feeds
	engines, err := startEngines(ctx, cfg, orch, registry, logger)
	if err != nil {
		shutdown(orch, manager, cfg.ShutdownTimeout(), logger)
		return err
	}

	// 4. Runtime switching
	go handleSwitchSignals(ctx, orch, engines, logger)

	// 5. Statistics and health
	if cfg.StatsInterval() > 0 {
		go reportStats(ctx, cfg.StatsInterval(), orch, engines)
	}
	if cfg.HealthAddr != "" {
		startHealthServer(ctx, cfg.HealthAddr, orch, engines, logger)
	}

	<-ctx.Done()

	printFinalStats(orch, engines)
	shutdown(orch, manager, cfg.ShutdownTimeout(), logger)
	for _, h := range engines {
		_ = h.surface.Close()
	}
	return ctx.Err()
}

func startEngines(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, registry *engine.Registry, logger *slog.Logger) ([]engineHandle, error) {
	var out []engineHandle
	for _, ec := range cfg.Engines {
		kind, ok, err := ec.EngineKind()
		if err != nil {
			return nil, err
		}
		if !ok {
			if kind, err = registry.DefaultKind(); err != nil {
				return nil, err
			}
		}

		id, err := orch.AddEngine(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", ec.Name, err)
		}
		h := engineHandle{name: ec.Name, id: id, surface: surface.NewImageSurface(ec.Surface.Width, ec.Surface.Height)}
		out = append(out, h)

		if err := orch.SurfaceCreated(ctx, id, h.surface, ec.Surface.Width, ec.Surface.Height); err != nil {
			return nil, fmt.Errorf("engine %s: %w", ec.Name, err)
		}

		key, err := ec.SessionKey()
		if err != nil {
			return nil, err
		}
		if err := orch.Feed(ctx, id, key.Facing, key.Backend); err != nil {
			// The engine stays registered and unfed; a later switch may succeed.
			logger.Warn("Engine feed failed",
				"engine", ec.Name,
				"session", key.String(),
				"error", err,
				"category", types.Classify(err).String())
			continue
		}
		logger.Info("Engine started", "engine", ec.Name, "id", id, "kind", kind.String(), "session", key.String())
	}
	return out, nil
}

func handleSwitchSignals(ctx context.Context, orch *orchestrator.Orchestrator, engines []engineHandle, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			for _, h := range engines {
				var err error
				if sig == syscall.SIGUSR1 {
					err = orch.ToggleFacing(ctx, h.id)
				} else {
					err = orch.ToggleBackend(ctx, h.id)
				}
				if err != nil {
					logger.Warn("Switch failed", "engine", h.name, "signal", sig.String(), "error", err)
				}
			}
		}
	}
}

// shutdown closes the orchestrator then the manager, giving up after timeout.
func shutdown(orch *orchestrator.Orchestrator, manager *capture.Manager, timeout time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := orch.Close(); err != nil {
			logger.Error("Failed to close orchestrator", "error", err)
		}
		manager.Close()
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Error("Shutdown timed out", "timeout", timeout)
	}
}
