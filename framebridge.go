package framebridge

import (
	"log/slog"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/device/synthetic"
	"github.com/e7canasta/framebridge/internal/engine"
	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/orchestrator"
	"github.com/e7canasta/framebridge/internal/types"
)

// Types are re-exported from internal packages.
type (
	Handle     = hwbuffer.Handle
	Frame      = types.Frame
	Facing     = types.Facing
	Backend    = types.Backend
	Rotation   = types.Rotation
	SessionKey = types.SessionKey
	EngineKind = types.EngineKind
	Category   = types.Category

	Driver       = capture.Driver
	Device       = capture.Device
	CameraInfo   = capture.CameraInfo
	OutputConfig = capture.OutputConfig
	Options      = capture.Options
	Manager      = capture.Manager
	Session      = capture.Session

	Engine   = engine.Engine
	Peer     = engine.Peer
	Registry = engine.Registry

	Orchestrator = orchestrator.Orchestrator
	Stats        = orchestrator.Stats

	SyntheticConfig = synthetic.Config
	SyntheticDriver = synthetic.Driver
)

const (
	FacingBack  = types.FacingBack
	FacingFront = types.FacingFront

	BackendManaged = types.BackendManaged
	BackendDirect  = types.BackendDirect

	KindRaster  = types.KindRaster
	KindTexture = types.KindTexture
)

// Sentinel errors.
var (
	ErrPermissionDenied    = types.ErrPermissionDenied
	ErrDeviceUnavailable   = types.ErrDeviceUnavailable
	ErrDeviceInUse         = types.ErrDeviceInUse
	ErrDeviceDisabled      = types.ErrDeviceDisabled
	ErrConfigurationFailed = types.ErrConfigurationFailed
	ErrDisconnected        = types.ErrDisconnected
	ErrUseAfterDestroy     = types.ErrUseAfterDestroy
	ErrNotReady            = types.ErrNotReady
	ErrInvalidRotation     = types.ErrInvalidRotation
	ErrSessionClosed       = types.ErrSessionClosed
	ErrEngineNotFound      = types.ErrEngineNotFound
	ErrEngineNotFed        = types.ErrEngineNotFed
	ErrOrchestratorClosed  = types.ErrOrchestratorClosed
	ErrDoubleRelease       = hwbuffer.ErrDoubleRelease
)

// NewManager returns a session manager for driver.
func NewManager(driver Driver, opts Options) *Manager {
	return capture.NewManager(driver, opts)
}

// NewOrchestrator starts an orchestrator over manager using the default
// engine registry.
func NewOrchestrator(manager *Manager) *Orchestrator {
	return orchestrator.New(manager, nil)
}

// NewOrchestratorWithRegistry starts an orchestrator whose engines come from
// registry.
func NewOrchestratorWithRegistry(manager *Manager, registry *Registry) *Orchestrator {
	return orchestrator.New(manager, registry)
}

// Initialize creates a standalone engine of kind from the default registry.
func Initialize(kind EngineKind) (*Engine, error) {
	return engine.Initialize(kind)
}

// DefaultRegistry returns the process-wide engine registry.
func DefaultRegistry() *Registry {
	return engine.DefaultRegistry()
}

// NewSyntheticDriver returns a test-pattern camera driver.
func NewSyntheticDriver(cfg SyntheticConfig) *SyntheticDriver {
	return synthetic.New(cfg)
}

// Classify groups err into a Category.
func Classify(err error) Category {
	return types.Classify(err)
}

// SetLogger installs the logger used by every framebridge package. Nil
// silences logging again.
func SetLogger(l *slog.Logger) {
	logging.SetLogger(l)
}
