package types

import (
	"context"
	"errors"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
)

// Errors surfaced by opening a capture session. None is retried automatically.
var (
	ErrPermissionDenied    = errors.New("framebridge: camera permission denied")
	ErrDeviceUnavailable   = errors.New("framebridge: camera device unavailable")
	ErrDeviceInUse         = errors.New("framebridge: camera device in use")
	ErrDeviceDisabled      = errors.New("framebridge: camera device disabled by policy")
	ErrConfigurationFailed = errors.New("framebridge: stream configuration failed")
)

// ErrDisconnected invalidates a streaming session. Pending deliveries are
// abandoned and their buffers released.
var ErrDisconnected = errors.New("framebridge: device disconnected during streaming")

// Engine contract errors.
var (
	ErrUseAfterDestroy = errors.New("framebridge: engine used after destroy")
	ErrNotReady        = errors.New("framebridge: engine not ready")
	ErrInvalidRotation = errors.New("framebridge: rotation must be a multiple of 90")
)

// Routing and orchestration errors.
var (
	ErrSessionClosed      = errors.New("framebridge: session closed")
	ErrSubscriberExists   = errors.New("framebridge: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framebridge: subscriber not found")
	ErrEngineNotFound     = errors.New("framebridge: engine not found")
	ErrEngineNotFed       = errors.New("framebridge: engine has no source session")
	ErrOrchestratorClosed = errors.New("framebridge: orchestrator closed")
)

// Category groups errors by what a caller can do about them.
type Category int

const (
	// CategoryAccess: permission or device policy; needs user action.
	CategoryAccess Category = iota
	// CategoryDevice: camera missing or busy.
	CategoryDevice
	// CategoryConfiguration: stream negotiation failed; other params may work.
	CategoryConfiguration
	// CategoryStream: the session died mid-stream.
	CategoryStream
	// CategoryProgramming: contract violation such as use after destroy.
	CategoryProgramming
	// CategoryUnknown: anything else.
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryAccess:
		return "access"
	case CategoryDevice:
		return "device"
	case CategoryConfiguration:
		return "configuration"
	case CategoryStream:
		return "stream"
	case CategoryProgramming:
		return "programming"
	default:
		return "unknown"
	}
}

// Retryable reports whether retrying with different parameters can succeed
// without user intervention.
func (c Category) Retryable() bool {
	return c == CategoryConfiguration
}

// Classify maps an error chain to its category. Most specific first.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrUseAfterDestroy),
		errors.Is(err, hwbuffer.ErrDoubleRelease),
		errors.Is(err, hwbuffer.ErrReleased),
		errors.Is(err, ErrEngineNotFound),
		errors.Is(err, ErrEngineNotFed):
		return CategoryProgramming
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceDisabled):
		return CategoryAccess
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrDeviceInUse):
		return CategoryDevice
	case errors.Is(err, ErrConfigurationFailed), errors.Is(err, hwbuffer.ErrUnsupportedFormat):
		return CategoryConfiguration
	case errors.Is(err, ErrDisconnected), errors.Is(err, ErrSessionClosed),
		errors.Is(err, context.Canceled):
		return CategoryStream
	default:
		return CategoryUnknown
	}
}
