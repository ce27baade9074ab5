// Package types holds the vocabulary shared by capture, routing, engines and
// orchestration.
package types

import (
	"fmt"
	"time"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
)

// Facing is the lens direction of a camera.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

// String returns "back" or "front".
func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// Opposite returns the other lens direction.
func (f Facing) Opposite() Facing {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

// ParseFacing accepts "back" or "front".
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	default:
		return 0, fmt.Errorf("unknown facing %q (want back or front)", s)
	}
}

// Rotation is the clockwise rotation, in degrees, needed to display a frame
// upright.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// Valid reports whether r is one of the four right angles.
func (r Rotation) Valid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

// RotationFromDegrees normalizes any multiple of 90 into [0, 270].
func RotationFromDegrees(deg int) (Rotation, error) {
	if deg%90 != 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRotation, deg)
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(deg), nil
}

// Backend selects one of the two interchangeable capture pipelines.
type Backend int

const (
	// BackendManaged is the analysis-pipeline variant: RGBA output,
	// per-image rotation, keep-latest by default.
	BackendManaged Backend = iota
	// BackendDirect is the device-session variant: GPU-native BGRA output,
	// sensor-orientation rotation, block-producer by default.
	BackendDirect
)

// String returns the config name of the backend.
func (b Backend) String() string {
	switch b {
	case BackendManaged:
		return "managed"
	case BackendDirect:
		return "direct"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// Other returns the alternate backend.
func (b Backend) Other() Backend {
	if b == BackendDirect {
		return BackendManaged
	}
	return BackendDirect
}

// ParseBackend accepts "managed" or "direct".
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "managed":
		return BackendManaged, nil
	case "direct":
		return BackendDirect, nil
	default:
		return 0, fmt.Errorf("unknown backend %q (want managed or direct)", s)
	}
}

// SessionKey identifies the single active session allowed per pair.
type SessionKey struct {
	Facing  Facing
	Backend Backend
}

func (k SessionKey) String() string {
	return k.Facing.String() + "/" + k.Backend.String()
}

// Frame is one captured buffer plus its metadata.
//
// The buffer is borrowed from the session allocator. Consumers must not keep
// it past a delivery call without Retain.
type Frame struct {
	Buffer    *hwbuffer.Handle
	Rotation  Rotation
	Facing    Facing
	Seq       uint64
	Timestamp time.Time
	SessionID string
	TraceID   string
}

// IsBackFacing is the flag passed across the engine boundary.
func (f *Frame) IsBackFacing() bool { return f.Facing == FacingBack }
