package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gputypes"
)

// Driver enumerates and opens the cameras of one capture backend.
//
// Implementations report open failures with the sentinels of the types
// package (ErrPermissionDenied, ErrDeviceUnavailable, ErrDeviceInUse,
// ErrDeviceDisabled) so callers can classify them.
type Driver interface {
	Name() string
	Cameras(ctx context.Context) ([]CameraInfo, error)
	Open(ctx context.Context, cameraID string) (Device, error)
}

// Device is an opened camera.
//
// Capture fills dst with the next frame. It blocks until a frame is ready or
// ctx is done, and returns an error wrapping types.ErrDisconnected once the
// device is gone. Capture is only called from one goroutine at a time.
type Device interface {
	Info() CameraInfo
	Configure(ctx context.Context, cfg StreamConfig) error
	Capture(ctx context.Context, dst *hwbuffer.Handle) (CaptureInfo, error)
	Close() error
}

// CameraInfo describes a physical camera.
type CameraInfo struct {
	ID     string
	Facing types.Facing
	// SensorOrientation is the clockwise rotation of the sensor relative to
	// the device's natural orientation.
	SensorOrientation types.Rotation
	Outputs           []OutputConfig
}

// OutputConfig is one stream configuration a camera supports.
type OutputConfig struct {
	Width   int
	Height  int
	Format  gputypes.TextureFormat
	Default bool
}

func (o OutputConfig) String() string {
	return fmt.Sprintf("%dx%d %s", o.Width, o.Height, hwbuffer.FormatName(o.Format))
}

// StreamConfig is what a session asks the device to produce.
type StreamConfig struct {
	Width  int
	Height int
	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage
	FPS    int
}

// CaptureInfo is per-frame metadata reported by the device.
type CaptureInfo struct {
	Timestamp time.Time
	// Rotation is the image rotation reported for this capture. Only the
	// managed variant uses it.
	Rotation types.Rotation
}

// FindCamera returns the first camera with the given facing.
func FindCamera(cameras []CameraInfo, facing types.Facing) (CameraInfo, bool) {
	for _, c := range cameras {
		if c.Facing == facing {
			return c, true
		}
	}
	return CameraInfo{}, false
}
