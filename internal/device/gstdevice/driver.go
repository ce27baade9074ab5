// Package gstdevice captures from V4L2 cameras through GStreamer.
//
// Each opened Device runs its own pipeline; samples are copied from the
// appsink into the session's buffer slabs, so GStreamer never holds a slab.
package gstdevice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/tinyzimmer/go-gst/gst"
)

// Camera maps a V4L2 device node to the camera metadata a session needs.
type Camera struct {
	capture.CameraInfo
	// DevicePath is the device node, e.g. /dev/video0.
	DevicePath string
}

// Driver implements capture.Driver for V4L2 devices.
type Driver struct {
	cameras []Camera
}

// New validates that GStreamer is usable and returns a driver for cameras.
func New(cameras []Camera) (*Driver, error) {
	if len(cameras) == 0 {
		return nil, fmt.Errorf("gstdevice: no cameras configured")
	}
	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("gstdevice: GStreamer not available: %w", err)
	}
	return &Driver{cameras: cameras}, nil
}

// Name implements capture.Driver.
func (d *Driver) Name() string { return "gstreamer" }

// Cameras implements capture.Driver.
func (d *Driver) Cameras(ctx context.Context) ([]capture.CameraInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]capture.CameraInfo, len(d.cameras))
	for i, c := range d.cameras {
		out[i] = c.CameraInfo
	}
	return out, nil
}

// Open implements capture.Driver. The pipeline is built by Configure.
func (d *Driver) Open(ctx context.Context, cameraID string) (capture.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, c := range d.cameras {
		if c.ID != cameraID {
			continue
		}
		if err := checkDeviceNode(c.DevicePath); err != nil {
			return nil, err
		}
		logging.Logger().Info("gstdevice: camera opened",
			"camera", c.ID,
			"device", c.DevicePath,
			"facing", c.Facing.String(),
		)
		return newDevice(c), nil
	}
	return nil, fmt.Errorf("gstdevice: camera %q: %w", cameraID, types.ErrDeviceUnavailable)
}

// checkDeviceNode maps the node's accessibility onto the typed open errors.
func checkDeviceNode(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("gstdevice: %s: %w", path, types.ErrDeviceUnavailable)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("gstdevice: %s: %w", path, types.ErrPermissionDenied)
	default:
		return classify(err.Error(), path)
	}
}

// checkGStreamerAvailable creates a throwaway element to prove the runtime
// and plugin registry work.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("v4l2src element not available: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
