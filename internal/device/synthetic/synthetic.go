// Package synthetic is a capture driver that renders a moving test pattern.
//
// It backs tests and the demo daemon, and can inject every open and
// streaming failure a real camera stack reports.
package synthetic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gputypes"
)

// Config configures the driver.
type Config struct {
	// Cameras defaults to DefaultCameras().
	Cameras []capture.CameraInfo
	// FPS paces Capture. 0 captures as fast as buffers are available unless
	// the session asks for a rate.
	FPS int
	// Exclusive makes a camera fail with ErrDeviceInUse while it is open.
	Exclusive bool
	// CaptureRotation is reported per capture (managed variant).
	CaptureRotation types.Rotation
}

// Driver implements capture.Driver.
type Driver struct {
	cfg Config

	mu           sync.Mutex
	open         map[string]int
	openErr      map[string]error
	configureErr error
	disconnectAt uint64
	devices      map[*Device]struct{}

	opens    atomic.Uint64
	captures atomic.Uint64
}

// DefaultCameras returns a back and a front camera with 16:9 and 4:3 outputs
// in both mappable formats.
func DefaultCameras() []capture.CameraInfo {
	outputs := func() []capture.OutputConfig {
		var out []capture.OutputConfig
		for _, f := range []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm} {
			out = append(out,
				capture.OutputConfig{Width: 1280, Height: 720, Format: f},
				capture.OutputConfig{Width: 640, Height: 360, Format: f},
				capture.OutputConfig{Width: 1440, Height: 1080, Format: f},
			)
		}
		out[0].Default = true
		return out
	}
	return []capture.CameraInfo{
		{ID: "0", Facing: types.FacingBack, SensorOrientation: types.Rotation90, Outputs: outputs()},
		{ID: "1", Facing: types.FacingFront, SensorOrientation: types.Rotation270, Outputs: outputs()},
	}
}

// New creates a driver.
func New(cfg Config) *Driver {
	if len(cfg.Cameras) == 0 {
		cfg.Cameras = DefaultCameras()
	}
	return &Driver{
		cfg:     cfg,
		open:    make(map[string]int),
		openErr: make(map[string]error),
		devices: make(map[*Device]struct{}),
	}
}

// Name implements capture.Driver.
func (d *Driver) Name() string { return "synthetic" }

// Cameras implements capture.Driver.
func (d *Driver) Cameras(ctx context.Context) ([]capture.CameraInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]capture.CameraInfo, len(d.cfg.Cameras))
	copy(out, d.cfg.Cameras)
	return out, nil
}

// FailOpen makes the next opens of cameraID fail with err until cleared
// with a nil err.
func (d *Driver) FailOpen(cameraID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.openErr, cameraID)
		return
	}
	d.openErr[cameraID] = err
}

// FailConfigure makes Configure fail with err on devices opened afterwards.
func (d *Driver) FailConfigure(err error) {
	d.mu.Lock()
	d.configureErr = err
	d.mu.Unlock()
}

// DisconnectAfter makes devices opened afterwards report a disconnect after
// n captures. 0 disables.
func (d *Driver) DisconnectAfter(n uint64) {
	d.mu.Lock()
	d.disconnectAt = n
	d.mu.Unlock()
}

// Disconnect unplugs every open device of cameraID.
func (d *Driver) Disconnect(cameraID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for dev := range d.devices {
		if dev.info.ID == cameraID {
			dev.unplug()
		}
	}
}

// Open implements capture.Driver.
func (d *Driver) Open(ctx context.Context, cameraID string) (capture.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info capture.CameraInfo
	found := false
	for _, c := range d.cfg.Cameras {
		if c.ID == cameraID {
			info, found = c, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("synthetic: camera %q: %w", cameraID, types.ErrDeviceUnavailable)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.openErr[cameraID]; err != nil {
		return nil, fmt.Errorf("synthetic: camera %q: %w", cameraID, err)
	}
	if d.cfg.Exclusive && d.open[cameraID] > 0 {
		return nil, fmt.Errorf("synthetic: camera %q: %w", cameraID, types.ErrDeviceInUse)
	}

	d.open[cameraID]++
	d.opens.Add(1)
	dev := &Device{
		driver:       d,
		info:         info,
		configureErr: d.configureErr,
		disconnectAt: d.disconnectAt,
		rotation:     d.cfg.CaptureRotation,
		unplugged:    make(chan struct{}),
	}
	d.devices[dev] = struct{}{}

	logging.Logger().Debug("synthetic: camera opened",
		"camera", cameraID,
		"facing", info.Facing.String(),
		"open_count", d.open[cameraID],
	)
	return dev, nil
}

func (d *Driver) closed(dev *Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.devices[dev]; !ok {
		return
	}
	delete(d.devices, dev)
	d.open[dev.info.ID]--
}

// OpenCount returns how many devices of cameraID are open.
func (d *Driver) OpenCount(cameraID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open[cameraID]
}

// Opens counts successful opens.
func (d *Driver) Opens() uint64 { return d.opens.Load() }

// Captures counts frames rendered by all devices.
func (d *Driver) Captures() uint64 { return d.captures.Load() }
