package synthetic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gputypes"
)

var errNotConfigured = errors.New("synthetic: device not configured")

// Device implements capture.Device.
type Device struct {
	driver       *Driver
	info         capture.CameraInfo
	configureErr error
	disconnectAt uint64
	rotation     types.Rotation

	mu       sync.Mutex
	cfg      capture.StreamConfig
	ready    bool
	closed   bool
	interval time.Duration
	next     time.Time
	count    uint64

	unplugOnce sync.Once
	unplugged  chan struct{}
}

// Info implements capture.Device.
func (d *Device) Info() capture.CameraInfo { return d.info }

// Configure implements capture.Device.
func (d *Device) Configure(ctx context.Context, cfg capture.StreamConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.configureErr != nil {
		return d.configureErr
	}
	if _, err := hwbuffer.BytesPerPixel(cfg.Format); err != nil {
		return fmt.Errorf("%w: %w", types.ErrConfigurationFailed, err)
	}

	fps := cfg.FPS
	if d.driver.cfg.FPS > 0 {
		fps = d.driver.cfg.FPS
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.ready = true
	if fps > 0 {
		d.interval = time.Second / time.Duration(fps)
	}
	return nil
}

// Capture implements capture.Device.
func (d *Device) Capture(ctx context.Context, dst *hwbuffer.Handle) (capture.CaptureInfo, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return capture.CaptureInfo{}, fmt.Errorf("synthetic: camera %s closed: %w", d.info.ID, types.ErrDisconnected)
	}
	if !d.ready {
		d.mu.Unlock()
		return capture.CaptureInfo{}, errNotConfigured
	}
	if d.disconnectAt > 0 && d.count >= d.disconnectAt {
		d.mu.Unlock()
		d.unplug()
		return capture.CaptureInfo{}, fmt.Errorf("synthetic: camera %s: %w", d.info.ID, types.ErrDisconnected)
	}
	wait := time.Duration(0)
	if d.interval > 0 {
		now := time.Now()
		if d.next.IsZero() || d.next.Before(now) {
			d.next = now
		}
		wait = d.next.Sub(now)
		d.next = d.next.Add(d.interval)
	}
	d.count++
	seq := d.count
	d.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return capture.CaptureInfo{}, ctx.Err()
		case <-d.unplugged:
			timer.Stop()
			return capture.CaptureInfo{}, fmt.Errorf("synthetic: camera %s: %w", d.info.ID, types.ErrDisconnected)
		case <-timer.C:
		}
	} else {
		select {
		case <-ctx.Done():
			return capture.CaptureInfo{}, ctx.Err()
		case <-d.unplugged:
			return capture.CaptureInfo{}, fmt.Errorf("synthetic: camera %s: %w", d.info.ID, types.ErrDisconnected)
		default:
		}
	}

	paint(dst, seq)
	d.driver.captures.Add(1)

	return capture.CaptureInfo{Timestamp: time.Now(), Rotation: d.rotation}, nil
}

func (d *Device) unplug() {
	d.unplugOnce.Do(func() { close(d.unplugged) })
}

// Close implements capture.Device. Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.driver.closed(d)
	return nil
}

// paint renders a horizontal gradient with a vertical bar that moves with seq.
// The sequence number is also stamped into the first pixel so tests can
// check which capture a buffer holds.
func paint(dst *hwbuffer.Handle, seq uint64) {
	desc := dst.Desc()
	pix := dst.Pix()
	stride := dst.Stride()
	bar := int(seq*7) % desc.Width
	bgra := desc.Format == gputypes.TextureFormatBGRA8Unorm

	for y := 0; y < desc.Height; y++ {
		row := pix[y*stride : y*stride+desc.Width*4]
		for x := 0; x < desc.Width; x++ {
			r := uint8(x * 255 / desc.Width)
			g := uint8(y * 255 / desc.Height)
			b := uint8(128)
			if x >= bar && x < bar+4 {
				r, g, b = 255, 255, 255
			}
			p := row[x*4 : x*4+4]
			if bgra {
				p[0], p[1], p[2], p[3] = b, g, r, 255
			} else {
				p[0], p[1], p[2], p[3] = r, g, b, 255
			}
		}
	}

	stamp := pix[0:4]
	stamp[0] = byte(seq)
	stamp[1] = byte(seq >> 8)
	stamp[2] = byte(seq >> 16)
}

// Stamp returns the capture counter written by paint. Valid only while the
// caller holds a reference to buf.
func Stamp(buf *hwbuffer.Handle) uint64 {
	p := buf.Pix()
	return uint64(p[0]) | uint64(p[1])<<8 | uint64(p[2])<<16
}
