package gstdevice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const playingTimeout = 5 * time.Second

// sample is one frame copied out of the appsink.
type sample struct {
	data []byte
	at   time.Time
}

// Device implements capture.Device on a GStreamer pipeline.
type Device struct {
	camera Camera

	mu       sync.Mutex
	cfg      capture.StreamConfig
	elements *pipelineElements
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool

	// samples holds the latest sample only; the callback overwrites.
	samples chan sample

	failOnce sync.Once
	failed   chan struct{}
	failErr  error

	received atomic.Uint64
	dropped  atomic.Uint64
}

func newDevice(c Camera) *Device {
	return &Device{
		camera:  c,
		samples: make(chan sample, 1),
		failed:  make(chan struct{}),
	}
}

// Info implements capture.Device.
func (d *Device) Info() capture.CameraInfo { return d.camera.CameraInfo }

// Configure implements capture.Device. It builds the pipeline for cfg and
// waits until it reaches PLAYING or reports an error.
func (d *Device) Configure(ctx context.Context, cfg capture.StreamConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("gstdevice: configure closed device: %w", types.ErrDisconnected)
	}
	if d.elements != nil {
		return fmt.Errorf("gstdevice: device already configured: %w", types.ErrConfigurationFailed)
	}

	elements, err := createPipeline(pipelineConfig{
		DevicePath: d.camera.DevicePath,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Format:     cfg.Format,
		FPS:        cfg.FPS,
	})
	if err != nil {
		return fmt.Errorf("gstdevice: %w: %w", types.ErrConfigurationFailed, err)
	}

	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onNewSample,
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		_ = destroyPipeline(elements)
		return fmt.Errorf("gstdevice: start pipeline: %w: %w", types.ErrConfigurationFailed, err)
	}
	if err := waitPlaying(ctx, elements); err != nil {
		_ = destroyPipeline(elements)
		return err
	}

	d.cfg = cfg
	d.elements = elements

	monitorCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.monitorBus(monitorCtx)

	logging.Logger().Info("gstdevice: pipeline playing",
		"camera", d.camera.ID,
		"device", d.camera.DevicePath,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"format", hwbuffer.FormatName(cfg.Format),
		"fps", cfg.FPS,
	)
	return nil
}

// waitPlaying polls the bus until the pipeline reports PLAYING, an error, or
// the timeout.
func waitPlaying(ctx context.Context, elements *pipelineElements) error {
	bus := elements.Pipeline.GetPipelineBus()
	deadline := time.Now().Add(playingTimeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			return classifyGError(msg.ParseError())
		case gst.MessageStateChanged:
			if msg.Source() != elements.Pipeline.GetName() {
				continue
			}
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
				return nil
			}
		}
	}
	return fmt.Errorf("gstdevice: pipeline did not reach PLAYING within %s: %w", playingTimeout, types.ErrConfigurationFailed)
}

// onNewSample copies the appsink sample into the mailbox, replacing an
// unconsumed one.
func (d *Device) onNewSample(sink *app.Sink) gst.FlowReturn {
	s := sink.PullSample()
	if s == nil {
		logging.Logger().Warn("gstdevice: failed to pull sample, skipping frame", "camera", d.camera.ID)
		return gst.FlowOK
	}
	buffer := s.GetBuffer()
	if buffer == nil {
		logging.Logger().Warn("gstdevice: sample without buffer, skipping frame", "camera", d.camera.ID)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frame := sample{data: make([]byte, len(data)), at: time.Now()}
	copy(frame.data, data)
	buffer.Unmap()

	d.received.Add(1)
	select {
	case d.samples <- frame:
	default:
		select {
		case <-d.samples:
			d.dropped.Add(1)
		default:
		}
		select {
		case d.samples <- frame:
		default:
			d.dropped.Add(1)
		}
	}
	return gst.FlowOK
}

// monitorBus watches for errors and end of stream. Either one ends the
// device: the next Capture reports it.
func (d *Device) monitorBus(ctx context.Context) {
	defer d.wg.Done()

	bus := d.elements.Pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			d.fail(fmt.Errorf("gstdevice: end of stream: %w", types.ErrDisconnected))
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			err := classifyGError(gerr)
			logging.Logger().Error("gstdevice: pipeline error",
				"camera", d.camera.ID,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", types.Classify(err).String(),
				"frames_received", d.received.Load(),
			)
			d.fail(err)
			return
		}
	}
}

func (d *Device) fail(err error) {
	d.failOnce.Do(func() {
		d.failErr = err
		close(d.failed)
	})
}

// Capture implements capture.Device.
func (d *Device) Capture(ctx context.Context, dst *hwbuffer.Handle) (capture.CaptureInfo, error) {
	select {
	case <-ctx.Done():
		return capture.CaptureInfo{}, ctx.Err()
	case <-d.failed:
		return capture.CaptureInfo{}, fmt.Errorf("%w: %w", types.ErrDisconnected, d.failErr)
	case s := <-d.samples:
		if err := copyInto(dst, s.data); err != nil {
			return capture.CaptureInfo{}, err
		}
		return capture.CaptureInfo{Timestamp: s.at}, nil
	}
}

// copyInto copies tightly packed rows into the slab, honouring its stride.
func copyInto(dst *hwbuffer.Handle, data []byte) error {
	desc := dst.Desc()
	row := desc.Width * 4
	if len(data) < row*desc.Height {
		return fmt.Errorf("gstdevice: short sample %d bytes for %dx%d: %w",
			len(data), desc.Width, desc.Height, types.ErrConfigurationFailed)
	}
	pix := dst.Pix()
	stride := dst.Stride()
	for y := 0; y < desc.Height; y++ {
		copy(pix[y*stride:y*stride+row], data[y*row:(y+1)*row])
	}
	return nil
}

// Close implements capture.Device. Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	err := destroyPipeline(d.elements)
	d.elements = nil

	logging.Logger().Info("gstdevice: camera closed",
		"camera", d.camera.ID,
		"frames_received", d.received.Load(),
		"frames_dropped", d.dropped.Load(),
	)
	return err
}
