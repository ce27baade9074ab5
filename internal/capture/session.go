package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/router"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/google/uuid"
)

// DrainTimeout bounds how long Session.Close waits for engines to release
// retained buffers.
const DrainTimeout = 5 * time.Second

// Session streams one camera through one backend variant into a router.
//
// Goroutines:
//   - producer: acquires a buffer (blocking when all slots are borrowed),
//     lets the device fill it, enqueues the frame
//   - delivery: pops frames in capture order and hands them to the router
//
// Both are decoupled from the caller. Close cancels them and waits.
type Session struct {
	id      string
	key     types.SessionKey
	variant Variant
	camera  CameraInfo
	output  OutputConfig
	policy  types.QueuePolicy
	depth   int
	fps     int

	device Device
	alloc  *hwbuffer.Allocator
	router *router.Router
	queue  *frameQueue
	state  stateMachine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
	closeErr  error

	onClosed func(*Session)

	seq       atomic.Uint64
	captured  atomic.Uint64
	delivered atomic.Uint64
	started   time.Time
	rate      rateTracker
}

func newSession(key types.SessionKey, opts Options, onClosed func(*Session)) *Session {
	v := VariantFor(key.Backend)
	return &Session{
		id:       uuid.New().String(),
		key:      key,
		variant:  v,
		policy:   v.Policy(opts.Policy),
		depth:    opts.QueueDepth,
		fps:      opts.FPS,
		done:     make(chan struct{}),
		onClosed: onClosed,
	}
}

// open walks Idle → Opening → Configuring → Streaming. Any failure leaves the
// session Closed with the device released.
func (s *Session) open(ctx context.Context, driver Driver, preferredAspect float64) error {
	log := logging.Logger()

	if err := s.state.transition(StateOpening); err != nil {
		return err
	}

	cameras, err := driver.Cameras(ctx)
	if err != nil {
		return s.abort(fmt.Errorf("capture: list cameras: %w", err))
	}
	camera, ok := FindCamera(cameras, s.key.Facing)
	if !ok {
		return s.abort(fmt.Errorf("capture: no %s camera: %w", s.key.Facing, types.ErrDeviceUnavailable))
	}
	s.camera = camera

	device, err := driver.Open(ctx, camera.ID)
	if err != nil {
		return s.abort(fmt.Errorf("capture: open camera %s: %w", camera.ID, err))
	}
	s.device = device

	if err := s.state.transition(StateConfiguring); err != nil {
		return s.abort(err)
	}

	output, err := SelectOutput(camera.Outputs, s.variant.Format, preferredAspect)
	if err != nil {
		return s.abort(fmt.Errorf("capture: select output for %s: %w", s.key, err))
	}
	s.output = output

	desc := hwbuffer.Desc{
		Width:  output.Width,
		Height: output.Height,
		Format: output.Format,
		Usage:  s.variant.Usage,
	}
	// One slot being filled and one in delivery on top of the queue.
	alloc, err := hwbuffer.NewAllocator(desc, s.depth+2)
	if err != nil {
		return s.abort(fmt.Errorf("capture: allocate buffers: %w: %w", types.ErrConfigurationFailed, err))
	}
	s.alloc = alloc

	cfg := StreamConfig{
		Width:  output.Width,
		Height: output.Height,
		Format: output.Format,
		Usage:  s.variant.Usage,
		FPS:    s.fps,
	}
	if err := device.Configure(ctx, cfg); err != nil {
		if !errors.Is(err, types.ErrConfigurationFailed) && types.Classify(err) == types.CategoryUnknown {
			err = fmt.Errorf("%w: %w", types.ErrConfigurationFailed, err)
		}
		return s.abort(fmt.Errorf("capture: configure %s: %w", output, err))
	}

	if err := s.state.transition(StateStreaming); err != nil {
		return s.abort(err)
	}

	s.router = router.New(s.id)
	s.queue = newFrameQueue(s.depth, s.policy)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = time.Now()

	s.wg.Add(2)
	go s.produce()
	go s.deliver()

	log.Info("capture: session streaming",
		"session_id", s.id,
		"key", s.key.String(),
		"driver", driver.Name(),
		"camera", camera.ID,
		"output", output.String(),
		"policy", s.policy.String(),
		"queue_depth", s.depth,
		"buffers", alloc.Slots(),
	)
	return nil
}

// abort closes what open acquired and moves to Closed.
func (s *Session) abort(err error) error {
	if s.device != nil {
		if cerr := s.device.Close(); cerr != nil {
			logging.Logger().Warn("capture: device close failed after open error",
				"key", s.key.String(),
				"error", cerr,
			)
		}
	}
	_ = s.state.transition(StateClosed)
	s.setErr(err)
	close(s.done)

	logging.Logger().Warn("capture: session open failed",
		"key", s.key.String(),
		"category", types.Classify(err).String(),
		"error", err,
	)
	return err
}

func (s *Session) produce() {
	defer s.wg.Done()

	for {
		buf, err := s.alloc.Acquire(s.ctx)
		if err != nil {
			return
		}

		info, err := s.device.Capture(s.ctx, buf)
		if err != nil {
			releaseBuffer(buf)
			if s.ctx.Err() != nil {
				return
			}
			s.fail(err)
			return
		}
		s.captured.Add(1)

		ts := info.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		s.rate.record(ts)
		frame := &types.Frame{
			Buffer:    buf,
			Rotation:  s.variant.Rotation(s.camera, info),
			Facing:    s.key.Facing,
			Seq:       s.seq.Add(1),
			Timestamp: ts,
			SessionID: s.id,
			TraceID:   uuid.New().String(),
		}
		if !s.queue.push(frame) {
			releaseBuffer(buf)
			return
		}
	}
}

func (s *Session) deliver() {
	defer s.wg.Done()

	for {
		frame := s.queue.pop()
		if frame == nil {
			return
		}
		s.router.Deliver(frame)
		s.delivered.Add(1)
	}
}

// fail records a streaming error and tears the session down from a fresh
// goroutine, since Close waits for the producer that calls it.
func (s *Session) fail(err error) {
	if !errors.Is(err, types.ErrDisconnected) {
		err = fmt.Errorf("%w: %w", types.ErrDisconnected, err)
	}
	s.setErr(fmt.Errorf("capture: session %s: %w", s.key, err))

	logging.Logger().Warn("capture: device lost during streaming",
		"session_id", s.id,
		"key", s.key.String(),
		"frames_captured", s.captured.Load(),
		"error", err,
	)
	go s.Close()
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close stops capture, releases queued frames and waits until no delivery
// is in flight and every buffer retained by an async engine is back. No
// subscriber is called after Close returns. Idempotent.
//
// Close must not be called from a DeliverFrame callback.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		switch s.state.get() {
		case StateIdle:
			_ = s.state.transition(StateClosed)
			close(s.done)
			return
		case StateStreaming:
		default:
			return
		}
		_ = s.state.transition(StateClosing)

		s.cancel()
		s.queue.close()
		s.wg.Wait()
		s.router.Close()
		s.drainBuffers()

		s.closeErr = s.device.Close()
		_ = s.state.transition(StateClosed)

		st := s.alloc.Stats()
		logging.Logger().Info("capture: session closed",
			"session_id", s.id,
			"key", s.key.String(),
			"uptime", time.Since(s.started),
			"frames_captured", s.captured.Load(),
			"frames_delivered", s.delivered.Load(),
			"buffers_outstanding", st.Outstanding,
		)

		close(s.done)
		if s.onClosed != nil {
			s.onClosed(s)
		}
	})
	<-s.done
	return s.closeErr
}

// drainBuffers waits for retained buffers before the device goes away.
func (s *Session) drainBuffers() {
	ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	if err := s.alloc.Drain(ctx); err != nil {
		logging.Logger().Error("capture: buffers still retained at close",
			"session_id", s.id,
			"key", s.key.String(),
			"outstanding", s.alloc.Stats().Outstanding,
			"error", err,
		)
	}
}

// Subscribe adds a consumer to the session's router.
func (s *Session) Subscribe(sub router.Subscriber) error {
	if s.state.get() != StateStreaming {
		return types.ErrSessionClosed
	}
	return s.router.Add(sub)
}

// Unsubscribe removes a consumer, waiting for its in-flight delivery.
func (s *Session) Unsubscribe(id string) error {
	if s.router == nil {
		return types.ErrSubscriberNotFound
	}
	return s.router.Remove(id)
}

// HasSubscriber reports whether id is still routed to. The router drops a
// subscriber on its own once it reports it was destroyed.
func (s *Session) HasSubscriber(id string) bool {
	return s.router != nil && s.router.Has(id)
}

// Subscribers returns subscriber ids in delivery order.
func (s *Session) Subscribers() []string {
	if s.router == nil {
		return nil
	}
	return s.router.SubscriberIDs()
}

// ID is a uuid unique per session.
func (s *Session) ID() string { return s.id }

// Key returns the (facing, backend) pair the session serves.
func (s *Session) Key() types.SessionKey { return s.key }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state.get() }

// Output returns the negotiated stream configuration.
func (s *Session) Output() OutputConfig { return s.output }

// Policy returns the resolved queue policy.
func (s *Session) Policy() types.QueuePolicy { return s.policy }

// Done is closed once the session reached Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, nil after a plain Close.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func releaseBuffer(h *hwbuffer.Handle) {
	if err := h.Release(); err != nil {
		logging.Logger().Error("capture: buffer release failed",
			"buffer_id", h.ID(),
			"error", err,
		)
	}
}
