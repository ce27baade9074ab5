// Package engine bridges delivered frames into render engines.
//
// An Engine is a router subscriber. Its delivery mode is fixed by its kind:
// raster engines copy the buffer on the delivering goroutine and are done
// when DeliverFrame returns; texture engines retain the buffer in a
// single-slot mailbox and release it from their render goroutine after the
// upload. Presentation onto a bound surface always happens on the render
// goroutine.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gg/surface"
	"github.com/google/uuid"
)

// State is the lifecycle state of an engine.
type State int

const (
	// StateUnbound: no surface; frames are refused with ErrNotReady.
	StateUnbound State = iota
	// StateBound: a surface is attached and frames are presented.
	StateBound
	// StateDestroyed is terminal.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type pendingFrame struct {
	buf    *hwbuffer.Handle
	orient Orientation
}

// Engine is the handle to one render engine.
type Engine struct {
	id   string
	kind types.EngineKind
	mode types.DeliveryMode
	peer Peer

	mu         sync.Mutex
	cond       *sync.Cond
	state      State
	tasks      []*task
	pending    *pendingFrame
	presentReq bool
	stopped    chan struct{}

	// Owned by the render goroutine.
	target        surface.Surface
	width, height int
	pres          presenter

	delivered  atomic.Uint64
	notReady   atomic.Uint64
	superseded atomic.Uint64
	uploaded   atomic.Uint64
	presented  atomic.Uint64
	failed     atomic.Uint64
}

// Initialize creates an engine of kind from the default registry and starts
// its render goroutine. The engine starts unbound.
func Initialize(kind types.EngineKind) (*Engine, error) {
	return defaultRegistry.Initialize(kind)
}

func newEngine(kind types.EngineKind, peer Peer) *Engine {
	e := &Engine{
		id:      uuid.NewString(),
		kind:    kind,
		mode:    kind.Mode(),
		peer:    peer,
		stopped: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()

	logging.Logger().Info("engine: initialized",
		"engine", e.id,
		"kind", kind.String(),
		"mode", e.mode.String(),
		"peer", peer.Name(),
	)
	return e
}

// ID implements router.Subscriber.
func (e *Engine) ID() string { return e.id }

// Mode implements router.Subscriber.
func (e *Engine) Mode() types.DeliveryMode { return e.mode }

// Kind returns the engine kind.
func (e *Engine) Kind() types.EngineKind { return e.kind }

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// DeliverFrame implements router.Subscriber. It never blocks on the render
// goroutine.
func (e *Engine) DeliverFrame(buf *hwbuffer.Handle, rotationDegrees int, isBackFacing bool) error {
	rot := types.Rotation(rotationDegrees)
	o := Orientation{Rotation: rot, Mirror: !isBackFacing}

	e.mu.Lock()
	switch {
	case e.state == StateDestroyed:
		e.mu.Unlock()
		return fmt.Errorf("engine %s: deliver: %w", e.id, types.ErrUseAfterDestroy)
	case e.state == StateUnbound:
		e.mu.Unlock()
		e.notReady.Add(1)
		return types.ErrNotReady
	case !rot.Valid():
		e.mu.Unlock()
		e.failed.Add(1)
		return fmt.Errorf("engine %s: %w: %d", e.id, types.ErrInvalidRotation, rotationDegrees)
	}

	if e.mode == types.ModeAsyncRetain {
		if err := buf.Retain(); err != nil {
			e.mu.Unlock()
			e.failed.Add(1)
			return fmt.Errorf("engine %s: retain buffer %d: %w", e.id, buf.ID(), err)
		}
		old := e.pending
		e.pending = &pendingFrame{buf: buf, orient: o}
		e.cond.Signal()
		e.mu.Unlock()

		if old != nil {
			e.superseded.Add(1)
			e.releaseBuffer(old.buf)
		}
		e.delivered.Add(1)
		return nil
	}
	e.mu.Unlock()

	if err := e.peer.Stage(buf, o); err != nil {
		e.failed.Add(1)
		return fmt.Errorf("engine %s: stage: %w", e.id, err)
	}
	e.uploaded.Add(1)
	e.delivered.Add(1)
	e.requestPresent()
	return nil
}

// SetSurface binds target as the draw target, or detaches presentation when
// target is nil. Width and height default to the surface size. It returns
// once the render goroutine has applied the change; the staged image
// survives a detach and is re-presented on the next bind.
//
// SetSurface must not be called from a surface's own draw callback.
func (e *Engine) SetSurface(target surface.Surface, width, height int) error {
	if target != nil && (width <= 0 || height <= 0) {
		width, height = target.Width(), target.Height()
	}

	err := e.post(func() {
		e.target, e.width, e.height = target, width, height

		e.mu.Lock()
		if e.state != StateDestroyed {
			if target == nil {
				e.state = StateUnbound
			} else {
				e.state = StateBound
			}
		}
		e.mu.Unlock()

		if target != nil {
			e.render()
		}
	})
	if err != nil {
		return fmt.Errorf("engine %s: set surface: %w", e.id, err)
	}

	if target == nil {
		logging.Logger().Info("engine: surface detached", "engine", e.id)
	} else {
		logging.Logger().Info("engine: surface bound",
			"engine", e.id,
			"size", fmt.Sprintf("%dx%d", width, height),
		)
	}
	return nil
}

// Discard drops a retained frame that has not been uploaded yet and waits
// for an upload already in progress. When it returns the engine holds no
// delivered buffer. The staged image is kept.
//
// Call it after the engine stopped receiving frames from a source.
func (e *Engine) Discard() error {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	if pending != nil {
		e.releaseBuffer(pending.buf)
	}
	if err := e.post(func() {}); err != nil {
		return fmt.Errorf("engine %s: discard: %w", e.id, err)
	}
	return nil
}

// Destroy stops the render goroutine, releases a pending retained buffer and
// closes the peer. It is terminal: any later call, including a second
// Destroy, fails with ErrUseAfterDestroy.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	if e.state == StateDestroyed {
		e.mu.Unlock()
		return fmt.Errorf("engine %s: destroy: %w", e.id, types.ErrUseAfterDestroy)
	}
	e.state = StateDestroyed
	e.cond.Broadcast()
	e.mu.Unlock()

	<-e.stopped

	e.pres.close()
	e.target = nil
	err := e.peer.Close()

	st := e.Stats()
	logging.Logger().Info("engine: destroyed",
		"engine", e.id,
		"delivered", st.Delivered,
		"superseded", st.Superseded,
		"presented", st.Presented,
	)
	if err != nil {
		return fmt.Errorf("engine %s: close peer: %w", e.id, err)
	}
	return nil
}

func (e *Engine) requestPresent() {
	e.mu.Lock()
	e.presentReq = true
	e.cond.Signal()
	e.mu.Unlock()
}

func (e *Engine) releaseBuffer(buf *hwbuffer.Handle) {
	if err := buf.Release(); err != nil {
		logging.Logger().Error("engine: buffer release failed",
			"engine", e.id,
			"buffer", buf.ID(),
			"error", err,
		)
	}
}
