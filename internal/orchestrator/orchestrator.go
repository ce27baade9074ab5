// Package orchestrator decides which capture session feeds which render
// engine.
//
// All orchestration state lives on one controller goroutine. Public methods
// send an intent and wait for its reply, so callers never share mutable
// state with the controller. A context only abandons an intent that has not
// been queued yet; a queued intent always takes effect and reports back. Frame delivery runs on the sessions' own
// goroutines and never waits for the controller.
//
// Switching an engine's source always detaches it from the old session
// before attaching it to the new one: an engine is fed by at most one
// session at any instant.
package orchestrator

import (
	"context"
	"sync"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/engine"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gg/surface"
)

const intentQueueSize = 16

// Orchestrator owns engines and the sessions feeding them.
type Orchestrator struct {
	manager  *capture.Manager
	registry *engine.Registry

	intents   chan *intent
	done      chan struct{}
	closeOnce sync.Once

	// Controller goroutine only.
	engines map[string]*engineState
	feeds   map[types.SessionKey]*feed
	order   []string
}

// New starts the controller goroutine. Engines are created from registry,
// or from the default registry when nil. The orchestrator takes over the
// manager's session-closed callback.
func New(manager *capture.Manager, registry *engine.Registry) *Orchestrator {
	if registry == nil {
		registry = engine.DefaultRegistry()
	}
	o := &Orchestrator{
		manager:  manager,
		registry: registry,
		intents:  make(chan *intent, intentQueueSize),
		done:     make(chan struct{}),
		engines:  make(map[string]*engineState),
		feeds:    make(map[types.SessionKey]*feed),
	}
	manager.OnSessionClosed(o.sessionClosed)
	go o.run()
	return o
}

// AddEngine creates an unfed, unbound engine of kind and returns its id.
func (o *Orchestrator) AddEngine(ctx context.Context, kind types.EngineKind) (string, error) {
	r, err := o.send(ctx, &intent{op: opAddEngine, kind: kind})
	return r.engineID, err
}

// RemoveEngine unfeeds and destroys the engine.
func (o *Orchestrator) RemoveEngine(ctx context.Context, id string) error {
	_, err := o.send(ctx, &intent{op: opRemoveEngine, engineID: id})
	return err
}

// Feed makes the session for (facing, backend) the engine's only source,
// opening the session if needed. On an open failure the engine stays unfed.
func (o *Orchestrator) Feed(ctx context.Context, id string, facing types.Facing, backend types.Backend) error {
	_, err := o.send(ctx, &intent{op: opFeed, engineID: id, facing: facing, backend: backend})
	return err
}

// SwitchBackend keeps the engine's facing and changes its backend.
func (o *Orchestrator) SwitchBackend(ctx context.Context, id string, backend types.Backend) error {
	_, err := o.send(ctx, &intent{op: opSwitchBackend, engineID: id, backend: backend})
	return err
}

// SwitchFacing keeps the engine's backend and changes its facing.
func (o *Orchestrator) SwitchFacing(ctx context.Context, id string, facing types.Facing) error {
	_, err := o.send(ctx, &intent{op: opSwitchFacing, engineID: id, facing: facing})
	return err
}

// ToggleFacing switches the engine between front and back.
func (o *Orchestrator) ToggleFacing(ctx context.Context, id string) error {
	_, err := o.send(ctx, &intent{op: opToggleFacing, engineID: id})
	return err
}

// ToggleBackend switches the engine between the managed and direct backends.
func (o *Orchestrator) ToggleBackend(ctx context.Context, id string) error {
	_, err := o.send(ctx, &intent{op: opToggleBackend, engineID: id})
	return err
}

// Unfeed detaches the engine from its session, closing the session if it was
// the last subscriber.
func (o *Orchestrator) Unfeed(ctx context.Context, id string) error {
	_, err := o.send(ctx, &intent{op: opUnfeed, engineID: id})
	return err
}

// Reassign sets the exact engine set fed by (facing, backend). Engines are
// moved in or out; sessions open or close only when they gain their first or
// lose their last subscriber.
func (o *Orchestrator) Reassign(ctx context.Context, facing types.Facing, backend types.Backend, ids []string) error {
	cp := append([]string(nil), ids...)
	_, err := o.send(ctx, &intent{op: opReassign, facing: facing, backend: backend, ids: cp})
	return err
}

// SurfaceCreated binds a new draw target to the engine.
func (o *Orchestrator) SurfaceCreated(ctx context.Context, id string, target surface.Surface, width, height int) error {
	return o.setSurface(ctx, id, target, width, height)
}

// SurfaceChanged rebinds the engine after a resize or target swap.
func (o *Orchestrator) SurfaceChanged(ctx context.Context, id string, target surface.Surface, width, height int) error {
	return o.setSurface(ctx, id, target, width, height)
}

// SurfaceDestroyed detaches presentation; the engine keeps its last frame.
func (o *Orchestrator) SurfaceDestroyed(ctx context.Context, id string) error {
	return o.setSurface(ctx, id, nil, 0, 0)
}

func (o *Orchestrator) setSurface(ctx context.Context, id string, target surface.Surface, width, height int) error {
	_, err := o.send(ctx, &intent{op: opSurface, engineID: id, target: target, width: width, height: height})
	return err
}

// Snapshot returns the subscription set: engine ids per active session, in
// delivery order.
func (o *Orchestrator) Snapshot(ctx context.Context) (map[types.SessionKey][]string, error) {
	r, err := o.send(ctx, &intent{op: opSnapshot})
	return r.snapshot, err
}

// Stats returns engine and session counters.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	r, err := o.send(ctx, &intent{op: opStats})
	return r.stats, err
}

// Close destroys every engine, closes every session and stops the
// controller. Later calls return ErrOrchestratorClosed; Close itself is
// idempotent.
func (o *Orchestrator) Close() error {
	var err error
	first := false
	o.closeOnce.Do(func() {
		first = true
		_, err = o.send(context.Background(), &intent{op: opClose})
	})
	if !first {
		<-o.done
	}
	return err
}

// Done is closed once the controller goroutine has exited.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) send(ctx context.Context, it *intent) (result, error) {
	it.ctx = ctx
	it.reply = make(chan result, 1)

	select {
	case o.intents <- it:
	case <-o.done:
		return result{}, types.ErrOrchestratorClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}

	// Once queued the intent runs, so its result is always returned. ctx
	// still bounds blocking work inside the controller, such as opening a
	// session.
	select {
	case r := <-it.reply:
		return r, r.err
	case <-o.done:
		// The controller may have replied just before exiting.
		select {
		case r := <-it.reply:
			return r, r.err
		default:
			return result{}, types.ErrOrchestratorClosed
		}
	}
}

// sessionClosed runs on whichever goroutine closed the session, possibly the
// controller itself, so the notification is handed off without blocking.
func (o *Orchestrator) sessionClosed(s *capture.Session) {
	go func() {
		select {
		case o.intents <- &intent{op: opSessionLost, session: s}:
		case <-o.done:
		}
	}()
}
