// Package router fans a session's frames out to its subscribed engines and
// releases each buffer back to the producer once every subscriber is done.
//
// Design:
//   - Copy-on-write subscriber snapshot (atomic pointer), writers serialized
//   - Per-subscriber mutex brackets each delivery call, so a removal is
//     observed either fully before or fully after a call, never during it
//   - Synchronous delivery in registration order on the caller goroutine
//   - Exactly one release of the producer reference per frame
package router

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/types"
)

// Subscriber is the consumer side of a delivery.
//
// DeliverFrame must not block on the caller: sync-copy subscribers are done
// with buf when they return, async-retain subscribers Retain it before
// returning and Release it later from their own goroutine.
type Subscriber interface {
	ID() string
	Mode() types.DeliveryMode
	DeliverFrame(buf *hwbuffer.Handle, rotationDegrees int, isBackFacing bool) error
}

// entry is a registered subscriber. mu is held for the duration of one
// delivery call; removed is only read and written under mu.
type entry struct {
	sub     Subscriber
	mu      sync.Mutex
	removed bool

	delivered atomic.Uint64
	notReady  atomic.Uint64
	failed    atomic.Uint64
}

// Router distributes frames of one session.
//
// Thread-safety: Deliver is called from capture goroutines, Add/Remove/Close
// from the orchestration goroutine. All methods are safe for concurrent use.
type Router struct {
	sessionID string

	mu       sync.Mutex // serializes snapshot writers
	closed   bool
	snapshot atomic.Pointer[[]*entry]

	frames        atomic.Uint64
	releases      atomic.Uint64
	releaseErrors atomic.Uint64
}

// New creates an empty router for the given session.
func New(sessionID string) *Router {
	r := &Router{sessionID: sessionID}
	empty := []*entry{}
	r.snapshot.Store(&empty)
	return r
}

// Add registers a subscriber at the end of the delivery order.
func (r *Router) Add(sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return types.ErrSessionClosed
	}

	current := *r.snapshot.Load()
	for _, e := range current {
		if e.sub.ID() == sub.ID() {
			return types.ErrSubscriberExists
		}
	}

	next := make([]*entry, len(current), len(current)+1)
	copy(next, current)
	next = append(next, &entry{sub: sub})
	r.snapshot.Store(&next)

	logging.Logger().Debug("router: subscriber added",
		"session_id", r.sessionID,
		"subscriber", sub.ID(),
		"mode", sub.Mode().String(),
		"subscribers", len(next),
	)
	return nil
}

// Remove unregisters a subscriber. It returns only after any delivery call
// into that subscriber already in progress has returned; no call starts
// afterwards.
func (r *Router) Remove(id string) error {
	r.mu.Lock()
	e := r.unlink(func(e *entry) bool { return e.sub.ID() == id })
	r.mu.Unlock()

	if e == nil {
		return types.ErrSubscriberNotFound
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	logging.Logger().Debug("router: subscriber removed",
		"session_id", r.sessionID,
		"subscriber", id,
	)
	return nil
}

// unlink swaps in a snapshot without the first entry matching match.
// Caller holds r.mu.
func (r *Router) unlink(match func(*entry) bool) *entry {
	current := *r.snapshot.Load()
	for i, e := range current {
		if !match(e) {
			continue
		}
		next := make([]*entry, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		r.snapshot.Store(&next)
		return e
	}
	return nil
}

// Deliver hands frame to every subscriber present when delivery begins, then
// releases the producer's reference on the buffer.
func (r *Router) Deliver(frame *types.Frame) {
	r.frames.Add(1)
	defer r.release(frame)

	for _, e := range *r.snapshot.Load() {
		r.deliverTo(e, frame)
	}
}

func (r *Router) deliverTo(e *entry, frame *types.Frame) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}

	err := e.sub.DeliverFrame(frame.Buffer, int(frame.Rotation), frame.IsBackFacing())

	evict := false
	switch {
	case err == nil:
		e.delivered.Add(1)
	case errors.Is(err, types.ErrNotReady):
		e.notReady.Add(1)
		logging.Logger().Debug("router: subscriber not ready, frame skipped",
			"session_id", r.sessionID,
			"subscriber", e.sub.ID(),
			"seq", frame.Seq,
		)
	case errors.Is(err, types.ErrUseAfterDestroy):
		e.failed.Add(1)
		e.removed = true
		evict = true
		logging.Logger().Error("router: delivery to destroyed engine, evicting",
			"session_id", r.sessionID,
			"subscriber", e.sub.ID(),
			"seq", frame.Seq,
		)
	default:
		e.failed.Add(1)
		logging.Logger().Warn("router: delivery failed",
			"session_id", r.sessionID,
			"subscriber", e.sub.ID(),
			"seq", frame.Seq,
			"error", err,
		)
	}
	e.mu.Unlock()

	if evict {
		r.mu.Lock()
		r.unlink(func(x *entry) bool { return x == e })
		r.mu.Unlock()
	}
}

func (r *Router) release(frame *types.Frame) {
	if err := frame.Buffer.Release(); err != nil {
		r.releaseErrors.Add(1)
		logging.Logger().Error("router: buffer release failed",
			"session_id", r.sessionID,
			"seq", frame.Seq,
			"buffer_id", frame.Buffer.ID(),
			"error", err,
		)
		return
	}
	r.releases.Add(1)
}

// Close removes every subscriber, waiting for in-flight calls. Later
// deliveries only release their buffer. Idempotent.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	current := *r.snapshot.Load()
	empty := []*entry{}
	r.snapshot.Store(&empty)
	r.mu.Unlock()

	for _, e := range current {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
}

// Has reports whether id is subscribed.
func (r *Router) Has(id string) bool {
	for _, e := range *r.snapshot.Load() {
		if e.sub.ID() == id {
			return true
		}
	}
	return false
}

// Len returns the number of subscribers.
func (r *Router) Len() int {
	return len(*r.snapshot.Load())
}

// SubscriberIDs returns the subscribers in delivery order.
func (r *Router) SubscriberIDs() []string {
	current := *r.snapshot.Load()
	ids := make([]string, len(current))
	for i, e := range current {
		ids[i] = e.sub.ID()
	}
	return ids
}
