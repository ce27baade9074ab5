package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/engine"
	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/types"
)

type engineState struct {
	eng    *engine.Engine
	source *types.SessionKey // nil when unfed
}

type feed struct {
	session *capture.Session
	engines []string
}

// run is the controller goroutine.
func (o *Orchestrator) run() {
	defer close(o.done)

	for it := range o.intents {
		r := o.handle(it)
		if it.reply != nil {
			it.reply <- r
		}
		if it.op == opClose {
			return
		}
	}
}

func (o *Orchestrator) handle(it *intent) result {
	var r result

	if it.op != opClose && it.op != opSessionLost {
		o.reconcile()
	}

	switch it.op {
	case opAddEngine:
		r.engineID, r.err = o.addEngine(it.kind)

	case opRemoveEngine:
		r.err = o.removeEngine(it.engineID)

	case opFeed:
		r.err = o.feedEngine(it.ctx, it.engineID, types.SessionKey{Facing: it.facing, Backend: it.backend})

	case opSwitchBackend, opSwitchFacing, opToggleFacing, opToggleBackend:
		r.err = o.switchEngine(it.ctx, it)

	case opUnfeed:
		st, err := o.lookup(it.engineID)
		if err != nil {
			r.err = err
			break
		}
		o.detach(it.engineID, st)

	case opReassign:
		r.err = o.reassign(it.ctx, types.SessionKey{Facing: it.facing, Backend: it.backend}, it.ids)

	case opSurface:
		st, err := o.lookup(it.engineID)
		if err != nil {
			r.err = err
			break
		}
		r.err = st.eng.SetSurface(it.target, it.width, it.height)

	case opSnapshot:
		r.snapshot = o.snapshot()

	case opStats:
		r.stats = o.stats()

	case opSessionLost:
		o.sessionLost(it.session)

	case opClose:
		o.shutdown()

	default:
		r.err = fmt.Errorf("orchestrator: unknown intent %d", it.op)
	}

	if r.err != nil {
		logging.Logger().Warn("orchestrator: intent failed",
			"intent", it.op.String(),
			"engine", it.engineID,
			"error", r.err,
			"category", types.Classify(r.err).String(),
		)
	}
	return r
}

func (o *Orchestrator) lookup(id string) (*engineState, error) {
	st, ok := o.engines[id]
	if !ok {
		return nil, fmt.Errorf("orchestrator: engine %q: %w", id, types.ErrEngineNotFound)
	}
	return st, nil
}

func (o *Orchestrator) addEngine(kind types.EngineKind) (string, error) {
	eng, err := o.registry.Initialize(kind)
	if err != nil {
		return "", err
	}
	o.engines[eng.ID()] = &engineState{eng: eng}
	o.order = append(o.order, eng.ID())
	return eng.ID(), nil
}

func (o *Orchestrator) removeEngine(id string) error {
	st, err := o.lookup(id)
	if err != nil {
		return err
	}
	o.detach(id, st)
	delete(o.engines, id)
	o.order = slices.DeleteFunc(o.order, func(s string) bool { return s == id })
	return st.eng.Destroy()
}

func (o *Orchestrator) feedEngine(ctx context.Context, id string, key types.SessionKey) error {
	st, err := o.lookup(id)
	if err != nil {
		return err
	}
	if st.source != nil && *st.source == key {
		return nil
	}
	o.detach(id, st)
	return o.attach(ctx, id, st, key)
}

func (o *Orchestrator) switchEngine(ctx context.Context, it *intent) error {
	st, err := o.lookup(it.engineID)
	if err != nil {
		return err
	}
	if st.source == nil {
		return fmt.Errorf("orchestrator: %s engine %q: %w", it.op, it.engineID, types.ErrEngineNotFed)
	}
	key := *st.source
	switch it.op {
	case opSwitchBackend:
		key.Backend = it.backend
	case opSwitchFacing:
		key.Facing = it.facing
	case opToggleFacing:
		key.Facing = key.Facing.Opposite()
	case opToggleBackend:
		key.Backend = key.Backend.Other()
	}
	return o.feedEngine(ctx, it.engineID, key)
}

// attach subscribes the engine to the session for key, opening it when the
// engine is its first subscriber. The engine must be unfed.
func (o *Orchestrator) attach(ctx context.Context, id string, st *engineState, key types.SessionKey) error {
	f, ok := o.feeds[key]
	if !ok {
		s, err := o.manager.Open(ctx, key.Facing, key.Backend)
		if err != nil {
			return fmt.Errorf("orchestrator: feed engine %q from %s: %w", id, key, err)
		}
		f = &feed{session: s}
		o.feeds[key] = f
	}

	if err := f.session.Subscribe(st.eng); err != nil {
		if len(f.engines) == 0 {
			o.closeFeed(key, f)
		}
		return fmt.Errorf("orchestrator: subscribe engine %q to %s: %w", id, key, err)
	}
	f.engines = append(f.engines, id)
	k := key
	st.source = &k

	logging.Logger().Info("orchestrator: engine fed",
		"engine", id,
		"session", key.String(),
		"session_id", f.session.ID(),
		"subscribers", len(f.engines),
	)
	return nil
}

// detach removes the engine from its session and closes the session if it
// lost its last subscriber. When detach returns, no delivery into the
// engine from that session is in flight and the engine holds none of its
// buffers.
func (o *Orchestrator) detach(id string, st *engineState) {
	if st.source == nil {
		return
	}
	key := *st.source
	st.source = nil

	f, ok := o.feeds[key]
	if !ok {
		return
	}
	if err := f.session.Unsubscribe(id); err != nil && !errors.Is(err, types.ErrSubscriberNotFound) {
		logging.Logger().Warn("orchestrator: unsubscribe failed", "engine", id, "session", key.String(), "error", err)
	}
	f.engines = slices.DeleteFunc(f.engines, func(s string) bool { return s == id })
	if err := st.eng.Discard(); err != nil && !errors.Is(err, types.ErrUseAfterDestroy) {
		logging.Logger().Warn("orchestrator: discard failed", "engine", id, "error", err)
	}

	logging.Logger().Info("orchestrator: engine unfed", "engine", id, "session", key.String())

	if len(f.engines) == 0 {
		o.closeFeed(key, f)
	}
}

// closeFeed forgets the session before closing it, so the resulting
// session-closed notification is recognised as our own.
func (o *Orchestrator) closeFeed(key types.SessionKey, f *feed) {
	delete(o.feeds, key)
	if err := f.session.Close(); err != nil {
		logging.Logger().Warn("orchestrator: session close failed", "session", key.String(), "error", err)
	}
}

func (o *Orchestrator) reassign(ctx context.Context, key types.SessionKey, ids []string) error {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, err := o.lookup(id); err != nil {
			return err
		}
		want[id] = true
	}

	// Additions first so a session that keeps at least one engine is not
	// closed and reopened.
	var errs []error
	for _, id := range ids {
		if err := o.feedEngine(ctx, id, key); err != nil {
			errs = append(errs, err)
		}
	}

	if f, ok := o.feeds[key]; ok {
		for _, id := range slices.Clone(f.engines) {
			if !want[id] {
				o.detach(id, o.engines[id])
			}
		}
	}
	return errors.Join(errs...)
}

// sessionLost handles a session that closed without the controller asking,
// e.g. a device disconnect. Its engines are left unfed; nothing is retried.
func (o *Orchestrator) sessionLost(s *capture.Session) {
	key := s.Key()
	f, ok := o.feeds[key]
	if !ok || f.session != s {
		return
	}
	delete(o.feeds, key)

	for _, id := range f.engines {
		if st, ok := o.engines[id]; ok {
			st.source = nil
		}
	}

	logging.Logger().Warn("orchestrator: session lost",
		"session", key.String(),
		"session_id", s.ID(),
		"engines", len(f.engines),
		"error", s.Err(),
		"category", types.Classify(s.Err()).String(),
	)
}

// reconcile drops engines the session routers evicted on their own, so the
// controller never reports an engine as fed when no frame can reach it.
func (o *Orchestrator) reconcile() {
	for key, f := range o.feeds {
		if f.session.State() != capture.StateStreaming {
			// A session lost notification is on its way.
			continue
		}
		var evicted []string
		for _, id := range f.engines {
			if !f.session.HasSubscriber(id) {
				evicted = append(evicted, id)
			}
		}
		if len(evicted) == 0 {
			continue
		}

		f.engines = slices.DeleteFunc(f.engines, func(id string) bool { return slices.Contains(evicted, id) })
		for _, id := range evicted {
			if st, ok := o.engines[id]; ok {
				st.source = nil
			}
			logging.Logger().Warn("orchestrator: engine evicted by session",
				"engine", id,
				"session", key.String(),
				"session_id", f.session.ID(),
			)
		}
		if len(f.engines) == 0 {
			o.closeFeed(key, f)
		}
	}
}

func (o *Orchestrator) snapshot() map[types.SessionKey][]string {
	out := make(map[types.SessionKey][]string, len(o.feeds))
	for key, f := range o.feeds {
		out[key] = slices.Clone(f.engines)
	}
	return out
}

func (o *Orchestrator) shutdown() {
	for _, id := range slices.Clone(o.order) {
		if err := o.removeEngine(id); err != nil {
			logging.Logger().Warn("orchestrator: engine destroy failed", "engine", id, "error", err)
		}
	}
	for key, f := range o.feeds {
		o.closeFeed(key, f)
	}
	logging.Logger().Info("orchestrator: closed")
}
