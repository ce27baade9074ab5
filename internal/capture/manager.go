// Package capture opens camera sessions and streams their frames into a
// per-session router.
//
// The Manager enforces at most one active session per (facing, backend)
// pair. Each Session owns its device, a fixed buffer allocator sized from
// the queue depth, a frame queue with a backpressure policy and a router.
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/types"
)

// DefaultQueueDepth is the session queue depth when none is configured.
const DefaultQueueDepth = 3

// Options tune every session a Manager opens.
type Options struct {
	// QueueDepth sizes the session queue (default 3).
	QueueDepth int
	// Policy overrides the variant default when not PolicyDefault.
	Policy types.QueuePolicy
	// PreferredAspect for output selection (default 16:9, negative disables).
	PreferredAspect float64
	// FPS is passed to the device as a capture rate hint; 0 lets it choose.
	FPS int
}

func (o Options) withDefaults() Options {
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.PreferredAspect == 0 {
		o.PreferredAspect = DefaultAspect
	}
	return o
}

// Manager opens sessions on one driver.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	driver Driver
	opts   Options

	mu       sync.Mutex
	sessions map[types.SessionKey]*Session
	opening  map[types.SessionKey]struct{}
	closed   bool
	onClosed func(*Session)
}

// NewManager creates a manager for driver.
func NewManager(driver Driver, opts Options) *Manager {
	return &Manager{
		driver:   driver,
		opts:     opts.withDefaults(),
		sessions: make(map[types.SessionKey]*Session),
		opening:  make(map[types.SessionKey]struct{}),
	}
}

// OnSessionClosed registers fn to run after any session reached Closed,
// whether by Close or by losing its device. fn runs on the goroutine that
// closed the session and must not block on it.
func (m *Manager) OnSessionClosed(fn func(*Session)) {
	m.mu.Lock()
	m.onClosed = fn
	m.mu.Unlock()
}

// Open starts a session for the pair. It fails with ErrDeviceInUse when the
// pair already has an active session, or with the typed open error of the
// driver. Failures are not retried.
func (m *Manager) Open(ctx context.Context, facing types.Facing, backend types.Backend) (*Session, error) {
	key := types.SessionKey{Facing: facing, Backend: backend}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, types.ErrSessionClosed
	}
	if _, busy := m.sessions[key]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("capture: session %s already active: %w", key, types.ErrDeviceInUse)
	}
	if _, busy := m.opening[key]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("capture: session %s is opening: %w", key, types.ErrDeviceInUse)
	}
	m.opening[key] = struct{}{}
	m.mu.Unlock()

	s := newSession(key, m.opts, m.sessionClosed)
	err := s.open(ctx, m.driver, m.opts.PreferredAspect)

	m.mu.Lock()
	delete(m.opening, key)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if m.closed {
		m.mu.Unlock()
		_ = s.Close()
		return nil, types.ErrSessionClosed
	}
	m.sessions[key] = s
	m.mu.Unlock()

	return s, nil
}

func (m *Manager) sessionClosed(s *Session) {
	m.mu.Lock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	fn := m.onClosed
	m.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// Session returns the active session for a pair.
func (m *Manager) Session(key types.SessionKey) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Sessions returns the active sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Close closes every active session and rejects later opens.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Close(); err != nil {
				logging.Logger().Warn("capture: session close failed",
					"key", s.key.String(),
					"error", err,
				)
			}
		}(s)
	}
	wg.Wait()

	logging.Logger().Info("capture: manager closed",
		"driver", m.driver.Name(),
		"sessions_closed", len(sessions),
	)
}

// Driver returns the driver sessions are opened on.
func (m *Manager) Driver() Driver { return m.driver }
