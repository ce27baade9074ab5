package capture

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateConfiguring
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateConfiguring:
		return "configuring"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrIllegalTransition is returned for a transition outside the lifecycle.
var ErrIllegalTransition = errors.New("capture: illegal state transition")

// Opening and Configuring fail straight to Closed. Closed is terminal.
var transitions = map[State][]State{
	StateIdle:        {StateOpening, StateClosed},
	StateOpening:     {StateConfiguring, StateClosed},
	StateConfiguring: {StateStreaming, StateClosed},
	StateStreaming:   {StateClosing},
	StateClosing:     {StateClosed},
}

type stateMachine struct {
	mu  sync.Mutex
	cur State
}

func (m *stateMachine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range transitions[m.cur] {
		if allowed == to {
			m.cur = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.cur, to)
}
