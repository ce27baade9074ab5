package orchestrator

import (
	"context"

	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gg/surface"
)

type op int

const (
	opAddEngine op = iota
	opRemoveEngine
	opFeed
	opSwitchBackend
	opSwitchFacing
	opToggleFacing
	opToggleBackend
	opUnfeed
	opReassign
	opSurface
	opSnapshot
	opStats
	opSessionLost
	opClose
)

func (o op) String() string {
	switch o {
	case opAddEngine:
		return "add_engine"
	case opRemoveEngine:
		return "remove_engine"
	case opFeed:
		return "feed"
	case opSwitchBackend:
		return "switch_backend"
	case opSwitchFacing:
		return "switch_facing"
	case opToggleFacing:
		return "toggle_facing"
	case opToggleBackend:
		return "toggle_backend"
	case opUnfeed:
		return "unfeed"
	case opReassign:
		return "reassign"
	case opSurface:
		return "surface"
	case opSnapshot:
		return "snapshot"
	case opStats:
		return "stats"
	case opSessionLost:
		return "session_lost"
	case opClose:
		return "close"
	default:
		return "unknown"
	}
}

// intent is one request to the controller goroutine. reply is nil for
// notifications that nobody waits on.
type intent struct {
	op  op
	ctx context.Context

	engineID string
	kind     types.EngineKind
	facing   types.Facing
	backend  types.Backend
	ids      []string

	target        surface.Surface
	width, height int

	session *capture.Session

	reply chan result
}

type result struct {
	engineID string
	snapshot map[types.SessionKey][]string
	stats    Stats
	err      error
}
