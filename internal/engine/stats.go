package engine

import "github.com/e7canasta/framebridge/internal/types"

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	ID    string
	Kind  types.EngineKind
	Mode  types.DeliveryMode
	State State

	Delivered  uint64 // frames accepted by DeliverFrame
	NotReady   uint64 // frames refused without a bound surface
	Superseded uint64 // retained frames replaced before upload
	Uploaded   uint64 // frames staged into the peer
	Presented  uint64 // surface presentations
	Failed     uint64
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		ID:         e.id,
		Kind:       e.kind,
		Mode:       e.mode,
		State:      e.State(),
		Delivered:  e.delivered.Load(),
		NotReady:   e.notReady.Load(),
		Superseded: e.superseded.Load(),
		Uploaded:   e.uploaded.Load(),
		Presented:  e.presented.Load(),
		Failed:     e.failed.Load(),
	}
}
