package orchestrator

import (
	"github.com/e7canasta/framebridge/internal/capture"
	"github.com/e7canasta/framebridge/internal/engine"
)

// Stats is a point-in-time view of every engine and active session.
type Stats struct {
	Engines  []EngineStats
	Sessions []capture.Stats
}

// EngineStats adds the engine's current source to its counters.
type EngineStats struct {
	engine.Stats
	Fed    bool
	Source string // "facing/backend" when fed
}

func (o *Orchestrator) stats() Stats {
	var st Stats
	for _, id := range o.order {
		es := o.engines[id]
		s := EngineStats{Stats: es.eng.Stats()}
		if es.source != nil {
			s.Fed = true
			s.Source = es.source.String()
		}
		st.Engines = append(st.Engines, s)
	}
	for _, f := range o.feeds {
		st.Sessions = append(st.Sessions, f.session.Stats())
	}
	return st
}
