package capture

import (
	"time"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/router"
	"github.com/e7canasta/framebridge/internal/types"
)

// Stats is a snapshot of one session.
type Stats struct {
	ID         string
	Key        types.SessionKey
	State      State
	Output     OutputConfig
	Policy     types.QueuePolicy
	QueueDepth int
	Uptime     time.Duration

	Captured  uint64
	Enqueued  uint64
	Delivered uint64
	// Dropped counts frames evicted by keep-latest.
	Dropped uint64
	// Stalls counts producer waits under block-producer.
	Stalls uint64
	Queued int
	Rate   RateStats

	Buffers hwbuffer.Stats
	Router  router.Stats
}

// Stats returns a snapshot. Valid in any state; counters stop at Close.
func (s *Session) Stats() Stats {
	st := Stats{
		ID:         s.id,
		Key:        s.key,
		State:      s.state.get(),
		Output:     s.output,
		Policy:     s.policy,
		QueueDepth: s.depth,
		Captured:   s.captured.Load(),
		Delivered:  s.delivered.Load(),
		Rate:       s.rate.stats(),
	}
	if !s.started.IsZero() {
		st.Uptime = time.Since(s.started)
	}
	if s.queue != nil {
		q := s.queue.stats()
		st.Enqueued, st.Dropped, st.Stalls, st.Queued = q.Pushed, q.Dropped, q.Stalls, q.Len
	}
	if s.alloc != nil {
		st.Buffers = s.alloc.Stats()
	}
	if s.router != nil {
		st.Router = s.router.Stats()
	}
	return st
}
