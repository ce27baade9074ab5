package router

import "github.com/e7canasta/framebridge/internal/types"

// Stats is a snapshot of router counters.
type Stats struct {
	// Frames counts Deliver calls.
	Frames uint64
	// Releases counts producer references released. Equals Frames once no
	// delivery is in flight.
	Releases uint64
	// ReleaseErrors should stay 0; anything else is a lifecycle bug.
	ReleaseErrors uint64
	// Subscribers in delivery order. Removed subscribers are not reported.
	Subscribers []SubscriberStats
}

// SubscriberStats tracks one subscriber.
type SubscriberStats struct {
	ID        string
	Mode      types.DeliveryMode
	Delivered uint64
	// NotReady counts frames skipped because the subscriber had no surface.
	NotReady uint64
	Failed   uint64
}

// Stats returns a snapshot. Counters may be slightly stale relative to each
// other while deliveries run.
func (r *Router) Stats() Stats {
	current := *r.snapshot.Load()
	subs := make([]SubscriberStats, 0, len(current))
	for _, e := range current {
		subs = append(subs, SubscriberStats{
			ID:        e.sub.ID(),
			Mode:      e.sub.Mode(),
			Delivered: e.delivered.Load(),
			NotReady:  e.notReady.Load(),
			Failed:    e.failed.Load(),
		})
	}
	return Stats{
		Frames:        r.frames.Load(),
		Releases:      r.releases.Load(),
		ReleaseErrors: r.releaseErrors.Load(),
		Subscribers:   subs,
	}
}
