package capture

import (
	"sync"

	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/e7canasta/framebridge/internal/types"
)

// frameQueue sits between the producer and delivery goroutines of a session.
//
// Semantics:
//   - Bounded FIFO of depth frames, one producer, one consumer
//   - block-producer: push waits while full (no frame is ever dropped)
//   - keep-latest: push on a full queue evicts and releases the oldest frame
//   - close wakes both sides and releases whatever is still queued
//
// All fields are protected by mu.
type frameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*types.Frame
	depth  int
	policy types.QueuePolicy
	closed bool

	pushed  uint64
	dropped uint64
	stalls  uint64
}

func newFrameQueue(depth int, policy types.QueuePolicy) *frameQueue {
	if depth < 1 {
		depth = 1
	}
	q := &frameQueue{
		items:  make([]*types.Frame, 0, depth),
		depth:  depth,
		policy: policy,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues f. It returns false, without taking ownership of f, once the
// queue is closed.
func (q *frameQueue) push(f *types.Frame) bool {
	q.mu.Lock()

	if q.policy == types.PolicyBlockProducer && len(q.items) == q.depth && !q.closed {
		q.stalls++
		for len(q.items) == q.depth && !q.closed {
			q.cond.Wait()
		}
	}
	if q.closed {
		q.mu.Unlock()
		return false
	}

	var evicted *types.Frame
	if len(q.items) == q.depth {
		evicted = q.shift()
		q.dropped++
	}
	q.items = append(q.items, f)
	q.pushed++
	q.cond.Broadcast()
	q.mu.Unlock()

	if evicted != nil {
		logging.Logger().Debug("capture: queue full, dropping oldest frame",
			"session_id", evicted.SessionID,
			"seq", evicted.Seq,
		)
		releaseFrame(evicted)
	}
	return true
}

// pop blocks until a frame is queued and returns it, or nil once closed.
func (q *frameQueue) pop() *types.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}
	f := q.shift()
	q.cond.Broadcast()
	return f
}

// shift removes the head. Caller holds mu and len(items) > 0.
func (q *frameQueue) shift() *types.Frame {
	f := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return f
}

// close releases queued frames and wakes both goroutines. Idempotent.
func (q *frameQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.items
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, f := range pending {
		releaseFrame(f)
	}
}

type queueStats struct {
	Len     int
	Pushed  uint64
	Dropped uint64
	Stalls  uint64
}

func (q *frameQueue) stats() queueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queueStats{Len: len(q.items), Pushed: q.pushed, Dropped: q.dropped, Stalls: q.stalls}
}

func releaseFrame(f *types.Frame) {
	if err := f.Buffer.Release(); err != nil {
		logging.Logger().Error("capture: buffer release failed",
			"session_id", f.SessionID,
			"seq", f.Seq,
			"error", err,
		)
	}
}
