package hwbuffer

import (
	"context"
	"sync"
	"sync/atomic"
)

// Allocator hands out a fixed number of slabs for one descriptor. It stands
// in for the platform image queue: when every slab is borrowed, Acquire
// blocks until one is released.
type Allocator struct {
	desc   Desc
	stride int
	slots  int
	free   chan []byte // nil entries are allocated lazily

	mu      sync.Mutex
	changed chan struct{} // closed and replaced on every return

	nextID         atomic.Uint64
	acquired       atomic.Uint64
	returned       atomic.Uint64
	doubleReleases atomic.Uint64
}

// Stats is a snapshot of allocator counters.
type Stats struct {
	Slots          int
	Acquired       uint64
	Returned       uint64
	Outstanding    uint64
	DoubleReleases uint64
}

// NewAllocator creates an allocator with the given number of slabs.
func NewAllocator(desc Desc, slots int) (*Allocator, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if slots < 1 {
		slots = 1
	}
	bpp, _ := BytesPerPixel(desc.Format)

	a := &Allocator{
		desc:    desc,
		stride:  desc.Width * bpp,
		slots:   slots,
		free:    make(chan []byte, slots),
		changed: make(chan struct{}),
	}
	for i := 0; i < slots; i++ {
		a.free <- nil
	}
	return a, nil
}

// Desc returns the descriptor shared by every slab.
func (a *Allocator) Desc() Desc { return a.desc }

// Slots returns the slab count.
func (a *Allocator) Slots() int { return a.slots }

// Acquire blocks until a slab is free or ctx is done.
func (a *Allocator) Acquire(ctx context.Context) (*Handle, error) {
	select {
	case pix := <-a.free:
		return a.issue(pix), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire returns ErrExhausted instead of blocking.
func (a *Allocator) TryAcquire() (*Handle, error) {
	select {
	case pix := <-a.free:
		return a.issue(pix), nil
	default:
		return nil, ErrExhausted
	}
}

func (a *Allocator) issue(pix []byte) *Handle {
	if pix == nil {
		pix = make([]byte, a.stride*a.desc.Height)
	}
	h := &Handle{
		id:     a.nextID.Add(1),
		desc:   a.desc,
		pix:    pix,
		stride: a.stride,
		owner:  a,
	}
	h.refs.Store(1)
	a.acquired.Add(1)
	return h
}

// put returns a slab. The channel never blocks: at most slots slabs exist.
func (a *Allocator) put(h *Handle) {
	pix := h.pix
	h.pix = nil
	a.returned.Add(1)
	a.free <- pix

	a.mu.Lock()
	close(a.changed)
	a.changed = make(chan struct{})
	a.mu.Unlock()
}

// Drain blocks until every issued slab has been returned or ctx is done.
// It does not stop new acquisitions.
func (a *Allocator) Drain(ctx context.Context) error {
	for {
		a.mu.Lock()
		changed := a.changed
		a.mu.Unlock()

		if a.Stats().Outstanding == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns a snapshot of the counters.
func (a *Allocator) Stats() Stats {
	// returned first: it can only trail acquired
	returned := a.returned.Load()
	acquired := a.acquired.Load()
	return Stats{
		Slots:          a.slots,
		Acquired:       acquired,
		Returned:       returned,
		Outstanding:    acquired - returned,
		DoubleReleases: a.doubleReleases.Load(),
	}
}
