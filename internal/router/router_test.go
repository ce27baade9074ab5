package router

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gputypes"
)

// fakeSub is a sync-copy subscriber unless async is set, in which case it
// retains each buffer and hands it to the test through held.
type fakeSub struct {
	id    string
	async bool
	err   error

	mu    sync.Mutex
	calls int
	order *[]string
	held  chan *hwbuffer.Handle

	// block, when set, parks DeliverFrame until closed.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Mode() types.DeliveryMode {
	if f.async {
		return types.ModeAsyncRetain
	}
	return types.ModeSyncCopy
}

func (f *fakeSub) DeliverFrame(buf *hwbuffer.Handle, _ int, _ bool) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	f.calls++
	if f.order != nil {
		*f.order = append(*f.order, f.id)
	}
	f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	if f.async {
		if err := buf.Retain(); err != nil {
			return err
		}
		f.held <- buf
	}
	return nil
}

func (f *fakeSub) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newAllocator(t *testing.T, slots int) *hwbuffer.Allocator {
	t.Helper()
	a, err := hwbuffer.NewAllocator(hwbuffer.Desc{
		Width:  16,
		Height: 16,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding,
	}, slots)
	if err != nil {
		t.Fatalf("NewAllocator failed: %v", err)
	}
	return a
}

func nextFrame(t *testing.T, a *hwbuffer.Allocator, seq uint64) *types.Frame {
	t.Helper()
	h, err := a.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	return &types.Frame{Buffer: h, Seq: seq, Facing: types.FacingBack, Timestamp: time.Now()}
}

func TestDeliverReleasesOnceAfterAllSubscribers(t *testing.T) {
	a := newAllocator(t, 1)
	r := New("test")

	var subs []*fakeSub
	for i := 0; i < 4; i++ {
		s := &fakeSub{id: fmt.Sprintf("sub-%d", i)}
		subs = append(subs, s)
		if err := r.Add(s); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	const frames = 50
	for i := uint64(0); i < frames; i++ {
		// One slot: TryAcquire fails unless the previous frame was released.
		r.Deliver(nextFrame(t, a, i))
	}

	for _, s := range subs {
		if s.Calls() != frames {
			t.Errorf("%s got %d calls, want %d", s.id, s.Calls(), frames)
		}
	}

	st := a.Stats()
	if st.Acquired != frames || st.Returned != frames || st.DoubleReleases != 0 {
		t.Errorf("allocator stats = %+v", st)
	}
	rs := r.Stats()
	if rs.Frames != frames || rs.Releases != frames || rs.ReleaseErrors != 0 {
		t.Errorf("router stats = %+v", rs)
	}
}

func TestAsyncSubscriberHoldsBufferPastDeliver(t *testing.T) {
	a := newAllocator(t, 2)
	r := New("test")

	raster := &fakeSub{id: "raster"}
	async := &fakeSub{id: "texture", async: true, held: make(chan *hwbuffer.Handle, 1)}
	if err := r.Add(raster); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(async); err != nil {
		t.Fatal(err)
	}

	r.Deliver(nextFrame(t, a, 1))

	held := <-async.held
	if st := a.Stats(); st.Returned != 0 {
		t.Fatalf("buffer returned while async subscriber holds it: %+v", st)
	}
	if held.Refs() != 1 {
		t.Errorf("refs = %d, want 1 (async subscriber only)", held.Refs())
	}

	if err := held.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if st := a.Stats(); st.Returned != 1 || st.Outstanding != 0 {
		t.Errorf("stats after async release = %+v", st)
	}
}

func TestDeliveryOrderFollowsRegistration(t *testing.T) {
	a := newAllocator(t, 1)
	r := New("test")

	var order []string
	for _, id := range []string{"c", "a", "b"} {
		if err := r.Add(&fakeSub{id: id, order: &order}); err != nil {
			t.Fatal(err)
		}
	}
	r.Deliver(nextFrame(t, a, 1))

	want := []string{"c", "a", "b"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if fmt.Sprint(r.SubscriberIDs()) != fmt.Sprint(want) {
		t.Errorf("SubscriberIDs = %v, want %v", r.SubscriberIDs(), want)
	}
}

func TestNotReadySkipsOnlyThatSubscriber(t *testing.T) {
	a := newAllocator(t, 1)
	r := New("test")

	idle := &fakeSub{id: "idle", err: types.ErrNotReady}
	live := &fakeSub{id: "live"}
	_ = r.Add(idle)
	_ = r.Add(live)

	for i := uint64(0); i < 5; i++ {
		r.Deliver(nextFrame(t, a, i))
	}

	if live.Calls() != 5 {
		t.Errorf("live got %d calls, want 5", live.Calls())
	}
	if !r.Has("idle") {
		t.Error("not-ready subscriber must stay registered")
	}

	st := r.Stats()
	if st.Subscribers[0].NotReady != 5 || st.Subscribers[0].Delivered != 0 {
		t.Errorf("idle stats = %+v", st.Subscribers[0])
	}
	if st.Subscribers[1].Delivered != 5 {
		t.Errorf("live stats = %+v", st.Subscribers[1])
	}
	if a.Stats().Outstanding != 0 {
		t.Error("buffers leaked")
	}
}

func TestUseAfterDestroyEvictsSubscriber(t *testing.T) {
	a := newAllocator(t, 1)
	r := New("test")

	dead := &fakeSub{id: "dead", err: types.ErrUseAfterDestroy}
	live := &fakeSub{id: "live"}
	_ = r.Add(dead)
	_ = r.Add(live)

	r.Deliver(nextFrame(t, a, 1))
	r.Deliver(nextFrame(t, a, 2))

	if dead.Calls() != 1 {
		t.Errorf("destroyed engine called %d times, want 1", dead.Calls())
	}
	if r.Has("dead") {
		t.Error("destroyed engine still subscribed")
	}
	if live.Calls() != 2 {
		t.Errorf("live got %d calls, want 2", live.Calls())
	}
}

func TestAddRemoveErrors(t *testing.T) {
	r := New("test")
	if err := r.Add(&fakeSub{id: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(&fakeSub{id: "x"}); !errors.Is(err, types.ErrSubscriberExists) {
		t.Errorf("duplicate Add = %v, want ErrSubscriberExists", err)
	}
	if err := r.Remove("y"); !errors.Is(err, types.ErrSubscriberNotFound) {
		t.Errorf("Remove unknown = %v, want ErrSubscriberNotFound", err)
	}
	if err := r.Remove("x"); err != nil {
		t.Errorf("Remove failed: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}

	r.Close()
	r.Close()
	if err := r.Add(&fakeSub{id: "z"}); !errors.Is(err, types.ErrSessionClosed) {
		t.Errorf("Add after Close = %v, want ErrSessionClosed", err)
	}
}

func TestRemoveWaitsForInFlightDelivery(t *testing.T) {
	a := newAllocator(t, 1)
	r := New("test")

	slow := &fakeSub{id: "slow", block: make(chan struct{}), entered: make(chan struct{}, 1)}
	_ = r.Add(slow)

	first := nextFrame(t, a, 1)
	delivered := make(chan struct{})
	go func() {
		r.Deliver(first)
		close(delivered)
	}()
	<-slow.entered

	removed := make(chan struct{})
	go func() {
		_ = r.Remove("slow")
		close(removed)
	}()

	select {
	case <-removed:
		t.Fatal("Remove returned while delivery in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(slow.block)
	<-removed
	<-delivered

	slow.entered = nil
	r.Deliver(nextFrame(t, a, 2))
	if slow.Calls() != 1 {
		t.Errorf("removed subscriber got %d calls, want 1", slow.Calls())
	}
}

// guardSub fails the test if it is called after its owner marked it gone.
type guardSub struct {
	id   string
	gone atomic.Bool
	bad  atomic.Int32
}

func (g *guardSub) ID() string               { return g.id }
func (g *guardSub) Mode() types.DeliveryMode { return types.ModeSyncCopy }
func (g *guardSub) DeliverFrame(*hwbuffer.Handle, int, bool) error {
	if g.gone.Load() {
		g.bad.Add(1)
	}
	time.Sleep(10 * time.Microsecond)
	return nil
}

func TestNoDeliveryAfterRemoveReturns(t *testing.T) {
	a := newAllocator(t, 4)
	r := New("test")

	const rounds = 200
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		var seq uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			h, err := a.TryAcquire()
			if err != nil {
				continue
			}
			seq++
			r.Deliver(&types.Frame{Buffer: h, Seq: seq})
		}
	}()

	var bad int32
	for i := 0; i < rounds; i++ {
		g := &guardSub{id: fmt.Sprintf("g-%d", i)}
		if err := r.Add(g); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		time.Sleep(20 * time.Microsecond)
		if err := r.Remove(g.id); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		g.gone.Store(true)
		time.Sleep(20 * time.Microsecond)
		bad += g.bad.Load()
	}

	close(stop)
	wg.Wait()

	if bad != 0 {
		t.Errorf("%d deliveries observed after Remove returned", bad)
	}
	if st := a.Stats(); st.Outstanding != 0 || st.DoubleReleases != 0 {
		t.Errorf("allocator stats = %+v", st)
	}
}

func TestDeliverAfterCloseStillReleases(t *testing.T) {
	a := newAllocator(t, 1)
	r := New("test")
	s := &fakeSub{id: "s"}
	_ = r.Add(s)
	r.Close()

	r.Deliver(nextFrame(t, a, 1))
	if s.Calls() != 0 {
		t.Error("delivery after Close reached subscriber")
	}
	if a.Stats().Outstanding != 0 {
		t.Error("buffer not released after Close")
	}
}
