package engine

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gg/surface"
	"github.com/gogpu/gputypes"
)

// gateSurface blocks DrawImage until gate is closed.
type gateSurface struct {
	*surface.ImageSurface
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGateSurface(w, h int) *gateSurface {
	return &gateSurface{
		ImageSurface: surface.NewImageSurface(w, h),
		entered:      make(chan struct{}),
		gate:         make(chan struct{}),
	}
}

func (s *gateSurface) DrawImage(img image.Image, at surface.Point, opts *surface.DrawImageOptions) {
	s.once.Do(func() { close(s.entered) })
	<-s.gate
	s.ImageSurface.DrawImage(img, at, opts)
}

func newAlloc(t *testing.T, w, h int, format gputypes.TextureFormat, slots int) *hwbuffer.Allocator {
	t.Helper()
	alloc, err := hwbuffer.NewAllocator(hwbuffer.Desc{Width: w, Height: h, Format: format}, slots)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return alloc
}

// solid acquires a buffer filled with c, in the allocator's byte order.
func solid(t *testing.T, alloc *hwbuffer.Allocator, c color.RGBA) *hwbuffer.Handle {
	t.Helper()
	buf, err := alloc.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	desc := buf.Desc()
	pix := buf.Pix()
	for y := 0; y < desc.Height; y++ {
		for x := 0; x < desc.Width; x++ {
			p := pix[y*buf.Stride()+x*4:]
			if desc.Format == gputypes.TextureFormatBGRA8Unorm {
				p[0], p[1], p[2], p[3] = c.B, c.G, c.R, c.A
			} else {
				p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
			}
		}
	}
	return buf
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func isRed(c color.RGBA) bool   { return c.R > 200 && c.G < 50 && c.B < 50 }
func isBlack(c color.RGBA) bool { return c.R < 30 && c.G < 30 && c.B < 30 }

var red = color.RGBA{R: 255, A: 255}

func TestDeliverWithoutSurfaceIsNotReady(t *testing.T) {
	for _, kind := range []types.EngineKind{types.KindRaster, types.KindTexture} {
		e, err := Initialize(kind)
		if err != nil {
			t.Fatalf("Initialize(%s): %v", kind, err)
		}
		alloc := newAlloc(t, 4, 4, gputypes.TextureFormatRGBA8Unorm, 1)
		buf := solid(t, alloc, red)

		if err := e.DeliverFrame(buf, 0, true); !errors.Is(err, types.ErrNotReady) {
			t.Errorf("%s: DeliverFrame unbound = %v, want ErrNotReady", kind, err)
		}
		if buf.Refs() != 1 {
			t.Errorf("%s: refs = %d, want 1 (no retain when not ready)", kind, buf.Refs())
		}
		buf.Release()

		if got := e.Stats().NotReady; got != 1 {
			t.Errorf("%s: NotReady = %d, want 1", kind, got)
		}
		if err := e.Destroy(); err != nil {
			t.Errorf("%s: Destroy: %v", kind, err)
		}
	}
}

func TestRasterCopiesOnCallerAndPresents(t *testing.T) {
	e, err := Initialize(types.KindRaster)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()

	if e.Mode() != types.ModeSyncCopy {
		t.Fatalf("raster mode = %s, want sync-copy", e.Mode())
	}

	target := surface.NewImageSurface(16, 8)
	if err := e.SetSurface(target, 0, 0); err != nil {
		t.Fatalf("SetSurface: %v", err)
	}

	alloc := newAlloc(t, 4, 4, gputypes.TextureFormatRGBA8Unorm, 1)
	buf := solid(t, alloc, red)
	if err := e.DeliverFrame(buf, 0, true); err != nil {
		t.Fatalf("DeliverFrame: %v", err)
	}
	if buf.Refs() != 1 {
		t.Errorf("refs after sync delivery = %d, want 1", buf.Refs())
	}
	// The copy is complete: the slab can be recycled immediately.
	buf.Release()
	if st := alloc.Stats(); st.Outstanding != 0 {
		t.Errorf("outstanding = %d, want 0", st.Outstanding)
	}

	waitFor(t, "presentation", func() bool { return e.Stats().Presented >= 1 })

	img := target.Image()
	if c := img.RGBAAt(8, 4); !isRed(c) {
		t.Errorf("centre pixel = %v, want red", c)
	}
	if c := img.RGBAAt(0, 4); !isBlack(c) {
		t.Errorf("letterbox pixel = %v, want black", c)
	}
}

func TestTextureRetainsUntilUploaded(t *testing.T) {
	e, err := Initialize(types.KindTexture)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()

	if e.Mode() != types.ModeAsyncRetain {
		t.Fatalf("texture mode = %s, want async-retain", e.Mode())
	}

	target := newGateSurface(8, 8)
	if err := e.SetSurface(target, 0, 0); err != nil {
		t.Fatalf("SetSurface: %v", err)
	}

	alloc := newAlloc(t, 4, 4, gputypes.TextureFormatRGBA8Unorm, 3)

	// Frame 1 is uploaded, then the render goroutine blocks presenting it.
	first := solid(t, alloc, red)
	if err := e.DeliverFrame(first, 0, true); err != nil {
		t.Fatalf("DeliverFrame 1: %v", err)
	}
	first.Release()
	<-target.entered

	// Frame 2 waits in the mailbox; frame 3 supersedes it.
	second := solid(t, alloc, red)
	if err := e.DeliverFrame(second, 90, true); err != nil {
		t.Fatalf("DeliverFrame 2: %v", err)
	}
	second.Release()
	if second.Refs() != 1 {
		t.Errorf("pending frame refs = %d, want 1 (engine reference)", second.Refs())
	}

	third := solid(t, alloc, red)
	if err := e.DeliverFrame(third, 180, false); err != nil {
		t.Fatalf("DeliverFrame 3: %v", err)
	}
	third.Release()

	if got := e.Stats().Superseded; got != 1 {
		t.Errorf("Superseded = %d, want 1", got)
	}
	if got := alloc.Stats().Outstanding; got != 1 {
		t.Errorf("outstanding while blocked = %d, want 1 (only the pending frame)", got)
	}

	close(target.gate)

	waitFor(t, "all buffers returned", func() bool { return alloc.Stats().Outstanding == 0 })
	waitFor(t, "second upload", func() bool { return e.Stats().Uploaded == 2 })

	st := alloc.Stats()
	if st.DoubleReleases != 0 {
		t.Errorf("double releases = %d", st.DoubleReleases)
	}
	if st.Returned != 3 {
		t.Errorf("returned = %d, want 3", st.Returned)
	}
}

func TestDetachKeepsTextureForNextBind(t *testing.T) {
	e, err := Initialize(types.KindRaster)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()

	if err := e.SetSurface(surface.NewImageSurface(8, 8), 0, 0); err != nil {
		t.Fatal(err)
	}
	alloc := newAlloc(t, 4, 4, gputypes.TextureFormatRGBA8Unorm, 1)
	buf := solid(t, alloc, red)
	if err := e.DeliverFrame(buf, 0, true); err != nil {
		t.Fatal(err)
	}
	buf.Release()
	waitFor(t, "first presentation", func() bool { return e.Stats().Presented >= 1 })

	if err := e.SetSurface(nil, 0, 0); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if e.State() != StateUnbound {
		t.Errorf("state after detach = %s, want unbound", e.State())
	}

	buf = solid(t, alloc, red)
	if err := e.DeliverFrame(buf, 0, true); !errors.Is(err, types.ErrNotReady) {
		t.Errorf("DeliverFrame detached = %v, want ErrNotReady", err)
	}
	buf.Release()

	before := e.Stats().Presented
	next := surface.NewImageSurface(8, 8)
	if err := e.SetSurface(next, 0, 0); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	// SetSurface returns after the render goroutine re-presented.
	if got := e.Stats().Presented; got != before+1 {
		t.Errorf("presented after rebind = %d, want %d", got, before+1)
	}
	if c := next.Image().RGBAAt(4, 4); !isRed(c) {
		t.Errorf("rebound surface centre = %v, want red", c)
	}
}

func TestDestroyIsTerminal(t *testing.T) {
	e, err := Initialize(types.KindTexture)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if e.State() != StateDestroyed {
		t.Errorf("state = %s, want destroyed", e.State())
	}

	if err := e.Destroy(); !errors.Is(err, types.ErrUseAfterDestroy) {
		t.Errorf("second Destroy = %v, want ErrUseAfterDestroy", err)
	}
	if err := e.SetSurface(surface.NewImageSurface(4, 4), 0, 0); !errors.Is(err, types.ErrUseAfterDestroy) {
		t.Errorf("SetSurface after destroy = %v, want ErrUseAfterDestroy", err)
	}

	alloc := newAlloc(t, 4, 4, gputypes.TextureFormatRGBA8Unorm, 1)
	buf := solid(t, alloc, red)
	defer buf.Release()
	if err := e.DeliverFrame(buf, 0, true); !errors.Is(err, types.ErrUseAfterDestroy) {
		t.Errorf("DeliverFrame after destroy = %v, want ErrUseAfterDestroy", err)
	}
	if buf.Refs() != 1 {
		t.Errorf("refs = %d, want 1", buf.Refs())
	}
}

func TestDestroyReleasesPendingBuffer(t *testing.T) {
	e, err := Initialize(types.KindTexture)
	if err != nil {
		t.Fatal(err)
	}
	target := newGateSurface(8, 8)
	if err := e.SetSurface(target, 0, 0); err != nil {
		t.Fatal(err)
	}

	alloc := newAlloc(t, 4, 4, gputypes.TextureFormatRGBA8Unorm, 2)
	first := solid(t, alloc, red)
	if err := e.DeliverFrame(first, 0, true); err != nil {
		t.Fatal(err)
	}
	first.Release()
	<-target.entered

	second := solid(t, alloc, red)
	if err := e.DeliverFrame(second, 0, true); err != nil {
		t.Fatal(err)
	}
	second.Release()

	done := make(chan error, 1)
	go func() { done <- e.Destroy() }()
	close(target.gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Destroy: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy did not return")
	}

	st := alloc.Stats()
	if st.Outstanding != 0 {
		t.Errorf("outstanding after destroy = %d, want 0", st.Outstanding)
	}
	if st.DoubleReleases != 0 {
		t.Errorf("double releases = %d", st.DoubleReleases)
	}
}

func TestInvalidRotation(t *testing.T) {
	e, err := Initialize(types.KindRaster)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()
	if err := e.SetSurface(surface.NewImageSurface(4, 4), 0, 0); err != nil {
		t.Fatal(err)
	}

	alloc := newAlloc(t, 4, 4, gputypes.TextureFormatRGBA8Unorm, 1)
	buf := solid(t, alloc, red)
	defer buf.Release()

	for _, deg := range []int{45, -90, 360} {
		if err := e.DeliverFrame(buf, deg, true); !errors.Is(err, types.ErrInvalidRotation) {
			t.Errorf("DeliverFrame(rotation %d) = %v, want ErrInvalidRotation", deg, err)
		}
	}
}

func TestBGRAIsSwizzledOnStage(t *testing.T) {
	alloc := newAlloc(t, 2, 2, gputypes.TextureFormatBGRA8Unorm, 1)
	buf := solid(t, alloc, color.RGBA{B: 255, A: 255})
	defer buf.Release()

	for _, p := range []Peer{newRasterPeer(), newTexturePeer(0)} {
		if err := p.Stage(buf, Orientation{}); err != nil {
			t.Fatalf("%s: Stage: %v", p.Name(), err)
		}
		ok := p.View(func(img *image.RGBA, _ Orientation) {
			if c := img.RGBAAt(1, 1); c != (color.RGBA{B: 255, A: 255}) {
				t.Errorf("%s: staged pixel = %v, want blue", p.Name(), c)
			}
		})
		if !ok {
			t.Errorf("%s: View reported nothing staged", p.Name())
		}
		// The delivered buffer is read-only for consumers.
		if got := buf.Pix()[0]; got != 255 {
			t.Errorf("%s: source buffer modified: first byte = %d", p.Name(), got)
		}
		p.Close()
		if err := p.Stage(buf, Orientation{}); !errors.Is(err, types.ErrUseAfterDestroy) {
			t.Errorf("%s: Stage after Close = %v, want ErrUseAfterDestroy", p.Name(), err)
		}
	}
}

func TestOrient(t *testing.T) {
	r := color.RGBA{R: 255, A: 255}
	b := color.RGBA{B: 255, A: 255}
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.SetRGBA(0, 0, r)
	src.SetRGBA(1, 0, b)

	tests := []struct {
		name   string
		orient Orientation
		w, h   int
		want   []color.RGBA // row-major
	}{
		{"identity", Orientation{Rotation: types.Rotation0}, 2, 1, []color.RGBA{r, b}},
		{"rotate 90", Orientation{Rotation: types.Rotation90}, 1, 2, []color.RGBA{r, b}},
		{"rotate 180", Orientation{Rotation: types.Rotation180}, 2, 1, []color.RGBA{b, r}},
		{"rotate 270", Orientation{Rotation: types.Rotation270}, 1, 2, []color.RGBA{b, r}},
		{"mirror", Orientation{Mirror: true}, 2, 1, []color.RGBA{b, r}},
		{"rotate 90 mirrored", Orientation{Rotation: types.Rotation90, Mirror: true}, 1, 2, []color.RGBA{r, b}},
		{"rotate 180 mirrored", Orientation{Rotation: types.Rotation180, Mirror: true}, 2, 1, []color.RGBA{r, b}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := orient(nil, src, tt.orient)
			if got.Rect.Dx() != tt.w || got.Rect.Dy() != tt.h {
				t.Fatalf("size = %dx%d, want %dx%d", got.Rect.Dx(), got.Rect.Dy(), tt.w, tt.h)
			}
			i := 0
			for y := 0; y < tt.h; y++ {
				for x := 0; x < tt.w; x++ {
					if c := got.RGBAAt(x, y); c != tt.want[i] {
						t.Errorf("pixel (%d,%d) = %v, want %v", x, y, c, tt.want[i])
					}
					i++
				}
			}
		})
	}
}

func TestFitRect(t *testing.T) {
	tests := []struct {
		srcW, srcH, dstW, dstH int
		want                   image.Rectangle
	}{
		{1280, 720, 100, 100, image.Rect(0, 22, 100, 78)},
		{720, 1280, 100, 100, image.Rect(22, 0, 78, 100)},
		{4, 4, 16, 8, image.Rect(4, 0, 12, 8)},
		{16, 9, 32, 18, image.Rect(0, 0, 32, 18)},
		{0, 9, 32, 18, image.Rectangle{}},
	}
	for _, tt := range tests {
		if got := fitRect(tt.srcW, tt.srcH, tt.dstW, tt.dstH); got != tt.want {
			t.Errorf("fitRect(%d,%d,%d,%d) = %v, want %v", tt.srcW, tt.srcH, tt.dstW, tt.dstH, got, tt.want)
		}
	}
}

func TestTextureSize(t *testing.T) {
	if w, h := textureSize(4096, 2160, 2048); w != 2048 || h != 1080 {
		t.Errorf("textureSize(4096x2160) = %dx%d, want 2048x1080", w, h)
	}
	if w, h := textureSize(1280, 720, 2048); w != 1280 || h != 720 {
		t.Errorf("textureSize(1280x720) = %dx%d, want unchanged", w, h)
	}
}

func TestRegistry(t *testing.T) {
	if kind, err := DefaultRegistry().DefaultKind(); err != nil || kind != types.KindTexture {
		t.Errorf("DefaultKind = %s, %v; want texture", kind, err)
	}

	r := NewRegistry()
	if _, err := r.Initialize(types.KindRaster); !errors.Is(err, types.ErrEngineNotFound) {
		t.Errorf("empty registry Initialize = %v, want ErrEngineNotFound", err)
	}

	r.Register(RegistryEntry{
		Name: "fast", Kind: types.KindRaster, Priority: 100,
		Factory:   func() (Peer, error) { return newRasterPeer(), nil },
		Available: func() bool { return false },
	})
	r.Register(RegistryEntry{
		Name: "slow", Kind: types.KindRaster, Priority: 1,
		Factory: func() (Peer, error) { return newRasterPeer(), nil },
	})

	entry, err := r.Lookup(types.KindRaster)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.Name != "slow" {
		t.Errorf("Lookup picked %q, want the available backend", entry.Name)
	}
	if names := r.List(); len(names) != 2 || names[0] != "fast" {
		t.Errorf("List = %v, want priority order", names)
	}

	e, err := r.Initialize(types.KindRaster)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := e.Destroy(); err != nil {
		t.Errorf("Destroy: %v", err)
	}
}

func TestStageRejectsReleasedBuffer(t *testing.T) {
	alloc := newAlloc(t, 8, 8, gputypes.TextureFormatRGBA8Unorm, 1)
	peers := []Peer{newRasterPeer(), newTexturePeer(0)}

	for _, p := range peers {
		t.Run(p.Name(), func(t *testing.T) {
			buf := solid(t, alloc, color.RGBA{R: 255, A: 255})
			if err := buf.Release(); err != nil {
				t.Fatalf("Release: %v", err)
			}
			if err := p.Stage(buf, Orientation{}); !errors.Is(err, hwbuffer.ErrReleased) {
				t.Errorf("Stage after final release = %v, want ErrReleased", err)
			}
			if p.View(func(*image.RGBA, Orientation) {}) {
				t.Error("released buffer was staged")
			}
		})
	}
}

func TestDiscardDropsPendingAndWaitsForUpload(t *testing.T) {
	e, err := Initialize(types.KindTexture)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()

	target := newGateSurface(8, 8)
	if err := e.SetSurface(target, 0, 0); err != nil {
		t.Fatalf("SetSurface: %v", err)
	}
	alloc := newAlloc(t, 4, 4, gputypes.TextureFormatRGBA8Unorm, 2)

	first := solid(t, alloc, red)
	if err := e.DeliverFrame(first, 0, true); err != nil {
		t.Fatalf("DeliverFrame 1: %v", err)
	}
	first.Release()
	<-target.entered

	second := solid(t, alloc, red)
	if err := e.DeliverFrame(second, 0, true); err != nil {
		t.Fatalf("DeliverFrame 2: %v", err)
	}
	second.Release()

	done := make(chan error, 1)
	go func() { done <- e.Discard() }()

	waitFor(t, "pending frame released", func() bool { return alloc.Stats().Outstanding == 0 })
	select {
	case err := <-done:
		t.Fatalf("Discard returned %v while the render goroutine was busy", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(target.gate)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Discard: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Discard did not return")
	}
	if got := e.Stats().Uploaded; got != 1 {
		t.Errorf("Uploaded = %d, want 1 (second frame discarded)", got)
	}
	if st := alloc.Stats(); st.DoubleReleases != 0 {
		t.Errorf("double releases = %d", st.DoubleReleases)
	}
}
