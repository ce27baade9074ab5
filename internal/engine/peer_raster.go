package engine

import (
	"fmt"
	"image"
	"sync"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gg"
)

// rasterPeer copies each frame into a gg image buffer on the delivering
// goroutine. The buffer is reallocated only when the frame size changes.
type rasterPeer struct {
	mu     sync.Mutex
	img    *gg.ImageBuf
	orient Orientation
	staged bool
	closed bool
}

func newRasterPeer() *rasterPeer { return &rasterPeer{} }

func (p *rasterPeer) Name() string { return "raster" }

func (p *rasterPeer) Stage(buf *hwbuffer.Handle, orient Orientation) error {
	desc := buf.Desc()
	src, err := mapped(buf)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return types.ErrUseAfterDestroy
	}
	if p.img == nil || p.img.Width() != desc.Width || p.img.Height() != desc.Height {
		img, err := gg.NewImageBuf(desc.Width, desc.Height, gg.FormatRGBA8)
		if err != nil {
			return fmt.Errorf("engine: raster buffer %dx%d: %w", desc.Width, desc.Height, err)
		}
		p.img = img
	}

	stride := buf.Stride()
	row := desc.Width * 4
	for y := 0; y < desc.Height; y++ {
		copy(p.img.RowBytes(y), src[y*stride:y*stride+row])
	}
	if isBGRA(desc) {
		swapRB(p.img.Data(), p.img.Stride(), desc.Width, desc.Height)
	}
	p.img.InvalidatePremulCache()

	p.orient = orient
	p.staged = true
	return nil
}

func (p *rasterPeer) View(fn func(img *image.RGBA, orient Orientation)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.staged || p.closed {
		return false
	}
	fn(&image.RGBA{
		Pix:    p.img.Data(),
		Stride: p.img.Stride(),
		Rect:   image.Rect(0, 0, p.img.Width(), p.img.Height()),
	}, p.orient)
	return true
}

func (p *rasterPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.img = nil
	return nil
}
