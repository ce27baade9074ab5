package engine

import (
	"image"
	"sync"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/types"
	"golang.org/x/image/draw"
)

// DefaultMaxTextureSize bounds the longer texture edge.
const DefaultMaxTextureSize = 2048

// texturePeer uploads retained buffers into a texture on the render
// goroutine, scaling down frames larger than maxSize.
type texturePeer struct {
	maxSize int

	mu      sync.Mutex
	texture *image.RGBA
	orient  Orientation
	staged  bool
	closed  bool
}

func newTexturePeer(maxSize int) *texturePeer {
	if maxSize <= 0 {
		maxSize = DefaultMaxTextureSize
	}
	return &texturePeer{maxSize: maxSize}
}

func (p *texturePeer) Name() string { return "texture" }

func (p *texturePeer) Stage(buf *hwbuffer.Handle, orient Orientation) error {
	desc := buf.Desc()
	w, h := textureSize(desc.Width, desc.Height, p.maxSize)
	if _, err := mapped(buf); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return types.ErrUseAfterDestroy
	}
	if p.texture == nil || p.texture.Rect.Dx() != w || p.texture.Rect.Dy() != h {
		p.texture = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	src := buf.Image()
	if w == desc.Width && h == desc.Height {
		draw.Copy(p.texture, image.Point{}, src, src.Bounds(), draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(p.texture, p.texture.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	if isBGRA(desc) {
		swapRB(p.texture.Pix, p.texture.Stride, w, h)
	}

	p.orient = orient
	p.staged = true
	return nil
}

func (p *texturePeer) View(fn func(img *image.RGBA, orient Orientation)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.staged || p.closed {
		return false
	}
	fn(p.texture, p.orient)
	return true
}

func (p *texturePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.texture = nil
	return nil
}

// textureSize scales w×h down so the longer edge fits limit, keeping aspect.
func textureSize(w, h, limit int) (int, int) {
	long := w
	if h > long {
		long = h
	}
	if long <= limit {
		return w, h
	}
	sw := w * limit / long
	sh := h * limit / long
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}
