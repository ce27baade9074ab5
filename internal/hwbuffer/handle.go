// Package hwbuffer models hardware-backed pixel buffers shared between a
// capture producer and GPU consumers without copying.
//
// A Handle is borrowed, never owned: the producer holds the first reference,
// consumers that need the pixels past the end of a delivery call Retain and
// later Release. The slab returns to its Allocator exactly once, when the last
// reference is released.
package hwbuffer

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

var (
	// ErrReleased is returned by Retain once the last reference is gone.
	ErrReleased = errors.New("hwbuffer: buffer already released")
	// ErrDoubleRelease is returned by Release on a handle with no references.
	ErrDoubleRelease = errors.New("hwbuffer: double release")
	// ErrExhausted is returned by TryAcquire when every slot is in use.
	ErrExhausted = errors.New("hwbuffer: no free buffer")
	// ErrUnsupportedFormat is returned for formats without a CPU-visible layout.
	ErrUnsupportedFormat = errors.New("hwbuffer: unsupported pixel format")
)

// Desc describes the geometry and intended use of a buffer.
type Desc struct {
	Width  int
	Height int
	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage
}

// BytesPerPixel returns the pixel size for formats the bridge can map.
func BytesPerPixel(format gputypes.TextureFormat) (int, error) {
	switch format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
}

// FormatName returns the config spelling of a mappable format.
func FormatName(format gputypes.TextureFormat) string {
	switch format {
	case gputypes.TextureFormatRGBA8Unorm:
		return "rgba8unorm"
	case gputypes.TextureFormatBGRA8Unorm:
		return "bgra8unorm"
	default:
		return fmt.Sprintf("format(%d)", int(format))
	}
}

// ParseFormat is the inverse of FormatName.
func ParseFormat(s string) (gputypes.TextureFormat, error) {
	switch s {
	case "rgba8unorm", "rgba":
		return gputypes.TextureFormatRGBA8Unorm, nil
	case "bgra8unorm", "bgra":
		return gputypes.TextureFormatBGRA8Unorm, nil
	default:
		return gputypes.TextureFormatUndefined, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Validate checks that d can back an allocation.
func (d Desc) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("hwbuffer: invalid dimensions %dx%d", d.Width, d.Height)
	}
	_, err := BytesPerPixel(d.Format)
	return err
}

// Handle is one acquisition of an allocator slab.
//
// A new Handle value is issued for every acquisition, so a stale pointer kept
// past its final Release fails with ErrDoubleRelease instead of touching the
// slab's next owner.
type Handle struct {
	id     uint64
	desc   Desc
	pix    []byte
	stride int
	owner  *Allocator
	refs   atomic.Int32
}

// ID is unique per allocator for the lifetime of the process.
func (h *Handle) ID() uint64 { return h.id }

// Desc returns the buffer descriptor.
func (h *Handle) Desc() Desc { return h.desc }

// Owner returns the allocator the slab belongs to.
func (h *Handle) Owner() *Allocator { return h.owner }

// Stride is the row pitch in bytes.
func (h *Handle) Stride() int { return h.stride }

// Pix exposes the slab. Valid only while the caller holds a reference.
func (h *Handle) Pix() []byte { return h.pix }

// Refs reports the current reference count.
func (h *Handle) Refs() int { return int(h.refs.Load()) }

// Image wraps the slab as an RGBA image without copying. For BGRA buffers the
// red and blue channels are swapped in the returned view.
func (h *Handle) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    h.pix,
		Stride: h.stride,
		Rect:   image.Rect(0, 0, h.desc.Width, h.desc.Height),
	}
}

// Retain adds a reference. It fails once the buffer went back to its owner.
func (h *Handle) Retain() error {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference and returns the slab to the allocator when it
// was the last one.
func (h *Handle) Release() error {
	for {
		n := h.refs.Load()
		if n <= 0 {
			h.owner.doubleReleases.Add(1)
			return ErrDoubleRelease
		}
		if h.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				h.owner.put(h)
			}
			return nil
		}
	}
}
