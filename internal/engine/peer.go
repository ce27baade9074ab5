package engine

import (
	"fmt"
	"image"

	"github.com/e7canasta/framebridge/internal/hwbuffer"
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gputypes"
)

// Peer is the native half of an engine: the graphics-side memory a frame is
// staged into and presented from.
//
// Stage only reads buf; the caller owns its reference. View and Stage may run
// on different goroutines, so peers serialize them internally.
type Peer interface {
	Name() string
	Stage(buf *hwbuffer.Handle, orient Orientation) error
	// View calls fn with the staged image under the peer's lock. It reports
	// false when nothing has been staged yet.
	View(fn func(img *image.RGBA, orient Orientation)) bool
	Close() error
}

// Orientation is how a staged image must be turned for display.
type Orientation struct {
	Rotation types.Rotation
	Mirror   bool
}

// mapped returns the slab of a buffer the caller still references.
func mapped(buf *hwbuffer.Handle) ([]byte, error) {
	pix := buf.Pix()
	if buf.Refs() <= 0 || pix == nil {
		return nil, fmt.Errorf("buffer %d: %w", buf.ID(), hwbuffer.ErrReleased)
	}
	return pix, nil
}

// swapRB converts BGRA rows to RGBA in place.
func swapRB(pix []byte, stride, width, height int) {
	for y := 0; y < height; y++ {
		row := pix[y*stride : y*stride+width*4]
		for x := 0; x+3 < len(row); x += 4 {
			row[x], row[x+2] = row[x+2], row[x]
		}
	}
}

func isBGRA(desc hwbuffer.Desc) bool {
	return desc.Format == gputypes.TextureFormatBGRA8Unorm
}
