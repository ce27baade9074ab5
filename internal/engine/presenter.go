package engine

import (
	"image"

	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gg"
	"github.com/gogpu/gg/surface"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// presenter composes the staged image onto a surface: rotate about the
// centre, mirror front-facing frames, fit preserving aspect, letterbox black.
// Owned by the render goroutine.
type presenter struct {
	dc       *gg.Context
	oriented *image.RGBA
}

// capture copies src into the presenter's oriented image. Called under the
// peer lock, so it does no drawing beyond the copy.
func (p *presenter) capture(src *image.RGBA, o Orientation) {
	p.oriented = orient(p.oriented, src, o)
}

// present draws the last captured image onto target and flushes it.
func (p *presenter) present(target surface.Surface, width, height int) error {
	if p.oriented == nil {
		return nil
	}
	if p.dc == nil || p.dc.Width() != width || p.dc.Height() != height {
		if p.dc != nil {
			_ = p.dc.Close()
		}
		p.dc = gg.NewContext(width, height)
	}

	ob := p.oriented.Bounds()
	dst := fitRect(ob.Dx(), ob.Dy(), width, height)

	p.dc.ClearWithColor(gg.Black)
	p.dc.DrawImageEx(gg.ImageBufFromImage(p.oriented), gg.DrawImageOptions{
		X:             float64(dst.Min.X),
		Y:             float64(dst.Min.Y),
		DstWidth:      float64(dst.Dx()),
		DstHeight:     float64(dst.Dy()),
		Interpolation: gg.InterpBilinear,
		Opacity:       1.0,
		BlendMode:     gg.BlendNormal,
	})

	// nil options: the surface treats a zero Alpha as transparent.
	target.DrawImage(p.dc.Image(), surface.Point{}, nil)
	return target.Flush()
}

func (p *presenter) close() {
	if p.dc != nil {
		_ = p.dc.Close()
		p.dc = nil
	}
	p.oriented = nil
}

// orient rotates src clockwise by o.Rotation and then mirrors it
// horizontally when o.Mirror is set. dst is reused when its size fits.
func orient(dst, src *image.RGBA, o Orientation) *image.RGBA {
	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	ow, oh := w, h
	if o.Rotation == types.Rotation90 || o.Rotation == types.Rotation270 {
		ow, oh = h, w
	}
	if dst == nil || dst.Rect.Dx() != ow || dst.Rect.Dy() != oh {
		dst = image.NewRGBA(image.Rect(0, 0, ow, oh))
	}

	if o.Rotation == types.Rotation0 && !o.Mirror {
		draw.Copy(dst, image.Point{}, src, sb, draw.Src, nil)
		return dst
	}

	m := rotationMatrix(o.Rotation, float64(w), float64(h))
	if o.Mirror {
		m[0], m[1], m[2] = -m[0], -m[1], float64(ow)-m[2]
	}
	draw.NearestNeighbor.Transform(dst, m, src, sb, draw.Src, nil)
	return dst
}

// rotationMatrix maps a w×h source onto its clockwise-rotated destination.
func rotationMatrix(r types.Rotation, w, h float64) f64.Aff3 {
	switch r {
	case types.Rotation90:
		return f64.Aff3{0, -1, h, 1, 0, 0}
	case types.Rotation180:
		return f64.Aff3{-1, 0, w, 0, -1, h}
	case types.Rotation270:
		return f64.Aff3{0, 1, 0, -1, 0, w}
	default:
		return f64.Aff3{1, 0, 0, 0, 1, 0}
	}
}

// fitRect centres a srcW×srcH image in a dstW×dstH area, preserving aspect.
func fitRect(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}
	w, h := dstW, srcH*dstW/srcW
	if h > dstH {
		w, h = srcW*dstH/srcH, dstH
	}
	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}
