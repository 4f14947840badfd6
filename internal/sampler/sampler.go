// Package sampler downsamples live video frames to the fixed working
// resolution the quality scorer runs on.
package sampler

import (
	"image"
	"math"
	"sync"

	"golang.org/x/image/draw"
)

// DefaultWidth is the working width frames are scaled to before scoring.
const DefaultWidth = 640

// Frame is a transient RGBA buffer at working resolution. It is recreated
// every cycle and must be released once scored.
type Frame struct {
	*image.RGBA
	buf  *[]uint8
	pool *sync.Pool
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Rect.Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Rect.Dy() }

// Release hands the pixel buffer back to the sampler. The frame must not be
// used afterwards.
func (f *Frame) Release() {
	if f == nil || f.RGBA == nil || f.pool == nil {
		return
	}
	*f.buf = f.Pix[:0]
	f.pool.Put(f.buf)
	f.RGBA = nil
}

// Sampler scales source images to a fixed width, deriving the height from
// the source aspect ratio.
type Sampler struct {
	width  int
	scaler draw.Scaler
	pool   sync.Pool
}

// New returns a sampler producing frames of the given width. Non-positive
// widths fall back to DefaultWidth.
func New(width int) *Sampler {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Sampler{
		width:  width,
		scaler: draw.ApproxBiLinear,
		pool: sync.Pool{
			New: func() any {
				buf := make([]uint8, 0, width*width*4)
				return &buf
			},
		},
	}
}

// TargetSize computes the working resolution for a native resolution.
// ok is false while the native dimensions are unknown.
func TargetSize(width, nativeW, nativeH int) (w, h int, ok bool) {
	if width <= 0 || nativeW <= 0 || nativeH <= 0 {
		return 0, 0, false
	}
	h = int(math.Round(float64(width) * float64(nativeH) / float64(nativeW)))
	if h < 1 {
		h = 1
	}
	return width, h, true
}

// Sample draws src into a working-resolution buffer. It returns false when
// src has no dimensions yet (the source is not ready).
func (s *Sampler) Sample(src image.Image) (*Frame, bool) {
	if src == nil {
		return nil, false
	}
	b := src.Bounds()
	w, h, ok := TargetSize(s.width, b.Dx(), b.Dy())
	if !ok {
		return nil, false
	}

	need := w * h * 4
	bufp := s.pool.Get().(*[]uint8)
	if cap(*bufp) < need {
		*bufp = make([]uint8, need)
	}
	*bufp = (*bufp)[:need]

	dst := &image.RGBA{Pix: *bufp, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	s.scaler.Scale(dst, dst.Rect, src, b, draw.Src, nil)
	return &Frame{RGBA: dst, buf: bufp, pool: &s.pool}, true
}
