// Package accum implements the progressive accumulator: a float RGBA
// framebuffer whose alpha channel carries the per-pixel sample count, so
// each contribution folds into a running mean.
package accum

import "fmt"

// Framebuffer is a persistent floating-point RGBA image. The alpha
// channel of each pixel holds the number of samples accumulated into it;
// a shared sample index tracks the driver's progressive pass count.
type Framebuffer struct {
	width, height int
	pixels        []float32 // RGBA, row-major
	sampleIndex   uint32
}

// New allocates a cleared framebuffer of the given resolution.
func New(w, h int) (*Framebuffer, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("accum: invalid framebuffer size %dx%d", w, h)
	}
	return &Framebuffer{
		width:  w,
		height: h,
		pixels: make([]float32, w*h*4),
	}, nil
}

// Width returns the horizontal resolution.
func (fb *Framebuffer) Width() int { return fb.width }

// Height returns the vertical resolution.
func (fb *Framebuffer) Height() int { return fb.height }

// SampleIndex returns the number of completed progressive passes.
func (fb *Framebuffer) SampleIndex() uint32 { return fb.sampleIndex }

// AdvanceSample marks one full progressive pass as complete. The driver
// calls this once after every per-pixel work item of a pass has folded
// its contribution in.
func (fb *Framebuffer) AdvanceSample() { fb.sampleIndex++ }

// Accumulate folds one radiance estimate into the running mean at the
// given linear pixel index:
//
//	new_rgb = (old_rgb*s + C) / (s+1), new_a = s+1
//
// with s read from the pixel's own alpha channel, so the fold is
// commutative across work items regardless of completion order.
func (fb *Framebuffer) Accumulate(pixel int, r, g, b float32) {
	i := pixel * 4
	s := fb.pixels[i+3]
	inv := 1 / (s + 1)
	fb.pixels[i+0] = (fb.pixels[i+0]*s + r) * inv
	fb.pixels[i+1] = (fb.pixels[i+1]*s + g) * inv
	fb.pixels[i+2] = (fb.pixels[i+2]*s + b) * inv
	fb.pixels[i+3] = s + 1
}

// At returns the accumulated RGBA value at pixel (x, y).
func (fb *Framebuffer) At(x, y int) (r, g, b, a float32) {
	i := (y*fb.width + x) * 4
	return fb.pixels[i], fb.pixels[i+1], fb.pixels[i+2], fb.pixels[i+3]
}

// Snapshot returns a copy of the raw RGBA pixel buffer.
func (fb *Framebuffer) Snapshot() []float32 {
	out := make([]float32, len(fb.pixels))
	copy(out, fb.pixels)
	return out
}

// Clear zeroes every pixel and resets the sample index. The driver calls
// this on any parameter change so stale samples never blend with new ones.
func (fb *Framebuffer) Clear() {
	for i := range fb.pixels {
		fb.pixels[i] = 0
	}
	fb.sampleIndex = 0
}

// Resize reallocates the buffer for a new resolution and clears it.
func (fb *Framebuffer) Resize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("accum: invalid framebuffer size %dx%d", w, h)
	}
	fb.width, fb.height = w, h
	fb.pixels = make([]float32, w*h*4)
	fb.sampleIndex = 0
	return nil
}
