// Package environment implements the panoramic environment map and its
// hierarchical importance sampler: an equirectangular radiance texture
// paired with a luminance mip chain (the impmap) that the integrator's
// next-event estimation warps a uniform sample through.
package environment

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// Handle identifies an Environment in the driver's resource arena, per the
// convention shared with volume.Handle; New mints it.
type Handle = uuid.UUID

// RGB is a linear radiance triple; components are not clamped to [0,1].
type RGB struct{ R, G, B float32 }

const twoPi = 2 * math.Pi

// Environment is a panoramic RGB texture in equirectangular layout
// (u = azimuth/2π + ½, v = 1 − polar/π) plus its precomputed importance
// map. Width and Height are always powers of two: non-power-of-two
// input is resampled once at build time so the mip chain halves exactly
// down to a 1×1 base level.
type Environment struct {
	Handle Handle

	Width, Height int
	Pixels        []RGB // row-major, len == Width*Height

	Strength float32
	// Model rotates environment-local directions into world space;
	// InvModel is its inverse, used by direct lookups (world to local).
	Model, InvModel mgl32.Mat3

	// impmap[0] is the per-texel luminance at full resolution;
	// impmap[k+1] is the component-wise sum over each 2x2 block of
	// impmap[k], halving dimensions until a single 1x1 texel remains
	// holding the total luminance mass of the map.
	impmap     [][]float32
	impmapDims [][2]int
	baseMip    int
	// baseLuminance approximates the mean luminance over the whole map
	// as the top mip texel average; PDF and Sample both read it, so the
	// two stay mutually consistent even though the value is approximate.
	baseLuminance float32
}

// New builds an Environment from an equirectangular pixel buffer. w and
// h need not be powers of two; non-power-of-two input is resampled with
// a bilinear scaler so the importance map's mip chain halves exactly.
func New(pixels []RGB, w, h int, strength float32, model mgl32.Mat3) (*Environment, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("environment: non-positive dimensions (%d,%d)", w, h)
	}
	if len(pixels) != w*h {
		return nil, fmt.Errorf("environment: pixel buffer length %d does not match %dx%d", len(pixels), w, h)
	}

	resized, rw, rh := resizeToPow2(pixels, w, h)

	e := &Environment{
		Handle:   uuid.New(),
		Width:    rw,
		Height:   rh,
		Pixels:   resized,
		Strength: strength,
		Model:    model,
		InvModel: model.Inv(),
	}
	e.buildImportanceMap()
	return e, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// resizeToPow2 upsamples a non-power-of-two equirectangular buffer onto
// a power-of-two canvas using golang.org/x/image/draw's bilinear
// scaler. HDR radiance can exceed the 1.0 unorm range a uint16 image
// represents, so the buffer is normalized by its peak component before
// conversion and rescaled back afterward.
func resizeToPow2(pixels []RGB, w, h int) ([]RGB, int, int) {
	pw, ph := nextPow2(w), nextPow2(h)
	if pw == w && ph == h {
		out := make([]RGB, len(pixels))
		copy(out, pixels)
		return out, w, h
	}

	peak := float32(0)
	for _, p := range pixels {
		peak = max32(peak, max32(p.R, max32(p.G, p.B)))
	}
	if peak <= 0 {
		peak = 1
	}

	src := image.NewNRGBA64(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := pixels[y*w+x]
			src.SetNRGBA64(x, y, color.NRGBA64{
				R: unormFrom(p.R, peak), G: unormFrom(p.G, peak), B: unormFrom(p.B, peak), A: 0xFFFF,
			})
		}
	}
	dst := image.NewNRGBA64(image.Rect(0, 0, pw, ph))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := make([]RGB, pw*ph)
	for y := 0; y < ph; y++ {
		for x := 0; x < pw; x++ {
			c := dst.NRGBA64At(x, y)
			out[y*pw+x] = RGB{unormTo(c.R, peak), unormTo(c.G, peak), unormTo(c.B, peak)}
		}
	}
	return out, pw, ph
}

func unormFrom(v, peak float32) uint16 {
	u := v / peak
	if u < 0 {
		u = 0
	} else if u > 1 {
		u = 1
	}
	return uint16(u*65535 + 0.5)
}

func unormTo(v uint16, peak float32) float32 {
	return float32(v) / 65535 * peak
}

func luminance(c RGB) float32 {
	return 0.2126*c.R + 0.7152*c.G + 0.0722*c.B
}

// buildImportanceMap constructs the luminance mip pyramid by repeated
// 2x2 sum-pooling.
func (e *Environment) buildImportanceMap() {
	lum := make([]float32, e.Width*e.Height)
	for i, p := range e.Pixels {
		lum[i] = luminance(p)
	}
	mips := [][]float32{lum}
	dims := [][2]int{{e.Width, e.Height}}
	cur, curDims := lum, [2]int{e.Width, e.Height}
	for curDims[0] > 1 || curDims[1] > 1 {
		nextDims := [2]int{maxInt(1, curDims[0]/2), maxInt(1, curDims[1]/2)}
		next := make([]float32, nextDims[0]*nextDims[1])
		for y := 0; y < curDims[1]; y++ {
			for x := 0; x < curDims[0]; x++ {
				nx, ny := minInt(x/2, nextDims[0]-1), minInt(y/2, nextDims[1]-1)
				next[ny*nextDims[0]+nx] += cur[y*curDims[0]+x]
			}
		}
		mips = append(mips, next)
		dims = append(dims, nextDims)
		cur, curDims = next, nextDims
	}
	e.impmap = mips
	e.impmapDims = dims
	e.baseMip = len(mips) - 1
	e.baseLuminance = mips[e.baseMip][0] / float32(e.Width*e.Height)
}

func (e *Environment) impmapAt(mip, x, y int) float32 {
	d := e.impmapDims[mip]
	x = clampInt(x, 0, d[0]-1)
	y = clampInt(y, 0, d[1]-1)
	return e.impmap[mip][y*d[0]+x]
}

// dirFromUV recovers the world-space direction a (u,v) equirectangular
// coordinate refers to, per the Environment type's (u,v) convention.
func (e *Environment) dirFromUV(u, v float32) mgl32.Vec3 {
	theta := float64((1 - v)) * math.Pi
	phi := float64(2*u-1) * math.Pi
	sinT, cosT := math.Sincos(theta)
	sinP, cosP := math.Sincos(phi)
	local := mgl32.Vec3{float32(sinT * cosP), float32(cosT), float32(sinT * sinP)}
	return e.Model.Mul3x1(local)
}

// worldToUV is the inverse of dirFromUV: given a world-space direction,
// recover its equirectangular (u,v) coordinate.
func (e *Environment) worldToUV(dir mgl32.Vec3) (u, v float32) {
	id := e.InvModel.Mul3x1(dir)
	u = float32(math.Atan2(float64(id.Z()), float64(id.X()))/twoPi) + 0.5
	cosT := clamp32(id.Y(), -1, 1)
	v = 1 - float32(math.Acos(float64(cosT))/math.Pi)
	return
}

// Radiance does a direct (bilinearly filtered) environment lookup along
// a world-space direction, scaled by Strength.
func (e *Environment) Radiance(dir mgl32.Vec3) RGB {
	u, v := e.worldToUV(dir)
	c := e.sampleBilinear(u, v)
	return RGB{c.R * e.Strength, c.G * e.Strength, c.B * e.Strength}
}

func (e *Environment) sampleBilinear(u, v float32) RGB {
	fx := u*float32(e.Width) - 0.5
	fy := v*float32(e.Height) - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	tx := fx - float32(x0)
	ty := fy - float32(y0)

	at := func(x, y int) RGB {
		x = wrapInt(x, e.Width)
		y = clampInt(y, 0, e.Height-1)
		return e.Pixels[y*e.Width+x]
	}
	c00, c10 := at(x0, y0), at(x0+1, y0)
	c01, c11 := at(x0, y0+1), at(x0+1, y0+1)
	lerp := func(a, b RGB, t float32) RGB {
		return RGB{a.R + (b.R-a.R)*t, a.G + (b.G-a.G)*t, a.B + (b.B-a.B)*t}
	}
	top := lerp(c00, c10, tx)
	bot := lerp(c01, c11, tx)
	return lerp(top, bot, ty)
}

// PDF evaluates pdf_env(ω) = luma(L(ω))/L̄ · 1/(4π) using the same
// (unfiltered) texel the importance sampler would have landed on, so
// Sample and PDF stay self-consistent.
func (e *Environment) PDF(dir mgl32.Vec3) float32 {
	u, v := e.worldToUV(dir)
	px := wrapInt(int(u*float32(e.Width)), e.Width)
	py := clampInt(int(v*float32(e.Height)), 0, e.Height-1)
	lum := e.impmap[0][py*e.Width+px]
	if e.baseLuminance <= 0 {
		return 0
	}
	return (lum / e.baseLuminance) / (4 * math.Pi)
}

// Sample draws a direction from the importance distribution defined by
// the impmap, warping the uniform sample xi through the mip pyramid
// from the 1x1 top down to full resolution.
func (e *Environment) Sample(xi [2]float32) (dir mgl32.Vec3, pdf float32) {
	const eps = 1e-8
	posX, posY := 0, 0
	px, py := xi[0], xi[1]

	for mip := e.baseMip - 1; mip >= 0; mip-- {
		// a level splits only the axes it halved relative to the level
		// above (the top levels of a non-square map split x alone)
		sx := e.impmapDims[mip][0] / e.impmapDims[mip+1][0]
		sy := e.impmapDims[mip][1] / e.impmapDims[mip+1][1]
		posX *= sx
		posY *= sy
		w00 := e.impmapAt(mip, posX, posY)
		w10 := e.impmapAt(mip, posX+1, posY) * float32(sx-1)
		w01 := e.impmapAt(mip, posX, posY+1) * float32(sy-1)
		w11 := e.impmapAt(mip, posX+1, posY+1) * float32((sx-1)*(sy-1))

		qL := w00 + w01
		qR := w10 + w11
		d := qL / max32(eps, qL+qR)

		var top, bot float32
		if px < d {
			px = px / max32(d, eps)
			top, bot = w00, w01
		} else {
			posX++
			px = (px - d) / max32(1-d, eps)
			top, bot = w10, w11
		}

		eCol := top / max32(eps, top+bot)
		if py < eCol {
			py = py / max32(eCol, eps)
		} else {
			posY++
			py = (py - eCol) / max32(1-eCol, eps)
		}
	}

	posX = clampInt(posX, 0, e.Width-1)
	posY = clampInt(posY, 0, e.Height-1)
	u := (float32(posX) + px) / float32(e.Width)
	v := (float32(posY) + py) / float32(e.Height)
	dir = e.dirFromUV(u, v)

	lum := e.impmap[0][posY*e.Width+posX]
	if e.baseLuminance <= 0 {
		pdf = 0
	} else {
		pdf = (lum / e.baseLuminance) / (4 * math.Pi)
	}
	return dir, pdf
}

func clamp32(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func wrapInt(x, n int) int {
	x %= n
	if x < 0 {
		x += n
	}
	return x
}
