// Package volume implements the data model and sparse brick-grid storage
// structure the path tracer's free-flight samplers consume: Grid/Volume
// (the dense scalar-field input contract), BrickGrid (sparse voxel
// storage with per-brick majorant mips), and the DDA stepping helper used
// to walk bricks along a ray.
package volume

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Decoder maps an integer voxel index to its scalar value.
type Decoder func(ix, iy, iz int) float32

// Grid is a scalar 3D field: an integer index space, an index->world
// affine transform, a decoder from index to float voxel value, and the
// scalar bounds over all of its voxels.
type Grid struct {
	Transform          mgl32.Mat4
	IndexExtent        [3]int
	Minorant, Majorant float32
	Decode             Decoder
}

// EmissionChannel is tried in order when looking for an emission grid in
// a frame; the first present key wins.
var EmissionChannel = []string{"flame", "flames", "temperature"}

// Frame maps a channel name ("density" at minimum, optionally one of
// EmissionChannel) to its Grid.
type Frame map[string]*Grid

// Volume is a named collection of one or more time frames.
type Volume struct {
	Name       string
	Grids      []Frame
	FrameIndex int
	// Transform further maps the (possibly animated) grid space into the
	// scene; NormalizeToUnitCube rewrites it in place.
	Transform mgl32.Mat4
}

// New returns an empty, identity-transform Volume with no frames. Until
// a frame with a "density" grid is added, DensityGrid reports
// ErrEmptyDensityGrid for it.
func New() *Volume {
	return &Volume{Transform: mgl32.Ident4()}
}

// CurrentFrame returns the active animation frame, or an error if the
// volume has no frames. An out-of-range FrameIndex selects frame 0.
func (v *Volume) CurrentFrame() (Frame, error) {
	if len(v.Grids) == 0 {
		return nil, fmt.Errorf("volume: no frames loaded: %w", ErrEmptyDensityGrid)
	}
	idx := v.FrameIndex
	if idx < 0 || idx >= len(v.Grids) {
		idx = 0
	}
	return v.Grids[idx], nil
}

// DensityGrid returns the "density" grid of the current frame.
func (v *Volume) DensityGrid() (*Grid, error) {
	frame, err := v.CurrentFrame()
	if err != nil {
		return nil, err
	}
	g, ok := frame["density"]
	if !ok || g == nil {
		return nil, fmt.Errorf("volume: frame %d has no density grid: %w", v.FrameIndex, ErrEmptyDensityGrid)
	}
	return g, nil
}

// EmissionGrid returns the first present emission channel grid of the
// current frame, or nil if none is present.
func (v *Volume) EmissionGrid() (*Grid, error) {
	frame, err := v.CurrentFrame()
	if err != nil {
		return nil, err
	}
	for _, name := range EmissionChannel {
		if g, ok := frame[name]; ok && g != nil {
			return g, nil
		}
	}
	return nil, nil
}

// ErrEmptyDensityGrid is returned when a Volume has no usable density
// grid for the active frame.
var ErrEmptyDensityGrid = fmt.Errorf("volume: empty density grid")

// AABB returns the combined world-space axis-aligned bounding box over
// every frame's density grid, accounting for the volume's own transform.
// Animated volumes can change shape per frame; this bound covers all of
// them.
func (v *Volume) AABB() (min, max mgl32.Vec3) {
	const inf = 1e30
	min = mgl32.Vec3{inf, inf, inf}
	max = mgl32.Vec3{-inf, -inf, -inf}
	found := false
	for _, frame := range v.Grids {
		g, ok := frame["density"]
		if !ok || g == nil {
			continue
		}
		gmin, gmax := gridCornersWorld(g)
		min = componentMin(min, gmin)
		max = componentMax(max, gmax)
		found = true
	}
	if !found {
		return mgl32.Vec3{}, mgl32.Vec3{}
	}
	return transformPoint(v.Transform, min), transformPoint(v.Transform, max)
}

// MinorantMajorant returns the (min, max) scalar bounds of the current
// frame's density grid.
func (v *Volume) MinorantMajorant() (float32, float32, error) {
	g, err := v.DensityGrid()
	if err != nil {
		return 0, 0, err
	}
	return g.Minorant, g.Majorant, nil
}

// NormalizeToUnitCube scales and translates Transform so the combined
// AABB over all frames fits a unit cube at the origin, and returns the
// scale factor applied (callers compensate the density scale by this
// factor so majorants keep their meaning).
func (v *Volume) NormalizeToUnitCube() float32 {
	const inf = 1e30
	bmin := mgl32.Vec3{inf, inf, inf}
	bmax := mgl32.Vec3{-inf, -inf, -inf}
	found := false
	for _, frame := range v.Grids {
		g, ok := frame["density"]
		if !ok || g == nil {
			continue
		}
		gmin, gmax := gridCornersWorld(g)
		bmin = componentMin(bmin, gmin)
		bmax = componentMax(bmax, gmax)
		found = true
	}
	if !found {
		return 1
	}
	extent := bmax.Sub(bmin)
	size := max32(extent.X(), max32(extent.Y(), extent.Z()))
	if size == 0 || size == 1 {
		return 1
	}
	center := bmin.Add(extent.Mul(0.5))
	scale := mgl32.Scale3D(1/size, 1/size, 1/size)
	translate := mgl32.Translate3D(-center.X(), -center.Y(), -center.Z())
	v.Transform = scale.Mul4(translate)
	return size
}

func gridCornersWorld(g *Grid) (min, max mgl32.Vec3) {
	origin := transformPoint(g.Transform, mgl32.Vec3{0, 0, 0})
	extent := transformPoint(g.Transform, mgl32.Vec3{
		float32(g.IndexExtent[0]), float32(g.IndexExtent[1]), float32(g.IndexExtent[2]),
	})
	return componentMin(origin, extent), componentMax(origin, extent)
}

func transformPoint(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	v4 := m.Mul4x1(mgl32.Vec4{p.X(), p.Y(), p.Z(), 1})
	return mgl32.Vec3{v4.X(), v4.Y(), v4.Z()}
}

func componentMin(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{min32(a.X(), b.X()), min32(a.Y(), b.Y()), min32(a.Z(), b.Z())}
}

func componentMax(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{max32(a.X(), b.X()), max32(a.Y(), b.Y()), max32(a.Z(), b.Z())}
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
