package volume

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// BrickSize is the fixed side length of a brick in voxels (8^3), per the
// upload contract: "Brick side is 8".
const BrickSize = 8

// emptyPtr is the canonical empty indirection entry: bricks pointing
// here decode to zero everywhere.
var emptyPtr = [3]uint16{0xFFFF, 0xFFFF, 0xFFFF}

// Handle identifies a BrickGrid built by commit(); it is a stable handle
// into the driver's resource arena, not a pointer into the struct
// itself.
type Handle = uuid.UUID

// brickRange holds the (min, max) decoded value across a brick's 8^3
// voxels (or, for a coarser mip, across the bricks it covers).
type brickRange struct {
	Lo, Hi float32
}

// BrickGrid is the sparse voxel structure the free-flight samplers
// consume: a dense indirection grid at brick resolution, a dense range
// grid (plus its coarsening mip chain) for majorant lookups, and a dense
// atlas of unit-normalized voxel values.
type BrickGrid struct {
	Handle Handle

	// Transform maps this brick grid's index space into world space,
	// i.e. the Grid's own Transform at build time; Inverse is its
	// inverse, used to bring world-space rays into index space for DDA
	// traversal and brick lookups.
	Transform mgl32.Mat4
	Inverse   mgl32.Mat4

	// IndexExtent is the source Grid's voxel extent (not rounded up to a
	// brick multiple); it bounds the box the traversal loops enter/exit.
	IndexExtent [3]int

	indirDims [3]int
	indir     [][3]uint16 // row-major, empty bricks hold emptyPtr

	// rangeMips[0] is the per-brick (min,max); rangeMips[k] covers
	// (8*2^k)^3 regions, halving each dimension until it reaches 1x1x1.
	rangeMips     [][]brickRange
	rangeMipsDims [][3]int

	atlasDims [3]int
	atlas     []float32 // unit-normalized in [0,1], row-major

	Minorant, Majorant float32
}

func idx3(dims [3]int, x, y, z int) int {
	return (z*dims[1]+y)*dims[0] + x
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// BuildBrickGrid converts a dense Grid into a sparse BrickGrid: it scans
// every 8^3 brick, records its (min,max) range, packs occupied bricks
// into a cube-shaped atlas, and builds the min/max mip chain used by
// majorant-accelerated DDA traversal. Empty bricks (range == (0,0)) get
// the canonical empty indirection entry and decode to zero everywhere.
func BuildBrickGrid(g *Grid) (*BrickGrid, error) {
	if g == nil || g.Decode == nil {
		return nil, fmt.Errorf("volume: grid has no decoder: %w", ErrEmptyDensityGrid)
	}
	for _, e := range g.IndexExtent {
		if e <= 0 {
			return nil, fmt.Errorf("volume: grid index_extent must be positive, got %v: %w", g.IndexExtent, ErrEmptyDensityGrid)
		}
	}

	bricksX := ceilDiv(g.IndexExtent[0], BrickSize)
	bricksY := ceilDiv(g.IndexExtent[1], BrickSize)
	bricksZ := ceilDiv(g.IndexExtent[2], BrickSize)
	indirDims := [3]int{bricksX, bricksY, bricksZ}

	numBricks := bricksX * bricksY * bricksZ
	range0 := make([]brickRange, numBricks)
	indir := make([][3]uint16, numBricks)
	for i := range indir {
		indir[i] = emptyPtr
	}

	type occupiedBrick struct {
		bx, by, bz int
		values     [BrickSize][BrickSize][BrickSize]float32
		lo, hi     float32
	}
	occupied := make([]occupiedBrick, 0, numBricks)

	overallMin := float32(math.Inf(1))
	overallMax := float32(math.Inf(-1))

	for bz := 0; bz < bricksZ; bz++ {
		for by := 0; by < bricksY; by++ {
			for bx := 0; bx < bricksX; bx++ {
				lo := float32(math.Inf(1))
				hi := float32(math.Inf(-1))
				var values [BrickSize][BrickSize][BrickSize]float32
				any := false
				for lz := 0; lz < BrickSize; lz++ {
					iz := bz*BrickSize + lz
					if iz >= g.IndexExtent[2] {
						continue
					}
					for ly := 0; ly < BrickSize; ly++ {
						iy := by*BrickSize + ly
						if iy >= g.IndexExtent[1] {
							continue
						}
						for lx := 0; lx < BrickSize; lx++ {
							ix := bx*BrickSize + lx
							if ix >= g.IndexExtent[0] {
								continue
							}
							v := g.Decode(ix, iy, iz)
							values[lx][ly][lz] = v
							if v < lo {
								lo = v
							}
							if v > hi {
								hi = v
							}
							any = true
						}
					}
				}
				bIdx := idx3(indirDims, bx, by, bz)
				if !any || hi <= 0 {
					range0[bIdx] = brickRange{0, 0}
					continue
				}
				if lo < 0 {
					lo = 0
				}
				range0[bIdx] = brickRange{lo, hi}
				if lo < overallMin {
					overallMin = lo
				}
				if hi > overallMax {
					overallMax = hi
				}
				occupied = append(occupied, occupiedBrick{bx: bx, by: by, bz: bz, values: values, lo: lo, hi: hi})
			}
		}
	}

	if len(occupied) == 0 {
		overallMin, overallMax = 0, 0
	}

	// Pack occupied bricks into a cube-shaped atlas: stride =
	// ceil(cbrt(occupied)) bricks per axis, per the upload contract.
	atlasBricksPerSide := int(math.Ceil(math.Cbrt(float64(len(occupied)))))
	if atlasBricksPerSide < 1 {
		atlasBricksPerSide = 1
	}
	atlasDims := [3]int{atlasBricksPerSide * BrickSize, atlasBricksPerSide * BrickSize, atlasBricksPerSide * BrickSize}
	atlas := make([]float32, atlasDims[0]*atlasDims[1]*atlasDims[2])

	for i, ob := range occupied {
		ax := i % atlasBricksPerSide
		ay := (i / atlasBricksPerSide) % atlasBricksPerSide
		az := i / (atlasBricksPerSide * atlasBricksPerSide)
		indir[idx3(indirDims, ob.bx, ob.by, ob.bz)] = [3]uint16{uint16(ax), uint16(ay), uint16(az)}

		span := ob.hi - ob.lo
		for lz := 0; lz < BrickSize; lz++ {
			for ly := 0; ly < BrickSize; ly++ {
				for lx := 0; lx < BrickSize; lx++ {
					var unorm float32
					if span > 0 {
						unorm = (ob.values[lx][ly][lz] - ob.lo) / span
						if unorm < 0 {
							unorm = 0
						} else if unorm > 1 {
							unorm = 1
						}
					}
					// quantize to the atlas's 8-bit precision
					unorm = float32(uint8(unorm*255+0.5)) / 255
					px, py, pz := ax*BrickSize+lx, ay*BrickSize+ly, az*BrickSize+lz
					atlas[idx3(atlasDims, px, py, pz)] = unorm
				}
			}
		}
	}

	rangeMips, rangeMipsDims := buildRangeMips(range0, indirDims)

	bg := &BrickGrid{
		Handle:        uuid.New(),
		Transform:     g.Transform,
		Inverse:       g.Transform.Inv(),
		IndexExtent:   g.IndexExtent,
		indirDims:     indirDims,
		indir:         indir,
		rangeMips:     rangeMips,
		rangeMipsDims: rangeMipsDims,
		atlasDims:     atlasDims,
		atlas:         atlas,
		Minorant:      overallMin,
		Majorant:      overallMax,
	}
	return bg, nil
}

// buildRangeMips halves the per-brick range grid's dimensions each level,
// taking the min-of-mins / max-of-maxes over each 2x2x2 neighborhood,
// until every dimension reaches 1 (the top level is a single region
// covering the whole grid).
func buildRangeMips(level0 []brickRange, dims [3]int) ([][]brickRange, [][3]int) {
	mips := [][]brickRange{level0}
	mipDims := [][3]int{dims}
	cur := level0
	curDims := dims
	for curDims[0] > 1 || curDims[1] > 1 || curDims[2] > 1 {
		nextDims := [3]int{ceilDiv(curDims[0], 2), ceilDiv(curDims[1], 2), ceilDiv(curDims[2], 2)}
		next := make([]brickRange, nextDims[0]*nextDims[1]*nextDims[2])
		for i := range next {
			next[i] = brickRange{Lo: float32(math.Inf(1)), Hi: float32(math.Inf(-1))}
		}
		for z := 0; z < curDims[2]; z++ {
			for y := 0; y < curDims[1]; y++ {
				for x := 0; x < curDims[0]; x++ {
					r := cur[idx3(curDims, x, y, z)]
					ni := idx3(nextDims, x/2, y/2, z/2)
					if r.Lo < next[ni].Lo {
						next[ni].Lo = r.Lo
					}
					if r.Hi > next[ni].Hi {
						next[ni].Hi = r.Hi
					}
				}
			}
		}
		for i := range next {
			if math.IsInf(float64(next[i].Lo), 1) {
				next[i] = brickRange{0, 0}
			}
		}
		mips = append(mips, next)
		mipDims = append(mipDims, nextDims)
		cur, curDims = next, nextDims
	}
	return mips, mipDims
}

// NumMips returns the number of levels in the range mip chain, including
// level 0 (per-brick) and the top 1x1x1 level.
func (bg *BrickGrid) NumMips() int { return len(bg.rangeMips) }

func clampMipCoord(dims [3]int, x, y, z int) (int, int, int) {
	if x < 0 {
		x = 0
	} else if x >= dims[0] {
		x = dims[0] - 1
	}
	if y < 0 {
		y = 0
	} else if y >= dims[1] {
		y = dims[1] - 1
	}
	if z < 0 {
		z = 0
	} else if z >= dims[2] {
		z = dims[2] - 1
	}
	return x, y, z
}

// LookupVoxel decodes the voxel at floating index position p: floor to
// an integer index, route through the indirection/range/atlas triple,
// and return the dequantized value. Empty bricks (and out-of-range
// positions) return 0.
func (bg *BrickGrid) LookupVoxel(p mgl32.Vec3) float32 {
	ix, iy, iz := int(math.Floor(float64(p.X()))), int(math.Floor(float64(p.Y()))), int(math.Floor(float64(p.Z())))
	bx, by, bz := ix>>3, iy>>3, iz>>3
	if bx < 0 || by < 0 || bz < 0 || bx >= bg.indirDims[0] || by >= bg.indirDims[1] || bz >= bg.indirDims[2] {
		return 0
	}
	ptr := bg.indir[idx3(bg.indirDims, bx, by, bz)]
	if ptr == emptyPtr {
		return 0
	}
	lx, ly, lz := ix&7, iy&7, iz&7
	rng := bg.rangeMips[0][idx3(bg.indirDims, bx, by, bz)]
	ax := int(ptr[0])*BrickSize + lx
	ay := int(ptr[1])*BrickSize + ly
	az := int(ptr[2])*BrickSize + lz
	unorm := bg.atlas[idx3(bg.atlasDims, ax, ay, az)]
	return rng.Lo + unorm*(rng.Hi-rng.Lo)
}

// LookupMajorant returns the extinction upper bound over the
// (8*2^mip)^3-sized region covering index position p at the given mip
// level (0 = per-brick), not yet scaled by the density scale; callers
// apply that.
func (bg *BrickGrid) LookupMajorant(p mgl32.Vec3, mip int) float32 {
	if mip < 0 {
		mip = 0
	}
	if mip >= len(bg.rangeMips) {
		mip = len(bg.rangeMips) - 1
	}
	ix, iy, iz := int(math.Floor(float64(p.X())))>>(3+mip), int(math.Floor(float64(p.Y())))>>(3+mip), int(math.Floor(float64(p.Z())))>>(3+mip)
	dims := bg.rangeMipsDims[mip]
	ix, iy, iz = clampMipCoord(dims, ix, iy, iz)
	return bg.rangeMips[mip][idx3(dims, ix, iy, iz)].Hi
}

// ToIndexSpace transforms a world-space ray origin and (possibly
// non-unit) direction into this brick grid's index space, for DDA
// traversal and voxel lookups that operate on integer brick/voxel
// coordinates.
func (bg *BrickGrid) ToIndexSpace(pos, dir mgl32.Vec3) (ipos, idir mgl32.Vec3) {
	p4 := bg.Inverse.Mul4x1(mgl32.Vec4{pos.X(), pos.Y(), pos.Z(), 1})
	ipos = mgl32.Vec3{p4.X(), p4.Y(), p4.Z()}
	// direction transforms as a vector (w=0): no translation component.
	d4 := bg.Inverse.Mul4x1(mgl32.Vec4{dir.X(), dir.Y(), dir.Z(), 0})
	idir = mgl32.Vec3{d4.X(), d4.Y(), d4.Z()}
	return ipos, idir
}

// Bounds returns the index-space AABB covering every voxel.
func (bg *BrickGrid) Bounds() (min, max mgl32.Vec3) {
	return mgl32.Vec3{}, mgl32.Vec3{float32(bg.IndexExtent[0]), float32(bg.IndexExtent[1]), float32(bg.IndexExtent[2])}
}

// WorldBounds returns the world-space AABB of the grid, used for the
// initial ray/volume box test before any index-space traversal begins.
func (bg *BrickGrid) WorldBounds() (min, max mgl32.Vec3) {
	origin := transformPoint(bg.Transform, mgl32.Vec3{0, 0, 0})
	extent := transformPoint(bg.Transform, mgl32.Vec3{
		float32(bg.IndexExtent[0]), float32(bg.IndexExtent[1]), float32(bg.IndexExtent[2]),
	})
	return componentMin(origin, extent), componentMax(origin, extent)
}

// LookupDensity samples the voxel at p with a stochastic box filter
// (p + xi - 0.5, xi ~ U[0,1)^3) to avoid aliasing without a trilinear
// filter. For a p inside the grid's index extent the jittered position is
// clamped to that extent, so the filter never reads outside the grid.
func (bg *BrickGrid) LookupDensity(p mgl32.Vec3, xi [3]float32) float32 {
	jittered := mgl32.Vec3{p.X() + xi[0] - 0.5, p.Y() + xi[1] - 0.5, p.Z() + xi[2] - 0.5}
	for i := 0; i < 3; i++ {
		ext := float32(bg.IndexExtent[i])
		if p[i] >= 0 && jittered[i] < 0 {
			jittered[i] = 0
		} else if p[i] < ext && jittered[i] >= ext {
			jittered[i] = ext - 0.5
		}
	}
	return bg.LookupVoxel(jittered)
}
