package volume

import "github.com/go-gl/mathgl/mgl32"

// StepDDA computes the parametric distance to the next brick boundary on
// mip level mip (brick side D = 8*2^mip) from index-space position pos,
// given the reciprocal ray direction ri (1/idir, non-normalized idir).
func StepDDA(pos, ri mgl32.Vec3, mip int) float32 {
	d := float32(int(BrickSize) << uint(mip))
	offs := mgl32.Vec3{mixOffset(ri.X(), d), mixOffset(ri.Y(), d), mixOffset(ri.Z(), d)}
	tmax := mgl32.Vec3{
		(floorDiv(pos.X(), d)*d + offs.X() - pos.X()) * ri.X(),
		(floorDiv(pos.Y(), d)*d + offs.Y() - pos.Y()) * ri.Y(),
		(floorDiv(pos.Z(), d)*d + offs.Z() - pos.Z()) * ri.Z(),
	}
	return min32(tmax.X(), min32(tmax.Y(), tmax.Z()))
}

// mixOffset returns -0.5 if the corresponding ray component is negative
// (stepping toward the lower face) or D+0.5 otherwise (stepping toward
// the upper face).
func mixOffset(ri float32, d float32) float32 {
	if ri >= 0 {
		return d + 0.5
	}
	return -0.5
}

func floorDiv(x, d float32) float32 {
	q := x / d
	fq := float32(int64(q))
	if q < 0 && fq != q {
		fq--
	}
	return fq
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
