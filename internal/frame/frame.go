// Package frame provides the small geometric primitives shared by the
// camera, phase-function sampler, and volume traversal: tangent-frame
// alignment and axis-aligned box intersection.
package frame

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Align builds an orthonormal tangent basis (T, B, N) around n, choosing T
// as the normalized rejection of whichever world axis is most orthogonal
// to n, and returns v rotated from that local frame into world space.
func Align(n, v mgl32.Vec3) mgl32.Vec3 {
	var t mgl32.Vec3
	if abs32(n.X()) > abs32(n.Y()) {
		t = mgl32.Vec3{-n.Z(), 0, n.X()}.Mul(1 / float32(math.Sqrt(float64(n.X()*n.X()+n.Z()*n.Z()))))
	} else {
		t = mgl32.Vec3{0, n.Z(), -n.Y()}.Mul(1 / float32(math.Sqrt(float64(n.Y()*n.Y()+n.Z()*n.Z()))))
	}
	b := n.Cross(t)
	world := t.Mul(v.X()).Add(b.Mul(v.Y())).Add(n.Mul(v.Z()))
	return world.Normalize()
}

// IntersectBox computes the entry/exit parametric distances of the ray
// (o, d) against the axis-aligned box [bmin, bmax] using the slab method.
// near is clamped to 0; hit is true iff near <= far.
func IntersectBox(o, d, bmin, bmax mgl32.Vec3) (near, far float32, hit bool) {
	invD := mgl32.Vec3{1 / d.X(), 1 / d.Y(), 1 / d.Z()}
	dmin := bmin.Sub(o)
	dmax := bmax.Sub(o)
	lo := mgl32.Vec3{dmin.X() * invD.X(), dmin.Y() * invD.Y(), dmin.Z() * invD.Z()}
	hi := mgl32.Vec3{dmax.X() * invD.X(), dmax.Y() * invD.Y(), dmax.Z() * invD.Z()}
	tmin := mgl32.Vec3{min32(lo.X(), hi.X()), min32(lo.Y(), hi.Y()), min32(lo.Z(), hi.Z())}
	tmax := mgl32.Vec3{max32(lo.X(), hi.X()), max32(lo.Y(), hi.Y()), max32(lo.Z(), hi.Z())}
	near = max32(0, max32(tmin.X(), max32(tmin.Y(), tmin.Z())))
	far = min32(tmax.X(), min32(tmax.Y(), tmax.Z()))
	return near, far, near <= far
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
