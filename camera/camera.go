// Package camera implements the pinhole camera that maps a pixel
// (plus sub-pixel jitter) to a primary world-space ray.
package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Ray is a world-space ray with an optional [Near, Far] parametric range.
type Ray struct {
	Origin mgl32.Vec3
	Dir    mgl32.Vec3
	Near   float32
	Far    float32
}

// Camera is a pinhole camera: world position, a rotation matrix whose
// columns are (right, up, forward), and a vertical field of view in
// degrees.
type Camera struct {
	Position  mgl32.Vec3
	Transform mgl32.Mat3 // columns = right, up, forward
	FovDegree float32
}

// New returns a Camera looking down -Z with a 60 degree vertical FOV.
func New() *Camera {
	return &Camera{
		Position:  mgl32.Vec3{0, 0, 0},
		Transform: mgl32.Ident3(),
		FovDegree: 60,
	}
}

// PrimaryRay builds the primary ray through pixel (x, y) of a (w, h)
// resolution framebuffer, offset by sub-pixel jitter (jx, jy) in [0, 1).
func (c *Camera) PrimaryRay(x, y, w, h int, jx, jy float32) Ray {
	px := (float32(x) + jx - 0.5*float32(w))
	py := (float32(y) + jy - 0.5*float32(h))
	ndc := mgl32.Vec2{px, py}.Mul(1 / float32(h))
	z := -0.5 / float32(math.Tan(0.5*math.Pi*float64(c.FovDegree)/180))
	local := mgl32.Vec3{ndc.X(), ndc.Y(), z}.Normalize()
	dir := c.Transform.Mul3x1(local).Normalize()
	return Ray{
		Origin: c.Position,
		Dir:    dir,
		Near:   0,
		Far:    float32(math.Inf(1)),
	}
}
