package frame

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestAlignPreservesLength(t *testing.T) {
	n := mgl32.Vec3{0.3, 0.1, 0.94}.Normalize()
	v := mgl32.Vec3{0.2, -0.5, 0.84}.Normalize()
	out := Align(n, v)
	assert.InDelta(t, 1.0, out.Len(), 1e-4)
}

func TestAlignIdentityOnLocalZ(t *testing.T) {
	n := mgl32.Vec3{0, 0, 1}
	out := Align(n, mgl32.Vec3{0, 0, 1})
	assert.InDelta(t, 0, out.X(), 1e-4)
	assert.InDelta(t, 0, out.Y(), 1e-4)
	assert.InDelta(t, 1, out.Z(), 1e-4)
}

func TestIntersectBoxRayInsideBox(t *testing.T) {
	near, far, hit := IntersectBox(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	assert.True(t, hit)
	assert.Equal(t, float32(0), near)
	assert.Greater(t, far, float32(0))
}

func TestIntersectBoxRayOutsidePointingAway(t *testing.T) {
	_, _, hit := IntersectBox(mgl32.Vec3{-10, 0, 0}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	assert.False(t, hit)
}

func TestIntersectBoxRayHitsFromOutside(t *testing.T) {
	near, far, hit := IntersectBox(mgl32.Vec3{-10, 0, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	assert.True(t, hit)
	assert.InDelta(t, 9, near, 1e-4)
	assert.InDelta(t, 11, far, 1e-4)
}
