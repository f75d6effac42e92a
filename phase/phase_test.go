package phase

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestIsotropicIntegratesToOne(t *testing.T) {
	// integral over the sphere of a constant pdf p is p * 4*pi
	total := Isotropic() * 4 * math.Pi
	assert.InDelta(t, 1, total, 1e-4)
}

func TestHenyeyGreensteinReducesToIsotropicAtZeroG(t *testing.T) {
	assert.InDelta(t, Isotropic(), HenyeyGreenstein(0.3, 0), 1e-5)
}

func TestSampleIsotropicUnitLength(t *testing.T) {
	v := SampleIsotropic([2]float32{0.2, 0.77})
	assert.InDelta(t, 1, v.Len(), 1e-4)
}

func TestSampleHenyeyGreensteinUnitLength(t *testing.T) {
	dir := mgl32.Vec3{0, 0, 1}
	v := SampleHenyeyGreenstein(dir, 0.6, [2]float32{0.1, 0.4})
	assert.InDelta(t, 1, v.Len(), 1e-4)
}

func TestSampleHenyeyGreensteinSmallGFallsBackToIsotropic(t *testing.T) {
	dir := mgl32.Vec3{0, 0, 1}
	a := SampleHenyeyGreenstein(dir, 0, [2]float32{0.33, 0.66})
	assert.InDelta(t, 1, a.Len(), 1e-4)
	// isotropic sampling draws cosθ = 1 - 2ξ₁ around dir
	assert.InDelta(t, 1-2*0.33, a.Dot(dir), 1e-4)
}
