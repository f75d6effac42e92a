// Package phase implements the two supported scattering phase functions:
// isotropic and Henyey-Greenstein.
package phase

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/nullcollision/volren/internal/frame"
)

const inv4Pi = 1.0 / (4 * math.Pi)

// Isotropic returns the isotropic phase function value, 1/(4*pi),
// independent of direction.
func Isotropic() float32 {
	return float32(inv4Pi)
}

// HenyeyGreenstein evaluates the Henyey-Greenstein phase function for
// cosine-of-angle cosT and asymmetry parameter g in (-1, 1).
func HenyeyGreenstein(cosT, g float32) float32 {
	denom := 1 + g*g + 2*g*cosT
	return float32(inv4Pi) * (1 - g*g) / (denom * float32(math.Sqrt(float64(denom))))
}

// SampleIsotropic draws a direction uniformly over the sphere from a 2D
// uniform sample.
func SampleIsotropic(xi [2]float32) mgl32.Vec3 {
	cosT := 1 - 2*xi[0]
	sinT := float32(math.Sqrt(math.Max(0, float64(1-cosT*cosT))))
	phi := 2 * math.Pi * xi[1]
	return mgl32.Vec3{sinT * float32(math.Cos(float64(phi))), sinT * float32(math.Sin(float64(phi))), cosT}
}

// SampleHenyeyGreenstein draws a scattering direction around incoming
// direction dir for asymmetry g, falling back to isotropic sampling when g
// is numerically negligible.
func SampleHenyeyGreenstein(dir mgl32.Vec3, g float32, xi [2]float32) mgl32.Vec3 {
	var cosT float32
	if abs32(g) < 1e-4 {
		cosT = 1 - 2*xi[0]
	} else {
		term := (1 - g*g) / (1 - g + 2*g*xi[0])
		cosT = (1 + g*g - term*term) / (2 * g)
	}
	sinT := float32(math.Sqrt(math.Max(0, float64(1-cosT*cosT))))
	phi := 2 * math.Pi * xi[1]
	local := mgl32.Vec3{sinT * float32(math.Cos(float64(phi))), sinT * float32(math.Sin(float64(phi))), cosT}
	return frame.Align(dir, local)
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
