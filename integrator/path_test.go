package integrator

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullcollision/volren/camera"
	"github.com/nullcollision/volren/environment"
	"github.com/nullcollision/volren/internal/rng"
	"github.com/nullcollision/volren/transport"
	"github.com/nullcollision/volren/volume"
)

func homogeneousCube(t *testing.T, value float32) *transport.FrameContext {
	t.Helper()
	g := &volume.Grid{
		Transform:   mgl32.Ident4(),
		IndexExtent: [3]int{8, 8, 8},
		Minorant:    value,
		Majorant:    value,
		Decode:      func(ix, iy, iz int) float32 { return value },
	}
	bg, err := volume.BuildBrickGrid(g)
	require.NoError(t, err)
	fc, err := transport.NewFrameContext(bg, nil, 1, mgl32.Vec3{1, 1, 1})
	require.NoError(t, err)
	return fc
}

func uniformEnvironment(t *testing.T, value float32) *environment.Environment {
	t.Helper()
	pixels := make([]environment.RGB, 8*4)
	for i := range pixels {
		pixels[i] = environment.RGB{R: value, G: value, B: value}
	}
	env, err := environment.New(pixels, 8, 4, 1, mgl32.Ident3())
	require.NoError(t, err)
	return env
}

func axialRay() camera.Ray {
	return camera.Ray{
		Origin: mgl32.Vec3{-2, 4, 4},
		Dir:    mgl32.Vec3{1, 0, 0},
		Far:    float32(math.Inf(1)),
	}
}

func TestEmptyVolumeSeesUniformEnvironment(t *testing.T) {
	// empty volume, white environment of strength 1: radiance must be 1
	// everywhere; with no medium at all each sample is already exact.
	fc := homogeneousCube(t, 0)
	env := uniformEnvironment(t, 1)
	p := Params{Bounces: 16, ShowEnvironment: true}

	for i := 0; i < 32; i++ {
		r := rng.New(uint32(i), 0)
		c := Trace(axialRay(), fc.RatioTrackingEstimator(), env, p, r)
		assert.InDelta(t, 1.0, c.X(), 0.01)
		assert.InDelta(t, 1.0, c.Y(), 0.01)
		assert.InDelta(t, 1.0, c.Z(), 0.01)
	}
}

func TestAbsorbingVolumeBlackEnvironmentIsBlack(t *testing.T) {
	// albedo 0 kills throughput at the first collision and a black
	// environment contributes nothing: radiance must be exactly 0.
	g := &volume.Grid{
		Transform:   mgl32.Ident4(),
		IndexExtent: [3]int{8, 8, 8},
		Majorant:    1,
		Decode:      func(ix, iy, iz int) float32 { return 1 },
	}
	bg, err := volume.BuildBrickGrid(g)
	require.NoError(t, err)
	fc, err := transport.NewFrameContext(bg, nil, 1, mgl32.Vec3{0, 0, 0})
	require.NoError(t, err)
	env := uniformEnvironment(t, 0)
	p := Params{Bounces: 16, ShowEnvironment: true}

	for i := 0; i < 64; i++ {
		r := rng.New(uint32(i), 3)
		c := Trace(axialRay(), fc.RatioTrackingEstimator(), env, p, r)
		assert.Equal(t, float32(0), c.X())
		assert.Equal(t, float32(0), c.Y())
		assert.Equal(t, float32(0), c.Z())
	}
}

func TestEnergyConservationScatteringOnly(t *testing.T) {
	// albedo 1, isotropic phase, black environment, no emission: there is
	// no light source anywhere, so converged radiance is 0.
	fc := homogeneousCube(t, 1)
	env := uniformEnvironment(t, 0)
	p := Params{Bounces: 32, ShowEnvironment: true}

	sum := 0.0
	const n = 1000
	for i := 0; i < n; i++ {
		r := rng.New(uint32(i), 11)
		c := Trace(axialRay(), fc.RatioTrackingEstimator(), env, p, r)
		sum += float64(c.X())
	}
	assert.InDelta(t, 0.0, sum/n, 1e-6)
}

func TestScatteringVolumeGainsFromWhiteEnvironment(t *testing.T) {
	// a scattering medium in a white environment cannot darken below 0 or
	// brighten above the environment itself (albedo 1 conserves energy).
	// Moderate optical depth keeps truncation at the bounce cap small.
	fc := homogeneousCube(t, 0.25)
	env := uniformEnvironment(t, 1)
	p := Params{Bounces: 32, ShowEnvironment: true}

	sum := 0.0
	const n = 4000
	for i := 0; i < n; i++ {
		r := rng.New(uint32(i), 17)
		c := Trace(axialRay(), fc.RatioTrackingEstimator(), env, p, r)
		sum += float64(c.X())
	}
	mean := sum / n
	assert.Greater(t, mean, 0.5)
	assert.Less(t, mean, 1.1)
}

func TestPowerHeuristicWeightsSumToOne(t *testing.T) {
	a, b := float32(0.3), float32(1.7)
	assert.InDelta(t, 1.0, powerHeuristic(a, b)+powerHeuristic(b, a), 1e-5)
	assert.InDelta(t, 1.0, powerHeuristic(a, 0), 1e-5)
}
