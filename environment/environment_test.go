package environment

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullcollision/volren/internal/rng"
)

func uniformPixels(w, h int, v RGB) []RGB {
	out := make([]RGB, w*h)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNewRejectsNonPositiveDimensions(t *testing.T) {
	_, err := New(uniformPixels(1, 1, RGB{1, 1, 1}), 0, 4, 1, mgl32.Ident3())
	require.Error(t, err)
}

func TestNewRejectsMismatchedBuffer(t *testing.T) {
	_, err := New(make([]RGB, 3), 2, 2, 1, mgl32.Ident3())
	require.Error(t, err)
}

func TestUniformEnvironmentPDFIsConstant(t *testing.T) {
	env, err := New(uniformPixels(64, 32, RGB{1, 1, 1}), 64, 32, 1, mgl32.Ident3())
	require.NoError(t, err)

	want := float32(1 / (4 * math.Pi))
	dirs := []mgl32.Vec3{
		{0, 1, 0}, {0, -1, 0}, {1, 0, 0}, {-1, 0, 0}, {0, 0, 1},
		mgl32.Vec3{1, 1, 1}.Normalize(),
	}
	for _, d := range dirs {
		assert.InDelta(t, want, env.PDF(d), 1e-3)
	}
}

func TestEnvironmentPDFIntegratesToOne(t *testing.T) {
	pixels := make([]RGB, 64*32)
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			v := float32(1 + x%7)
			pixels[y*64+x] = RGB{v, v, v}
		}
	}
	env, err := New(pixels, 64, 32, 1, mgl32.Ident3())
	require.NoError(t, err)

	r := rng.New(99, 1)
	const n = 200000
	sum := 0.0
	for i := 0; i < n; i++ {
		dir := sphereDir(r.Float2())
		pdf := env.PDF(dir)
		sum += float64(pdf) * 4 * math.Pi
	}
	assert.InDelta(t, 1.0, sum/n, 0.03)
}

func TestImportanceSamplerConsistentWithAnalyticPDF(t *testing.T) {
	pixels := make([]RGB, 128*64)
	for y := 0; y < 64; y++ {
		for x := 0; x < 128; x++ {
			v := float32(1 + (x*7+y*3)%11)
			pixels[y*128+x] = RGB{v, v, v}
		}
	}
	env, err := New(pixels, 128, 64, 1, mgl32.Ident3())
	require.NoError(t, err)

	r := rng.New(7, 3)
	const n = 20000
	var maxRelErr float64
	for i := 0; i < n; i++ {
		dir, pdfSample := env.Sample(r.Float2())
		pdfAnalytic := env.PDF(dir)
		if pdfAnalytic <= 0 {
			continue
		}
		rel := math.Abs(float64(pdfSample-pdfAnalytic)) / float64(pdfAnalytic)
		if rel > maxRelErr {
			maxRelErr = rel
		}
	}
	assert.Less(t, maxRelErr, 0.01)
}

func TestDeltaEnvironmentSampleConcentratesOnBrightTexel(t *testing.T) {
	const w, h = 64, 32
	pixels := uniformPixels(w, h, RGB{0, 0, 0})
	brightX, brightY := 40, 10
	pixels[brightY*w+brightX] = RGB{1e6, 1e6, 1e6}
	env, err := New(pixels, w, h, 1, mgl32.Ident3())
	require.NoError(t, err)

	wantDir := env.dirFromUV((float32(brightX)+0.5)/w, (float32(brightY)+0.5)/h)

	r := rng.New(11, 5)
	const n = 10000
	const texelAngle = 2 * math.Pi / w // generous bound on one texel's angular span
	within := 0
	for i := 0; i < n; i++ {
		dir, pdf := env.Sample(r.Float2())
		if pdf <= 0 {
			continue
		}
		cosAngle := dir.Dot(wantDir)
		if cosAngle > 1 {
			cosAngle = 1
		}
		angle := math.Acos(float64(cosAngle))
		if angle <= texelAngle {
			within++
		}
	}
	assert.GreaterOrEqual(t, float64(within)/n, 0.90)
}

func TestRadianceDirectLookupMatchesBrightTexel(t *testing.T) {
	const w, h = 16, 8
	pixels := uniformPixels(w, h, RGB{0, 0, 0})
	pixels[3*w+5] = RGB{9, 8, 7}
	env, err := New(pixels, w, h, 1, mgl32.Ident3())
	require.NoError(t, err)

	dir := env.dirFromUV((5.0+0.5)/w, (3.0+0.5)/h)
	c := env.Radiance(dir)
	assert.InDelta(t, 9, c.R, 0.5)
	assert.InDelta(t, 8, c.G, 0.5)
	assert.InDelta(t, 7, c.B, 0.5)
}

func TestNewResizesNonPowerOfTwoInput(t *testing.T) {
	env, err := New(uniformPixels(100, 60, RGB{2, 2, 2}), 100, 60, 1, mgl32.Ident3())
	require.NoError(t, err)
	assert.Equal(t, 128, env.Width)
	assert.Equal(t, 64, env.Height)
}

// sphereDir maps a uniform 2D sample to a uniformly distributed
// direction on the sphere, for Monte Carlo integration against PDF.
func sphereDir(xi [2]float32) mgl32.Vec3 {
	cosT := 1 - 2*xi[0]
	sinT := float32(math.Sqrt(float64(1 - cosT*cosT)))
	phi := 2 * math.Pi * xi[1]
	return mgl32.Vec3{sinT * float32(math.Cos(float64(phi))), cosT, sinT * float32(math.Sin(float64(phi)))}
}
