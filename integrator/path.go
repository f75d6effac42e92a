// Package integrator implements the null-collision path integrator: a
// bounded multiple-scattering loop combining free-flight sampling with
// next-event estimation against the environment's importance sampler,
// weighted by multiple importance sampling.
package integrator

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/nullcollision/volren/camera"
	"github.com/nullcollision/volren/environment"
	"github.com/nullcollision/volren/internal/rng"
	"github.com/nullcollision/volren/phase"
	"github.com/nullcollision/volren/transport"
)

// rrStartBounce is the minimum bounce count before Russian roulette may
// terminate a path.
const rrStartBounce = 2

// Params are the per-trace integrator settings; they stay constant over a
// whole progressive pass.
type Params struct {
	Bounces         int
	ShowEnvironment bool
	PhaseG          float32
}

// Trace estimates the radiance arriving along ray through the medium the
// estimator samples, consuming RNG draws in a fixed order so a given seed
// always reproduces the same path.
func Trace(ray camera.Ray, est transport.Estimator, env *environment.Environment, p Params, r *rng.Rng) mgl32.Vec3 {
	pos, dir := ray.Origin, ray.Dir
	throughput := mgl32.Vec3{1, 1, 1}
	radiance := mgl32.Vec3{}
	lastPdf := float32(math.Inf(1)) // primary rays are a delta distribution

	for bounce := 0; bounce < p.Bounces; bounce++ {
		col, hit := est.SampleFreeFlight(pos, dir, &throughput, &radiance, r)
		if !hit {
			if env != nil && (p.ShowEnvironment || bounce > 0) {
				le := env.Radiance(dir)
				w := float32(1)
				if !math.IsInf(float64(lastPdf), 1) {
					w = powerHeuristic(lastPdf, env.PDF(dir))
				}
				radiance = radiance.Add(scaleRGB(throughput, le, w))
			}
			break
		}
		colPos := pos.Add(dir.Mul(col.T))

		// next-event estimation toward the environment
		if env != nil {
			omega, pEnv := env.Sample(r.Float2())
			if pEnv > 0 {
				tr := est.Transmittance(colPos, omega, r)
				if tr > 0 {
					f := evalPhase(dir.Dot(omega), p.PhaseG)
					w := powerHeuristic(pEnv, f)
					le := env.Radiance(omega)
					radiance = radiance.Add(scaleRGB(throughput, le, tr*f*w/pEnv))
				}
			}
		}

		// scatter into a new direction and record its pdf for MIS
		newDir := phase.SampleHenyeyGreenstein(dir, p.PhaseG, r.Float2())
		lastPdf = evalPhase(dir.Dot(newDir), p.PhaseG)
		pos, dir = colPos, newDir

		if bounce >= rrStartBounce {
			q := min32(1, maxComponent(throughput))
			if r.Float() >= q {
				break
			}
			throughput = throughput.Mul(1 / max32(q, 1e-8))
		}
	}
	return radiance
}

// evalPhase takes the cosine between the travel direction and the
// scattered one; HenyeyGreenstein's +2g·cosθ term expects the cosine
// against the reversed travel direction, so it is negated here to match
// the forward-peaked (g > 0) distribution SampleHenyeyGreenstein draws.
func evalPhase(cosT, g float32) float32 {
	if abs32(g) < 1e-4 {
		return phase.Isotropic()
	}
	return phase.HenyeyGreenstein(-cosT, g)
}

// powerHeuristic is the beta=2 MIS weight a^2 / (a^2 + b^2).
func powerHeuristic(a, b float32) float32 {
	a2 := a * a
	return a2 / max32(1e-12, a2+b*b)
}

func scaleRGB(throughput mgl32.Vec3, c environment.RGB, s float32) mgl32.Vec3 {
	return mgl32.Vec3{
		throughput.X() * c.R * s,
		throughput.Y() * c.G * s,
		throughput.Z() * c.B * s,
	}
}

func maxComponent(v mgl32.Vec3) float32 {
	return max32(v.X(), max32(v.Y(), v.Z()))
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
