// Package transport implements the volumetric transmittance estimators
// and free-flight (delta-tracking) samplers: the null-collision machinery
// the path integrator drives at each scattering event. Two families are
// provided, ratio tracking against a constant global majorant and
// brick-majorant-accelerated DDA tracking, both unbiased estimators of
// transmittance and collision distance.
package transport

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/nullcollision/volren/internal/frame"
	"github.com/nullcollision/volren/internal/rng"
	"github.com/nullcollision/volren/transferfunc"
	"github.com/nullcollision/volren/volume"
)

// mip is the range-mip level the DDA variants step on. Coarser mips
// need more care to avoid cutoff artifacts near brick seams, so
// traversal stays at the per-brick level.
const mip = 0

// FrameContext bundles every resource handle and derived scalar the
// estimators in this package need: an explicit, immutable value passed
// to every sampling routine rather than ambient globals.
type FrameContext struct {
	Grid *volume.BrickGrid
	TF   *transferfunc.TransferFunction // nil: raw normalized density is used as alpha directly

	DensityScale float32
	Albedo       mgl32.Vec3

	Majorant    float32 // DensityScale * Grid.Majorant
	InvMajorant float32

	WorldMin, WorldMax mgl32.Vec3 // the volume's world-space AABB, for the initial box test

	// Emission is the optional emission brick grid (built from whichever
	// of "flame"/"flames"/"temperature" the current frame carries);
	// nil means no emission. It is assumed to share the density grid's
	// index space (same source Volume frame, same transform).
	Emission      *volume.BrickGrid
	EmissionScale float32
	EmissionNorm  float32 // 1 / max(emission majorant, 1e-4)
}

// NewFrameContext derives a FrameContext from a built brick grid, an
// optional transfer function, the density scale, and scattering albedo.
func NewFrameContext(grid *volume.BrickGrid, tf *transferfunc.TransferFunction, densityScale float32, albedo mgl32.Vec3) (*FrameContext, error) {
	if grid == nil {
		return nil, fmt.Errorf("transport: nil brick grid")
	}
	if densityScale <= 0 {
		return nil, fmt.Errorf("transport: density_scale must be positive, got %v", densityScale)
	}
	majorant := densityScale * grid.Majorant
	if majorant <= 0 {
		// fully empty volume: no collision is ever possible; keep the
		// majorant small but positive so 1/majorant stays finite.
		majorant = 1e-6
	}
	wmin, wmax := grid.WorldBounds()
	return &FrameContext{
		Grid:         grid,
		TF:           tf,
		DensityScale: densityScale,
		Albedo:       albedo,
		Majorant:     majorant,
		InvMajorant:  1 / majorant,
		WorldMin:     wmin,
		WorldMax:     wmax,
	}, nil
}

// SetEmission attaches an emission grid to this context. EmissionNorm
// divides out the grid's own majorant so scale acts unit-independently.
func (fc *FrameContext) SetEmission(grid *volume.BrickGrid, scale float32) {
	fc.Emission = grid
	fc.EmissionScale = scale
	if grid == nil || grid.Majorant <= 1e-4 {
		fc.EmissionNorm = 1 / 1e-4
	} else {
		fc.EmissionNorm = 1 / grid.Majorant
	}
}

func (fc *FrameContext) density(ipos mgl32.Vec3, r *rng.Rng) float32 {
	return fc.DensityScale * fc.Grid.LookupDensity(ipos, r.Float3())
}

// emissionContribution returns throughput scaled by the emission field
// at ipos (0 if no emission grid is attached), per the
// `throughput * emission(pos) * emission_scale * emission_norm` wiring.
func (fc *FrameContext) emissionContribution(ipos mgl32.Vec3, throughput mgl32.Vec3, r *rng.Rng) mgl32.Vec3 {
	if fc.Emission == nil {
		return mgl32.Vec3{}
	}
	e := fc.Emission.LookupDensity(ipos, r.Float3()) * fc.EmissionScale * fc.EmissionNorm
	return throughput.Mul(e)
}

// lookupRGBA evaluates the transfer function at the majorant-normalized
// density. Without a transfer function, alpha is the normalized density
// itself and the RGB tint is left white; the scattering albedo is
// applied separately on top of this tint at the collision site.
func (fc *FrameContext) lookupRGBA(d float32) transferfunc.RGBA {
	norm := d * fc.InvMajorant
	if fc.TF != nil {
		return fc.TF.Lookup(norm)
	}
	if norm < 0 {
		norm = 0
	} else if norm > 1 {
		norm = 1
	}
	return transferfunc.RGBA{R: 1, G: 1, B: 1, A: norm}
}

// Transmittance estimates T = exp(-integral of extinction ds) between
// pos and the volume exit along dir via ratio tracking against the
// global majorant.
func (fc *FrameContext) Transmittance(pos, dir mgl32.Vec3, r *rng.Rng) float32 {
	near, far, hit := frame.IntersectBox(pos, dir, fc.WorldMin, fc.WorldMax)
	if !hit {
		return 1
	}
	ipos, idir := fc.Grid.ToIndexSpace(pos, dir)

	t := near
	T := float32(1)
	for t < far {
		t -= logOneMinus(r) * fc.InvMajorant
		if t >= far {
			break
		}
		a := fc.lookupRGBA(fc.density(ipos.Add(idir.Mul(t)), r)).A
		T *= max32(0, 1-a)
		if T < 1 {
			prob := 1 - T
			if r.Float() < prob {
				return 0
			}
			T /= 1 - prob
		}
	}
	return T
}

// TransmittanceDDA is the brick-majorant-accelerated variant of
// Transmittance: it walks bricks via DDA stepping and tracks optical
// depth against each brick's local majorant rather than a single global
// one. On a real collision it applies the correction
// T *= max(0, 1 - majorant/brick_majorant); reviewers note this departs
// from the textbook null-collision estimator and it is kept deliberately.
func (fc *FrameContext) TransmittanceDDA(pos, dir mgl32.Vec3, r *rng.Rng) float32 {
	near, far, hit := frame.IntersectBox(pos, dir, fc.WorldMin, fc.WorldMax)
	if !hit {
		return 1
	}
	ipos, idir := fc.Grid.ToIndexSpace(pos, dir)
	ri := reciprocal(idir)

	t := near + 1e-4
	T := float32(1)
	tau := logOneMinus(r) * -1
	for t < far {
		curr := ipos.Add(idir.Mul(t))
		majorantB := fc.DensityScale * fc.Grid.LookupMajorant(curr, mip)
		dt := volume.StepDDA(curr, ri, mip)
		t += dt
		tau -= majorantB * dt
		if tau > 0 {
			continue
		}
		t += tau / majorantB
		if t >= far {
			break
		}
		d := fc.density(ipos.Add(idir.Mul(t)), r)
		if r.Float()*majorantB < d {
			T *= max32(0, 1-fc.Majorant/majorantB)
			if T < 0.1 {
				prob := 1 - T
				if r.Float() < prob {
					return 0
				}
				T /= 1 - prob
			}
		}
		tau = logOneMinus(r) * -1
	}
	return T
}

// Collision records a real scattering event found by a free-flight
// sampler: the parametric distance, the fraction of the volume segment
// it occurred at, and the alpha/transmittance bookkeeping values useful
// when debugging estimators.
type Collision struct {
	T     float32
	TNorm float32
	Alpha float32
	Tr    float32
}

// SampleFreeFlight is the delta-tracking free-flight sampler: it finds
// the distance to the next real collision (if any) within the volume,
// multiplies throughput by the transfer function's scattering tint
// times the albedo, and adds the emission contribution of every
// evaluated step into radiance.
func (fc *FrameContext) SampleFreeFlight(pos, dir mgl32.Vec3, throughput, radiance *mgl32.Vec3, r *rng.Rng) (Collision, bool) {
	near, far, hit := frame.IntersectBox(pos, dir, fc.WorldMin, fc.WorldMax)
	if !hit {
		return Collision{}, false
	}
	ipos, idir := fc.Grid.ToIndexSpace(pos, dir)

	t := near
	T := float32(1)
	for t < far {
		t -= logOneMinus(r) * fc.InvMajorant
		if t >= far {
			return Collision{}, false
		}
		p := ipos.Add(idir.Mul(t))
		*radiance = radiance.Add(fc.emissionContribution(p, *throughput, r))
		rgba := fc.lookupRGBA(fc.density(p, r))
		if r.Float() < rgba.A {
			*throughput = mgl32.Vec3{
				throughput.X() * rgba.R * fc.Albedo.X(),
				throughput.Y() * rgba.G * fc.Albedo.Y(),
				throughput.Z() * rgba.B * fc.Albedo.Z(),
			}
			return Collision{T: t, TNorm: (t - near) / (far - near), Alpha: rgba.A, Tr: T}, true
		}
		T *= 1 - rgba.A*fc.InvMajorant
	}
	return Collision{}, false
}

// SampleFreeFlightDDA is the DDA-accelerated free-flight sampler: same
// brick-walking structure as TransmittanceDDA, but on a real collision
// it returns Collision{t} and scales throughput by the albedo alone (no
// transfer function tint). Emission is added at every evaluated step,
// same as SampleFreeFlight.
func (fc *FrameContext) SampleFreeFlightDDA(pos, dir mgl32.Vec3, throughput, radiance *mgl32.Vec3, r *rng.Rng) (Collision, bool) {
	near, far, hit := frame.IntersectBox(pos, dir, fc.WorldMin, fc.WorldMax)
	if !hit {
		return Collision{}, false
	}
	ipos, idir := fc.Grid.ToIndexSpace(pos, dir)
	ri := reciprocal(idir)

	t := near + 1e-4
	T := float32(1)
	tau := logOneMinus(r) * -1
	for t < far {
		curr := ipos.Add(idir.Mul(t))
		majorantB := fc.DensityScale * fc.Grid.LookupMajorant(curr, mip)
		dt := volume.StepDDA(curr, ri, mip)
		t += dt
		tau -= majorantB * dt
		if tau > 0 {
			continue
		}
		t += tau / majorantB
		if t >= far {
			return Collision{}, false
		}
		p := ipos.Add(idir.Mul(t))
		*radiance = radiance.Add(fc.emissionContribution(p, *throughput, r))
		d := fc.density(p, r)
		if r.Float()*majorantB < d {
			*throughput = mgl32.Vec3{
				throughput.X() * fc.Albedo.X(),
				throughput.Y() * fc.Albedo.Y(),
				throughput.Z() * fc.Albedo.Z(),
			}
			return Collision{T: t, TNorm: (t - near) / (far - near), Alpha: d * fc.InvMajorant, Tr: T}, true
		}
		T *= 1 - d*fc.InvMajorant
		tau = logOneMinus(r) * -1
	}
	return Collision{}, false
}

// Estimator abstracts over the ratio-tracking and DDA-majorant
// transmittance/free-flight variants, so the integrator can select one
// at commit time instead of branching on an estimator kind at every
// sampling call site.
type Estimator interface {
	Transmittance(pos, dir mgl32.Vec3, r *rng.Rng) float32
	SampleFreeFlight(pos, dir mgl32.Vec3, throughput, radiance *mgl32.Vec3, r *rng.Rng) (Collision, bool)
}

type ratioTrackingEstimator struct{ fc *FrameContext }

func (e ratioTrackingEstimator) Transmittance(pos, dir mgl32.Vec3, r *rng.Rng) float32 {
	return e.fc.Transmittance(pos, dir, r)
}

func (e ratioTrackingEstimator) SampleFreeFlight(pos, dir mgl32.Vec3, throughput, radiance *mgl32.Vec3, r *rng.Rng) (Collision, bool) {
	return e.fc.SampleFreeFlight(pos, dir, throughput, radiance, r)
}

type ddaTrackingEstimator struct{ fc *FrameContext }

func (e ddaTrackingEstimator) Transmittance(pos, dir mgl32.Vec3, r *rng.Rng) float32 {
	return e.fc.TransmittanceDDA(pos, dir, r)
}

func (e ddaTrackingEstimator) SampleFreeFlight(pos, dir mgl32.Vec3, throughput, radiance *mgl32.Vec3, r *rng.Rng) (Collision, bool) {
	return e.fc.SampleFreeFlightDDA(pos, dir, throughput, radiance, r)
}

// RatioTrackingEstimator returns an Estimator backed by the constant
// global-majorant ratio-tracking variant.
func (fc *FrameContext) RatioTrackingEstimator() Estimator { return ratioTrackingEstimator{fc} }

// DDATrackingEstimator returns an Estimator backed by the
// brick-majorant-accelerated DDA variant.
func (fc *FrameContext) DDATrackingEstimator() Estimator { return ddaTrackingEstimator{fc} }

func logOneMinus(r *rng.Rng) float32 {
	return float32(math.Log(float64(1 - r.Float())))
}

func reciprocal(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{1 / v.X(), 1 / v.Y(), 1 / v.Z()}
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
