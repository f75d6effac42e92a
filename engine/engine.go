// Package engine is the driver tying the sampling core together: it owns
// the framebuffer and the arena of committed volume/environment/transfer
// function resources, dispatches one work item per pixel per progressive
// sample across a worker pool, and exposes the renderer's external
// control surface.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/nullcollision/volren/accum"
	"github.com/nullcollision/volren/camera"
	"github.com/nullcollision/volren/environment"
	"github.com/nullcollision/volren/integrator"
	"github.com/nullcollision/volren/internal/rng"
	"github.com/nullcollision/volren/transferfunc"
	"github.com/nullcollision/volren/transport"
	"github.com/nullcollision/volren/volume"
)

// EstimatorKind selects the transmittance/free-flight estimator family
// the integrator dispatches through, fixed at commit time.
type EstimatorKind int

const (
	// RatioTracking uses the constant global-majorant estimators.
	RatioTracking EstimatorKind = iota
	// DDATracking uses the brick-majorant-accelerated DDA estimators.
	DDATracking
)

// commitState is one committed generation of resources: the frame
// context resolved against the arena, the estimator bound to it, and
// the arena handles this generation owns.
type commitState struct {
	fc            *transport.FrameContext
	est           transport.Estimator
	densityHandle volume.Handle
	envHandle     environment.Handle // zero when no environment is committed
	handles       []uuid.UUID
}

// Engine implements the renderer's external interface: resource setup,
// commit, progressive tracing, and framebuffer readback.
type Engine struct {
	log *slog.Logger

	width, height int
	fb            *accum.Framebuffer
	cam           *camera.Camera

	// staged inputs; they take effect at the next Commit
	vol *volume.Volume
	env *environment.Environment
	tf  *transferfunc.TransferFunction

	// Exposed parameters. Use the setters to change them after Init so
	// validation runs and stale accumulation is discarded.
	Sppx            int
	Bounces         int
	Seed            uint32
	ShowEnvironment bool
	VolClipMin      mgl32.Vec3
	VolClipMax      mgl32.Vec3
	DensityScale    float32
	Albedo          mgl32.Vec3
	PhaseG          float32
	EmissionScale   float32
	Estimator       EstimatorKind

	arena     *textureArena
	committed *commitState

	cancelled atomic.Bool
}

// New returns an Engine with the renderer's default parameters. A nil
// logger discards all log output.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		log:             logger,
		cam:             camera.New(),
		arena:           newTextureArena(),
		Sppx:            32,
		Bounces:         100,
		ShowEnvironment: true,
		VolClipMin:      mgl32.Vec3{0, 0, 0},
		VolClipMax:      mgl32.Vec3{1, 1, 1},
		DensityScale:    1,
		Albedo:          mgl32.Vec3{1, 1, 1},
		EmissionScale:   1,
	}
}

// Logger returns the engine's logger; it never returns nil.
func (e *Engine) Logger() *slog.Logger {
	if e == nil || e.log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.log
}

// Init allocates the framebuffer for the given resolution.
func (e *Engine) Init(w, h int) error {
	if w <= 0 || h <= 0 {
		return &InvalidInputError{Field: "resolution", Reason: fmt.Sprintf("must be positive, got %dx%d", w, h)}
	}
	fb, err := accum.New(w, h)
	if err != nil {
		return &ResourceExhaustedError{Op: "init", Err: err}
	}
	e.width, e.height = w, h
	e.fb = fb
	return nil
}

// SetVolume stages a volume, normalizes it into a unit cube, and
// compensates DensityScale by the normalization factor so majorants keep
// their meaning regardless of the input grid's size. The volume's brick
// grids are built at the next Commit.
func (e *Engine) SetVolume(v *volume.Volume) error {
	if v == nil {
		return &InvalidInputError{Field: "volume", Reason: "must not be nil"}
	}
	if _, err := v.DensityGrid(); err != nil {
		return &InvalidInputError{Field: "volume", Reason: err.Error()}
	}
	size := v.NormalizeToUnitCube()
	e.vol = v
	e.DensityScale *= size
	e.invalidate()
	return nil
}

// SetEnvironment stages an environment map; nil unsets it (paths then
// terminate into darkness). Takes effect at the next Commit.
func (e *Engine) SetEnvironment(env *environment.Environment) error {
	if env != nil && (env.Width <= 0 || env.Height <= 0) {
		return &InvalidInputError{Field: "environment", Reason: "non-positive dimensions"}
	}
	e.env = env
	e.invalidate()
	return nil
}

// SetTransferFunction stages a transfer function; nil unsets it and the
// raw normalized density is used as extinction-scale opacity. Takes
// effect at the next Commit.
func (e *Engine) SetTransferFunction(tf *transferfunc.TransferFunction) error {
	if tf != nil && tf.WindowWidth <= 0 {
		return &InvalidInputError{Field: "transfer_function", Reason: "window_width must be > 0"}
	}
	e.tf = tf
	e.invalidate()
	return nil
}

// SetCamera positions the pinhole camera. rot's columns are the
// right/up/forward axes; fovDeg must lie in (0, 180).
func (e *Engine) SetCamera(pos mgl32.Vec3, rot mgl32.Mat3, fovDeg float32) error {
	if !(fovDeg > 0 && fovDeg < 180) {
		return &InvalidInputError{Field: "fov", Reason: fmt.Sprintf("must be in (0,180), got %v", fovDeg)}
	}
	if hasNaN3(pos) || hasNaNMat3(rot) {
		return &InvalidInputError{Field: "camera", Reason: "NaN in position or rotation"}
	}
	e.cam = &camera.Camera{Position: pos, Transform: rot, FovDegree: fovDeg}
	e.invalidate()
	return nil
}

// SetSppx sets the progressive sample target Render traces toward.
func (e *Engine) SetSppx(sppx int) error {
	if sppx <= 0 {
		return &InvalidInputError{Field: "sppx", Reason: "must be positive"}
	}
	e.Sppx = sppx
	return nil
}

// SetBounces caps the scattering depth per path.
func (e *Engine) SetBounces(bounces int) error {
	if bounces <= 0 {
		return &InvalidInputError{Field: "bounces", Reason: "must be positive"}
	}
	e.Bounces = bounces
	e.invalidate()
	return nil
}

// SetSeed offsets the per-pixel seed derivation, decorrelating runs.
func (e *Engine) SetSeed(seed uint32) {
	e.Seed = seed
	e.invalidate()
}

// SetShowEnvironment toggles whether camera rays that miss the volume
// see the environment directly.
func (e *Engine) SetShowEnvironment(show bool) {
	e.ShowEnvironment = show
	e.invalidate()
}

// SetVolumeClip sets the fractional unit-cube clip of the volume AABB,
// applied at the next Commit.
func (e *Engine) SetVolumeClip(clipMin, clipMax mgl32.Vec3) error {
	for i := 0; i < 3; i++ {
		if clipMin[i] < 0 || clipMax[i] > 1 || clipMin[i] > clipMax[i] {
			return &InvalidInputError{Field: "vol_clip", Reason: fmt.Sprintf("need 0 <= min <= max <= 1 per axis, got %v..%v", clipMin, clipMax)}
		}
	}
	e.VolClipMin, e.VolClipMax = clipMin, clipMax
	e.invalidate()
	return nil
}

// SetDensityScale scales the decoded density field from the next Commit.
func (e *Engine) SetDensityScale(s float32) error {
	if !(s > 0) || math.IsNaN(float64(s)) {
		return &InvalidInputError{Field: "density_scale", Reason: "must be positive"}
	}
	e.DensityScale = s
	e.invalidate()
	return nil
}

// SetAlbedo sets the scattering albedo applied at real collisions from
// the next Commit.
func (e *Engine) SetAlbedo(a mgl32.Vec3) error {
	if hasNaN3(a) {
		return &InvalidInputError{Field: "albedo", Reason: "NaN component"}
	}
	e.Albedo = a
	e.invalidate()
	return nil
}

// SetPhaseG sets the Henyey-Greenstein asymmetry parameter.
func (e *Engine) SetPhaseG(g float32) error {
	if !(g > -1 && g < 1) {
		return &InvalidInputError{Field: "phase_g", Reason: fmt.Sprintf("must be in (-1,1), got %v", g)}
	}
	e.PhaseG = g
	e.invalidate()
	return nil
}

// SetEmissionScale scales the emission channel's contribution from the
// next Commit.
func (e *Engine) SetEmissionScale(s float32) error {
	if s < 0 || math.IsNaN(float64(s)) {
		return &InvalidInputError{Field: "emission_scale", Reason: "must be >= 0"}
	}
	e.EmissionScale = s
	e.invalidate()
	return nil
}

// SetEstimator selects the estimator family used from the next Commit.
func (e *Engine) SetEstimator(kind EstimatorKind) {
	e.Estimator = kind
	e.invalidate()
}

// Commit (re)builds the brick-grid resources for the current volume
// frame, registers the new generation in the arena, releases the prior
// one, and derives the frame context the samplers consume. Everything
// fallible runs before the arena is touched, so a failed commit leaves
// the prior committed generation fully intact.
func (e *Engine) Commit() error {
	if e.fb == nil {
		return &ProtocolMisuseError{Op: "commit", Reason: "init must be called first"}
	}
	if e.vol == nil {
		return &ProtocolMisuseError{Op: "commit", Reason: "no volume set"}
	}
	dg, err := e.vol.DensityGrid()
	if err != nil {
		return fmt.Errorf("commit: density channel: %w", err)
	}
	bg, err := volume.BuildBrickGrid(dg)
	if err != nil {
		return fmt.Errorf("commit: density channel: %w", err)
	}
	// compose the volume-level transform over the grid's own, so the
	// unit-cube normalization applies to traversal space
	xf := e.vol.Transform.Mul4(dg.Transform)
	bg.Transform = xf
	bg.Inverse = xf.Inv()

	fc, err := transport.NewFrameContext(bg, e.tf, e.DensityScale, e.Albedo)
	if err != nil {
		return fmt.Errorf("commit: density channel: %w", err)
	}

	eg, err := e.vol.EmissionGrid()
	if err != nil {
		return fmt.Errorf("commit: emission channel: %w", err)
	}
	var ebg *volume.BrickGrid
	if eg != nil {
		ebg, err = volume.BuildBrickGrid(eg)
		if err != nil {
			return fmt.Errorf("commit: emission channel: %w", err)
		}
		exf := e.vol.Transform.Mul4(eg.Transform)
		ebg.Transform = exf
		ebg.Inverse = exf.Inv()
		fc.SetEmission(ebg, e.EmissionScale)
	}

	// fractional unit-cube clip of the world AABB
	extent := fc.WorldMax.Sub(fc.WorldMin)
	wmin := fc.WorldMin
	fc.WorldMin = wmin.Add(mulElem3(extent, e.VolClipMin))
	fc.WorldMax = wmin.Add(mulElem3(extent, e.VolClipMax))

	next := &commitState{fc: fc}
	switch e.Estimator {
	case DDATracking:
		next.est = fc.DDATrackingEstimator()
	default:
		next.est = fc.RatioTrackingEstimator()
	}

	// nothing below can fail: release the old generation first, since
	// re-committed resources (an unchanged environment, say) keep their
	// handle across generations
	if e.committed != nil {
		e.arena.release(e.committed.handles)
	}
	next.densityHandle = e.arena.putGrid(bg)
	next.handles = append(next.handles, next.densityHandle)
	if ebg != nil {
		next.handles = append(next.handles, e.arena.putGrid(ebg))
	}
	if e.env != nil {
		next.envHandle = e.arena.putEnv(e.env)
		next.handles = append(next.handles, next.envHandle)
	}
	if e.tf != nil {
		next.handles = append(next.handles, e.arena.putTF(e.tf))
	}
	e.committed = next
	e.fb.Clear()
	e.log.Debug("committed volume resources",
		"majorant", fc.Majorant,
		"extent", bg.IndexExtent,
		"rangeMips", bg.NumMips(),
		"resources", len(next.handles),
		"arena", e.arena.size())
	return nil
}

// Trace runs one progressive pass: one work item per pixel at the
// current sample index, folded into the accumulator. The environment is
// resolved through the arena by its committed handle, so a staged but
// uncommitted SetEnvironment never affects an in-flight image.
func (e *Engine) Trace() error {
	if e.committed == nil {
		return &ProtocolMisuseError{Op: "trace", Reason: "commit must be called first"}
	}
	env := e.arena.env(e.committed.envHandle)
	e.dispatchSample(e.fb.SampleIndex(), env)
	e.fb.AdvanceSample()
	return nil
}

// Render traces progressive passes until Sppx samples have accumulated,
// checking the cancellation flag between passes (a pass in flight runs
// to completion).
func (e *Engine) Render() error {
	e.cancelled.Store(false)
	for e.fb.SampleIndex() < uint32(e.Sppx) {
		if e.cancelled.Load() {
			e.log.Debug("render cancelled", "sample", e.fb.SampleIndex())
			return nil
		}
		if err := e.Trace(); err != nil {
			return err
		}
	}
	return nil
}

// Cancel requests Render stop at the next sample-index boundary. Safe
// to call from another goroutine.
func (e *Engine) Cancel() { e.cancelled.Store(true) }

// CommittedGrid resolves the committed generation's density brick grid
// through the arena; nil when nothing is committed.
func (e *Engine) CommittedGrid() *volume.BrickGrid {
	if e.committed == nil {
		return nil
	}
	return e.arena.grid(e.committed.densityHandle)
}

// Framebuffer returns the progressive accumulator. Callers treat it as
// read-only; the engine owns it.
func (e *Engine) Framebuffer() *accum.Framebuffer { return e.fb }

// Reset discards all accumulated samples.
func (e *Engine) Reset() {
	if e.fb != nil {
		e.fb.Clear()
	}
}

// Resize reallocates the framebuffer and discards accumulation.
func (e *Engine) Resize(w, h int) error {
	if e.fb == nil {
		return e.Init(w, h)
	}
	if err := e.fb.Resize(w, h); err != nil {
		return &InvalidInputError{Field: "resolution", Reason: err.Error()}
	}
	e.width, e.height = w, h
	return nil
}

// Close releases every committed resource from the arena. Tracing
// requires a fresh Commit afterwards; staged inputs survive.
func (e *Engine) Close() {
	if e.committed != nil {
		e.arena.release(e.committed.handles)
		e.committed = nil
	}
}

// dispatchSample fans one progressive pass out over a worker pool. The
// workers claim pixel indices from a shared atomic cursor; every pixel
// is written by exactly one worker, so no fold races another.
func (e *Engine) dispatchSample(sample uint32, env *environment.Environment) {
	total := int64(e.width * e.height)
	workers := runtime.GOMAXPROCS(0)
	if int64(workers) > total {
		workers = int(total)
	}
	var cursor atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				px := cursor.Add(1) - 1
				if px >= total {
					return
				}
				e.tracePixel(int(px), sample, env)
			}
		}()
	}
	wg.Wait()
}

// tracePixel runs one work item: seed the per-item RNG, draw the
// sub-pixel jitter, build the primary ray, integrate, and fold the
// estimate in. Draw order is fixed (jitter first) so a given
// (pixel, sample, seed) triple always reproduces the same path.
func (e *Engine) tracePixel(pixel int, sample uint32, env *environment.Environment) {
	r := rng.New(uint32(pixel), sample+e.Seed)
	j := r.Float2()
	x, y := pixel%e.width, pixel/e.width
	ray := e.cam.PrimaryRay(x, y, e.width, e.height, j[0], j[1])
	c := integrator.Trace(ray, e.committed.est, env, integrator.Params{
		Bounces:         e.Bounces,
		ShowEnvironment: e.ShowEnvironment,
		PhaseG:          e.PhaseG,
	}, r)
	e.fb.Accumulate(pixel, finite(c.X()), finite(c.Y()), finite(c.Z()))
}

// invalidate discards accumulated samples after a parameter change, so
// estimates under the old parameters never blend with new ones.
func (e *Engine) invalidate() {
	if e.fb != nil {
		e.fb.Clear()
	}
}

// finite clamps non-finite estimates to 0 so the framebuffer never
// holds a NaN or infinity.
func finite(v float32) float32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return v
}

func mulElem3(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a.X() * b.X(), a.Y() * b.Y(), a.Z() * b.Z()}
}

func hasNaN3(v mgl32.Vec3) bool {
	return math.IsNaN(float64(v.X())) || math.IsNaN(float64(v.Y())) || math.IsNaN(float64(v.Z()))
}

func hasNaNMat3(m mgl32.Mat3) bool {
	for i := 0; i < 9; i++ {
		if math.IsNaN(float64(m[i])) {
			return true
		}
	}
	return false
}
