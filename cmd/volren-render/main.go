// Command volren-render renders a synthetic smoke ball into a PPM image,
// exercising the whole engine end to end: volume commit, progressive
// tracing, and framebuffer readback.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/nullcollision/volren/engine"
	"github.com/nullcollision/volren/environment"
	"github.com/nullcollision/volren/volume"
)

func main() {
	width := flag.Int("width", 256, "output width in pixels")
	height := flag.Int("height", 256, "output height in pixels")
	sppx := flag.Int("spp", 64, "samples per pixel")
	bounces := flag.Int("bounces", 32, "maximum scattering depth")
	densityScale := flag.Float64("density", 20, "density scale")
	albedo := flag.Float64("albedo", 0.9, "scattering albedo")
	phaseG := flag.Float64("g", 0.2, "Henyey-Greenstein asymmetry")
	dda := flag.Bool("dda", false, "use the DDA-majorant estimator")
	debug := flag.Bool("debug", false, "enable debug logging")
	out := flag.String("o", "out.ppm", "output PPM path")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if err := run(logger, *width, *height, *sppx, *bounces,
		float32(*densityScale), float32(*albedo), float32(*phaseG), *dda, *out); err != nil {
		logger.Error("render failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, w, h, sppx, bounces int, density, albedo, g float32, dda bool, out string) error {
	e := engine.New(logger)
	if err := e.Init(w, h); err != nil {
		return err
	}
	if err := e.SetVolume(smokeBall(64)); err != nil {
		return err
	}
	env, err := skyEnvironment(128, 64)
	if err != nil {
		return err
	}
	if err := e.SetEnvironment(env); err != nil {
		return err
	}
	if err := e.SetCamera(mgl32.Vec3{0, 0.1, 1.6}, mgl32.Ident3(), 45); err != nil {
		return err
	}
	if err := e.SetSppx(sppx); err != nil {
		return err
	}
	if err := e.SetBounces(bounces); err != nil {
		return err
	}
	if err := e.SetDensityScale(density); err != nil {
		return err
	}
	if err := e.SetAlbedo(mgl32.Vec3{albedo, albedo, albedo}); err != nil {
		return err
	}
	if err := e.SetPhaseG(g); err != nil {
		return err
	}
	if dda {
		e.SetEstimator(engine.DDATracking)
	}
	if err := e.Commit(); err != nil {
		return err
	}
	grid := e.CommittedGrid()
	logger.Info("rendering", "width", w, "height", h, "spp", sppx, "extent", grid.IndexExtent, "majorant", grid.Majorant)
	if err := e.Render(); err != nil {
		return err
	}
	return writePPM(e, out)
}

// smokeBall builds a soft radial-falloff density field: a smoke-like
// ball centered in a cube grid.
func smokeBall(n int) *volume.Volume {
	c := float32(n-1) / 2
	radius := float32(n) * 0.4
	decode := func(ix, iy, iz int) float32 {
		dx := float32(ix) - c
		dy := float32(iy) - c
		dz := float32(iz) - c
		r := float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
		if r >= radius {
			return 0
		}
		falloff := 1 - r/radius
		return falloff * falloff
	}
	g := &volume.Grid{
		Transform:   mgl32.Ident4(),
		IndexExtent: [3]int{n, n, n},
		Minorant:    0,
		Majorant:    1,
		Decode:      decode,
	}
	v := volume.New()
	v.Name = "smoke-ball"
	v.Grids = []volume.Frame{{"density": g}}
	return v
}

// skyEnvironment builds a simple gradient sky with a bright sun texel,
// giving the importance sampler something worth concentrating on.
func skyEnvironment(w, h int) (*environment.Environment, error) {
	pixels := make([]environment.RGB, w*h)
	for y := 0; y < h; y++ {
		up := 1 - float32(y)/float32(h-1)
		for x := 0; x < w; x++ {
			pixels[y*w+x] = environment.RGB{
				R: 0.3 + 0.3*up,
				G: 0.4 + 0.4*up,
				B: 0.6 + 0.4*up,
			}
		}
	}
	// sun
	sx, sy := w/4, h/4
	pixels[sy*w+sx] = environment.RGB{R: 200, G: 190, B: 160}
	return environment.New(pixels, w, h, 1, mgl32.Ident3())
}

// writePPM dumps the framebuffer as a binary PPM, clamping radiance to
// [0, 1]. Tone mapping is left to external tooling.
func writePPM(e *engine.Engine, path string) error {
	fb := e.Framebuffer()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	fmt.Fprintf(bw, "P6\n%d %d\n255\n", fb.Width(), fb.Height())
	for y := 0; y < fb.Height(); y++ {
		for x := 0; x < fb.Width(); x++ {
			r, g, b, _ := fb.At(x, y)
			bw.Write([]byte{quantize(r), quantize(g), quantize(b)})
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func quantize(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}
