// Package transferfunc implements the 1D density-to-RGBA transfer
// function lookup used to turn a scalar density sample into a scattering
// albedo tint (RGB) and an extinction-scale opacity (A).
package transferfunc

import (
	"fmt"

	"github.com/google/uuid"
)

// Handle identifies a TransferFunction held in the driver's resource
// arena, alongside volume.Handle and environment.Handle.
type Handle = uuid.UUID

// RGBA is a linear color with an extinction-scale opacity channel.
type RGBA struct {
	R, G, B, A float32
}

// TransferFunction is a 1D lookup table sampled linearly over
// [WindowLeft, WindowLeft+WindowWidth]; density values outside the
// window clamp to the nearest edge entry.
type TransferFunction struct {
	Handle Handle

	WindowLeft  float32
	WindowWidth float32
	table       []RGBA
}

// New builds a TransferFunction from an explicit RGBA table and window.
// It returns an error wrapping ErrInvalidWindow if width is not positive
// or the table is empty.
func New(table []RGBA, windowLeft, windowWidth float32) (*TransferFunction, error) {
	if windowWidth <= 0 {
		return nil, fmt.Errorf("transferfunc: window_width must be > 0, got %v: %w", windowWidth, ErrInvalidWindow)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("transferfunc: table must not be empty: %w", ErrInvalidWindow)
	}
	cp := make([]RGBA, len(table))
	copy(cp, table)
	return &TransferFunction{Handle: uuid.New(), WindowLeft: windowLeft, WindowWidth: windowWidth, table: cp}, nil
}

// ErrInvalidWindow is returned by New when the window configuration is
// malformed.
var ErrInvalidWindow = fmt.Errorf("transferfunc: invalid window")

// Lookup linearly samples the table at the given density, clamping
// out-of-window densities to the nearest edge.
func (tf *TransferFunction) Lookup(density float32) RGBA {
	u := (density - tf.WindowLeft) / tf.WindowWidth
	if u <= 0 {
		return tf.table[0]
	}
	if u >= 1 {
		return tf.table[len(tf.table)-1]
	}
	n := len(tf.table)
	pos := u * float32(n-1)
	i0 := int(pos)
	if i0 >= n-1 {
		return tf.table[n-1]
	}
	frac := pos - float32(i0)
	a, b := tf.table[i0], tf.table[i0+1]
	return RGBA{
		R: a.R + frac*(b.R-a.R),
		G: a.G + frac*(b.G-a.G),
		B: a.B + frac*(b.B-a.B),
		A: a.A + frac*(b.A-a.A),
	}
}
