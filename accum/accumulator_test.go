package accum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidSize(t *testing.T) {
	_, err := New(0, 4)
	require.Error(t, err)
	_, err = New(4, -1)
	require.Error(t, err)
}

func TestAccumulateIsAMean(t *testing.T) {
	fb, err := New(2, 2)
	require.NoError(t, err)

	// feeding the same value N times must leave the pixel at that value
	const n = 100
	for i := 0; i < n; i++ {
		fb.Accumulate(1, 0.25, 0.5, 0.75)
	}
	r, g, b, a := fb.At(1, 0)
	assert.InDelta(t, 0.25, r, 1e-5)
	assert.InDelta(t, 0.5, g, 1e-5)
	assert.InDelta(t, 0.75, b, 1e-5)
	assert.Equal(t, float32(n), a)
}

func TestAccumulateAveragesDistinctValues(t *testing.T) {
	fb, err := New(1, 1)
	require.NoError(t, err)
	fb.Accumulate(0, 0, 0, 0)
	fb.Accumulate(0, 1, 1, 1)
	r, g, b, _ := fb.At(0, 0)
	assert.InDelta(t, 0.5, r, 1e-6)
	assert.InDelta(t, 0.5, g, 1e-6)
	assert.InDelta(t, 0.5, b, 1e-6)
}

func TestClearResetsSamples(t *testing.T) {
	fb, err := New(2, 1)
	require.NoError(t, err)
	fb.Accumulate(0, 1, 1, 1)
	fb.AdvanceSample()
	fb.Clear()
	r, _, _, a := fb.At(0, 0)
	assert.Equal(t, float32(0), r)
	assert.Equal(t, float32(0), a)
	assert.Equal(t, uint32(0), fb.SampleIndex())
}

func TestResizeReallocates(t *testing.T) {
	fb, err := New(2, 2)
	require.NoError(t, err)
	fb.Accumulate(0, 1, 1, 1)
	require.NoError(t, fb.Resize(3, 5))
	assert.Equal(t, 3, fb.Width())
	assert.Equal(t, 5, fb.Height())
	r, _, _, a := fb.At(0, 0)
	assert.Equal(t, float32(0), r)
	assert.Equal(t, float32(0), a)
	require.Error(t, fb.Resize(0, 5))
}
