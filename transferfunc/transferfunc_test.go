package transferfunc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveWidth(t *testing.T) {
	_, err := New([]RGBA{{1, 1, 1, 1}}, 0, 0)
	require.Error(t, err)
}

func TestLookupClampsAtEdges(t *testing.T) {
	tf, err := New([]RGBA{{0, 0, 0, 0}, {1, 1, 1, 1}}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, RGBA{0, 0, 0, 0}, tf.Lookup(-5))
	assert.Equal(t, RGBA{1, 1, 1, 1}, tf.Lookup(5))
}

func TestLookupInterpolatesLinearly(t *testing.T) {
	tf, err := New([]RGBA{{0, 0, 0, 0}, {1, 0, 0, 1}}, 0, 1)
	require.NoError(t, err)
	got := tf.Lookup(0.5)
	assert.InDelta(t, 0.5, got.R, 1e-3)
	assert.InDelta(t, 0.5, got.A, 1e-3)
}

func TestLookupRespectsWindowOffset(t *testing.T) {
	tf, err := New([]RGBA{{0, 0, 0, 0}, {1, 1, 1, 1}}, 10, 2)
	require.NoError(t, err)
	got := tf.Lookup(11)
	assert.InDelta(t, 0.5, got.R, 1e-3)
}
