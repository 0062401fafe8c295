package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSliceLayoutRoundTrip reproduces spec.md §8's invariant: for all slice
// layouts SL and offsets X, ReconstructOffset(SL, WhichSlice(SL, X)) == X.
func TestSliceLayoutRoundTrip(t *testing.T) {
	layouts := []SliceLayout{
		{}, // unsliced
		{FirstSliceSize: 1000, OtherSliceSize: 1000},
		{FirstSliceSize: 1000, OtherSliceSize: 500, FirstSliceHeaderSize: 20, OtherSliceHeaderSize: 10},
		{FirstSliceSize: 64, OtherSliceSize: 64, FirstSliceHeaderSize: 1, OtherSliceHeaderSize: 1},
	}

	for _, sl := range layouts {
		capFirst := sl.capacityOf(1)
		capOther := sl.capacityOf(2)
		maxOffset := capFirst + capOther*5
		for x := int64(0); x < maxOffset; x += 7 {
			n, off, err := sl.WhichSlice(x)
			require.NoError(t, err)
			got, err := sl.ReconstructOffset(n, off)
			require.NoError(t, err)
			assert.Equal(t, x, got, "layout %+v offset %d", sl, x)
		}
	}
}

func TestSliceLayoutUnslicedIsAlwaysSliceOne(t *testing.T) {
	sl := SliceLayout{}
	assert.False(t, sl.Sliced())

	n, off, err := sl.WhichSlice(123456)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(123456), off)
}

func TestSliceLayoutRejectsNegativeOffset(t *testing.T) {
	sl := SliceLayout{FirstSliceSize: 100, OtherSliceSize: 100}
	_, _, err := sl.WhichSlice(-1)
	assert.Error(t, err)
}

func TestSliceLayoutFirstSliceBoundary(t *testing.T) {
	sl := SliceLayout{FirstSliceSize: 100, OtherSliceSize: 50, FirstSliceHeaderSize: 10, OtherSliceHeaderSize: 5}
	// first slice payload capacity is 90
	n, off, err := sl.WhichSlice(89)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(89), off)

	n, off, err = sl.WhichSlice(90)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(0), off)
}
