package dark

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omdevteam/om-sub004/internal/detector"
	"github.com/omdevteam/om-sub004/internal/gain"
)

func decodedFrame(rows, cols int, adu []uint16, gains []uint8) gain.DecodedSlab {
	return gain.DecodedSlab{Rows: rows, Cols: cols, ADU: adu, Gain: gains}
}

func randomFrames(t *testing.T, rng *rand.Rand, n, rows, cols, modes int) []gain.DecodedSlab {
	t.Helper()
	frames := make([]gain.DecodedSlab, n)
	for i := range frames {
		adu := make([]uint16, rows*cols)
		gains := make([]uint8, rows*cols)
		for p := range adu {
			adu[p] = uint16(rng.Intn(1 << 14))
			gains[p] = uint8(rng.Intn(modes))
		}
		frames[i] = decodedFrame(rows, cols, adu, gains)
	}
	return frames
}

func TestObserveCommutative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	frames := randomFrames(t, rng, 20, 3, 4, 3)

	forward, err := NewAccumulator(3, 4, 3, nil)
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, forward.Observe(f))
	}

	perm := rng.Perm(len(frames))
	shuffled, err := NewAccumulator(3, 4, 3, nil)
	require.NoError(t, err)
	for _, i := range perm {
		require.NoError(t, shuffled.Observe(frames[i]))
	}

	assert.Equal(t, forward.sum, shuffled.sum)
	assert.Equal(t, forward.count, shuffled.count)

	calA, err := forward.Finalize()
	require.NoError(t, err)
	calB, err := shuffled.Finalize()
	require.NoError(t, err)
	for g := range calA.Planes {
		assert.InDeltaSlice(t, calA.Planes[g], calB.Planes[g], 1e-12)
	}
}

func TestMergeAssociative(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	frames := randomFrames(t, rng, 30, 2, 5, 3)

	single, err := NewAccumulator(2, 5, 3, nil)
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, single.Observe(f))
	}

	// Split at an arbitrary point, accumulate independently, merge.
	split := 11
	left, err := NewAccumulator(2, 5, 3, nil)
	require.NoError(t, err)
	for _, f := range frames[:split] {
		require.NoError(t, left.Observe(f))
	}
	right, err := NewAccumulator(2, 5, 3, nil)
	require.NoError(t, err)
	for _, f := range frames[split:] {
		require.NoError(t, right.Observe(f))
	}
	require.NoError(t, left.Merge(right))

	assert.Equal(t, single.sum, left.sum)
	assert.Equal(t, single.count, left.count)
	assert.Equal(t, single.Frames(), left.Frames())

	// Merge order does not matter either.
	leftFirst, err := NewAccumulator(2, 5, 3, nil)
	require.NoError(t, err)
	for _, f := range frames[split:] {
		require.NoError(t, leftFirst.Observe(f))
	}
	other, err := NewAccumulator(2, 5, 3, nil)
	require.NoError(t, err)
	for _, f := range frames[:split] {
		require.NoError(t, other.Observe(f))
	}
	require.NoError(t, leftFirst.Merge(other))
	assert.Equal(t, single.sum, leftFirst.sum)
	assert.Equal(t, single.count, leftFirst.count)
}

func TestFinalizeZeroCoverageFallback(t *testing.T) {
	acc, err := NewAccumulator(1, 2, 3, []float64{0, 0, 42.5})
	require.NoError(t, err)

	// Pixel 0 sees gain 0 and 1; pixel 1 sees only gain 0. Gain 2 is
	// never triggered anywhere.
	require.NoError(t, acc.Observe(decodedFrame(1, 2, []uint16{10, 20}, []uint8{0, 0})))
	require.NoError(t, acc.Observe(decodedFrame(1, 2, []uint16{30, 40}, []uint8{1, 0})))

	cal, err := acc.Finalize()
	require.NoError(t, err)

	assert.Equal(t, 10.0, cal.Planes[0][0])
	assert.Equal(t, 30.0, cal.Planes[0][1])
	assert.Equal(t, 30.0, cal.Planes[1][0])
	// Uncovered cells take the configured per-gain fallback.
	assert.Equal(t, 0.0, cal.Planes[1][1])
	assert.Equal(t, 42.5, cal.Planes[2][0])
	assert.Equal(t, 42.5, cal.Planes[2][1])

	assert.Contains(t, cal.ZeroCoverage, Coord{Gain: 2, Row: 0, Col: 0})
	assert.Contains(t, cal.ZeroCoverage, Coord{Gain: 2, Row: 0, Col: 1})
	assert.Contains(t, cal.ZeroCoverage, Coord{Gain: 1, Row: 0, Col: 1})
	assert.Len(t, cal.ZeroCoverage, 3)
}

func TestFinalizeIdempotentAndReadOnly(t *testing.T) {
	acc, err := NewAccumulator(1, 1, 1, nil)
	require.NoError(t, err)
	require.NoError(t, acc.Observe(decodedFrame(1, 1, []uint16{10}, []uint8{0})))

	first, err := acc.Finalize()
	require.NoError(t, err)
	second, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, first.Planes, second.Planes)

	// A legitimate observe+finalize cycle still works after finalizing.
	require.NoError(t, acc.Observe(decodedFrame(1, 1, []uint16{20}, []uint8{0})))
	third, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 15.0, third.Planes[0][0])
}

func TestObserveShapeMismatch(t *testing.T) {
	acc, err := NewAccumulator(2, 2, 1, nil)
	require.NoError(t, err)
	err = acc.Observe(decodedFrame(2, 3, make([]uint16, 6), make([]uint8, 6)))
	var shapeErr *detector.ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Zero(t, acc.Frames())
}

func TestObserveSkipsInvalidPixels(t *testing.T) {
	acc, err := NewAccumulator(1, 2, 3, nil)
	require.NoError(t, err)
	require.NoError(t, acc.Observe(decodedFrame(1, 2, []uint16{10, 20}, []uint8{0, gain.Invalid})))

	assert.Equal(t, uint32(1), acc.count[0][0])
	assert.Equal(t, uint32(0), acc.count[0][1])
	assert.Equal(t, uint32(0), acc.count[1][1])
	assert.Equal(t, uint32(0), acc.count[2][1])
}

func TestCoverage(t *testing.T) {
	acc, err := NewAccumulator(1, 4, 2, nil)
	require.NoError(t, err)
	require.NoError(t, acc.Observe(decodedFrame(1, 4, []uint16{1, 2, 3, 4}, []uint8{0, 0, 1, 1})))

	cov := acc.Coverage()
	assert.Equal(t, 0.5, cov[0])
	assert.Equal(t, 0.5, cov[1])
}

func TestNewAccumulatorFallbackLength(t *testing.T) {
	_, err := NewAccumulator(1, 1, 3, []float64{1})
	require.Error(t, err)
}
