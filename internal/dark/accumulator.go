// Package dark computes per-pixel, per-gain-mode dark calibration constants
// from sequences of decoded detector frames.
package dark

import (
	"fmt"

	"github.com/omdevteam/om-sub004/internal/detector"
	"github.com/omdevteam/om-sub004/internal/gain"
)

// Coord names one zero-coverage cell of the accumulator.
type Coord struct {
	Gain int
	Row  int
	Col  int
}

// Calibration is the finalized dark-offset artifact: one float64 plane per
// gain mode in slab shape, plus the coordinates that never saw a frame in
// their gain mode and received the configured fallback instead. Immutable
// after creation.
type Calibration struct {
	Rows         int
	Cols         int
	Modes        int
	Planes       [][]float64
	ZeroCoverage []Coord
}

// Accumulator holds running sum and count planes per gain mode for one
// detector panel assembly. Sums use int64: a 14-bit ADU ceiling times
// hundreds of thousands of frames stays far inside the range. It is not
// safe for concurrent Observe calls; workers own private accumulators and
// merge afterwards.
type Accumulator struct {
	rows     int
	cols     int
	modes    int
	fallback []float64
	sum      [][]int64
	count    [][]uint32
	frames   uint64
}

// NewAccumulator allocates an accumulator for the given slab shape and gain
// mode count. fallback supplies the per-gain constant used for cells with
// zero coverage; nil means all zeros. A fallback slice of the wrong length
// is a configuration error.
func NewAccumulator(rows, cols, modes int, fallback []float64) (*Accumulator, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("invalid slab shape %dx%d", rows, cols)
	}
	if modes < 1 {
		return nil, fmt.Errorf("invalid gain mode count %d", modes)
	}
	if fallback == nil {
		fallback = make([]float64, modes)
	}
	if len(fallback) != modes {
		return nil, fmt.Errorf("%d fallback constants for %d gain modes", len(fallback), modes)
	}
	a := &Accumulator{
		rows:     rows,
		cols:     cols,
		modes:    modes,
		fallback: append([]float64(nil), fallback...),
		sum:      make([][]int64, modes),
		count:    make([][]uint32, modes),
	}
	for g := 0; g < modes; g++ {
		a.sum[g] = make([]int64, rows*cols)
		a.count[g] = make([]uint32, rows*cols)
	}
	return a, nil
}

// Observe folds one decoded frame into the running statistics. Pixels
// carrying the invalid sentinel are skipped. Observation is commutative;
// frame order never affects the result. A frame of the wrong shape is a
// caller error and leaves the accumulator untouched.
func (a *Accumulator) Observe(d gain.DecodedSlab) error {
	if d.Rows != a.rows || d.Cols != a.cols {
		return &detector.ShapeError{
			Want: fmt.Sprintf("%dx%d", a.rows, a.cols),
			Got:  fmt.Sprintf("%dx%d", d.Rows, d.Cols),
		}
	}
	if len(d.ADU) != a.rows*a.cols || len(d.Gain) != len(d.ADU) {
		return &detector.ShapeError{
			Want: fmt.Sprintf("%d values", a.rows*a.cols),
			Got:  fmt.Sprintf("%d adu / %d gain values", len(d.ADU), len(d.Gain)),
		}
	}
	for i, g := range d.Gain {
		if g == gain.Invalid {
			continue
		}
		if int(g) >= a.modes {
			return fmt.Errorf("gain index %d exceeds configured %d modes", g, a.modes)
		}
		a.sum[g][i] += int64(d.ADU[i])
		a.count[g][i]++
	}
	a.frames++
	return nil
}

// Merge folds another accumulator of identical shape into this one by
// element-wise addition. Merging is commutative and associative, so partial
// accumulators from any number of workers combine to the same result in any
// completion order. The other accumulator is left unchanged.
func (a *Accumulator) Merge(other *Accumulator) error {
	if other.rows != a.rows || other.cols != a.cols || other.modes != a.modes {
		return &detector.ShapeError{
			Want: fmt.Sprintf("%dx%dx%d", a.modes, a.rows, a.cols),
			Got:  fmt.Sprintf("%dx%dx%d", other.modes, other.rows, other.cols),
		}
	}
	for g := 0; g < a.modes; g++ {
		sum := a.sum[g]
		count := a.count[g]
		for i, v := range other.sum[g] {
			sum[i] += v
		}
		for i, v := range other.count[g] {
			count[i] += v
		}
	}
	a.frames += other.frames
	return nil
}

// Frames reports how many frames have been observed, merges included.
func (a *Accumulator) Frames() uint64 { return a.frames }

// Coverage reports, per gain mode, the fraction of cells observed at least
// once. Used for run progress diagnostics.
func (a *Accumulator) Coverage() []float64 {
	out := make([]float64, a.modes)
	total := float64(a.rows * a.cols)
	for g := 0; g < a.modes; g++ {
		seen := 0
		for _, c := range a.count[g] {
			if c > 0 {
				seen++
			}
		}
		out[g] = float64(seen) / total
	}
	return out
}

// Finalize computes the dark calibration: the arithmetic mean where a cell
// has coverage, the configured fallback where it has none. Zero coverage is
// a reported condition, not an error; it is expected at detector edges and
// for rarely triggered gain modes. Finalize only reads accumulator state:
// calling it repeatedly, or continuing to Observe and finalizing again, is
// legitimate.
func (a *Accumulator) Finalize() (*Calibration, error) {
	cal := &Calibration{
		Rows:   a.rows,
		Cols:   a.cols,
		Modes:  a.modes,
		Planes: make([][]float64, a.modes),
	}
	for g := 0; g < a.modes; g++ {
		plane := make([]float64, a.rows*a.cols)
		for i, c := range a.count[g] {
			if c == 0 {
				plane[i] = a.fallback[g]
				cal.ZeroCoverage = append(cal.ZeroCoverage, Coord{
					Gain: g,
					Row:  i / a.cols,
					Col:  i % a.cols,
				})
				continue
			}
			plane[i] = float64(a.sum[g][i]) / float64(c)
		}
		cal.Planes[g] = plane
	}
	return cal, nil
}
