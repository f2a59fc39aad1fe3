package source

import (
	"math"
	"math/rand"

	"github.com/omdevteam/om-sub004/internal/detector"
)

// SimulatorConfig shapes a synthetic dark run. Pedestal is the per-gain
// baseline in ADU; Noise scales gaussian spread around it. GainFractions
// gives the probability of each gain mode per pixel; nil means everything
// stays in mode 0.
type SimulatorConfig struct {
	Frames        int
	Pedestal      []float64
	Noise         float64
	GainFractions []float64
	Seed          int64
}

// Simulate produces an in-memory dark run for a detector model: packed
// values with the model's gain selector bits set according to the
// configured fractions. Useful for pipeline tests and for writing darklog
// fixtures via LogWriter.
func Simulate(model *detector.Model, cfg SimulatorConfig) *MemorySource {
	rng := rand.New(rand.NewSource(cfg.Seed))
	modes := model.Layout.Modes
	pedestal := cfg.Pedestal
	if len(pedestal) < modes {
		pedestal = make([]float64, modes)
		copy(pedestal, cfg.Pedestal)
		for i := len(cfg.Pedestal); i < modes; i++ {
			pedestal[i] = 100 * float64(i+1)
		}
	}

	size := model.Panels * model.PanelRows * model.PanelCols
	frames := make([]detector.RawFrame, cfg.Frames)
	meta := make([]FrameMetadata, cfg.Frames)
	for n := 0; n < cfg.Frames; n++ {
		data := make([]uint16, size)
		for i := range data {
			mode := pickMode(rng, cfg.GainFractions, modes)
			value := pedestal[mode] + rng.NormFloat64()*cfg.Noise
			if value < 0 {
				value = 0
			}
			adu := uint16(math.Round(value)) & model.Layout.DataMask
			data[i] = packPixel(model.Layout, adu, mode)
		}
		frames[n] = detector.RawFrame{
			Panels: model.Panels,
			Rows:   model.PanelRows,
			Cols:   model.PanelCols,
			Data:   data,
		}
		meta[n] = FrameMetadata{Timestamp: float64(n) * 0.01}
	}
	return NewMemorySource(frames, meta)
}

func pickMode(rng *rand.Rand, fractions []float64, modes int) int {
	if modes <= 1 || len(fractions) == 0 {
		return 0
	}
	r := rng.Float64()
	acc := 0.0
	for mode, frac := range fractions {
		if mode >= modes {
			break
		}
		acc += frac
		if r < acc {
			return mode
		}
	}
	return 0
}

func packPixel(layout detector.BitLayout, adu uint16, mode int) uint16 {
	v := adu & layout.DataMask
	if layout.Modes <= 1 {
		return v
	}
	switch mode {
	case 1:
		v |= 1 << layout.GainBitLow
	case 2:
		v |= 1 << layout.GainBitHigh
	}
	return v
}
