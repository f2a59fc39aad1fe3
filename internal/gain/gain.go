// Package gain demultiplexes packed pixel values into ADU counts and gain
// mode indices. One bit-decoding primitive backs two policies: Classify
// assigns every pixel a gain mode (calibration generation), MarkInvalid
// treats gain-flagged pixels as undefined (online correction).
package gain

import (
	"fmt"

	"github.com/omdevteam/om-sub004/internal/detector"
)

// Invalid is the sentinel gain index for pixels excluded under the
// MarkInvalid policy. It never indexes an accumulator plane.
const Invalid uint8 = 0xFF

// Policy selects what the gain selector bits mean for a decoded pixel.
type Policy int

const (
	// Classify assigns each pixel the gain mode its selector bits name.
	Classify Policy = iota
	// MarkInvalid flags any pixel with a selector bit set as undefined.
	MarkInvalid
)

// DecodedSlab holds per-pixel ADU values and gain indices in slab layout.
// The two planes are parallel and share the slab shape.
type DecodedSlab struct {
	Rows int
	Cols int
	ADU  []uint16
	Gain []uint8
}

// Pixel is one decoded pixel, used at call sites that inspect single values.
type Pixel struct {
	ADU  uint16
	Gain uint8
}

// DecodePixel applies the bit layout to one packed value. The high gain bit
// wins when both selector bits are set: high set means mode 2 regardless of
// the low bit, then low set means mode 1, otherwise mode 0. Single-mode
// layouts skip the selector test entirely.
func DecodePixel(layout detector.BitLayout, raw uint16, policy Policy) Pixel {
	adu := raw & layout.DataMask
	if layout.Modes <= 1 {
		return Pixel{ADU: adu, Gain: 0}
	}

	var mode uint8
	switch {
	case raw&(1<<layout.GainBitHigh) != 0:
		mode = 2
	case raw&(1<<layout.GainBitLow) != 0:
		mode = 1
	default:
		mode = 0
	}
	if policy == MarkInvalid && mode != 0 {
		return Pixel{ADU: adu, Gain: Invalid}
	}
	return Pixel{ADU: adu, Gain: mode}
}

// DecodeSlab decodes every pixel of a packed slab. It is pure: decoding the
// same slab twice yields identical planes.
func DecodeSlab(layout detector.BitLayout, slab detector.Slab, policy Policy) (DecodedSlab, error) {
	if len(slab.Data) != slab.Rows*slab.Cols {
		return DecodedSlab{}, &detector.ShapeError{
			Want: fmt.Sprintf("%d values", slab.Rows*slab.Cols),
			Got:  fmt.Sprintf("%d values", len(slab.Data)),
		}
	}
	out := DecodedSlab{
		Rows: slab.Rows,
		Cols: slab.Cols,
		ADU:  make([]uint16, len(slab.Data)),
		Gain: make([]uint8, len(slab.Data)),
	}
	for i, raw := range slab.Data {
		px := DecodePixel(layout, raw, policy)
		out.ADU[i] = px.ADU
		out.Gain[i] = px.Gain
	}
	return out, nil
}
