package detector

import "fmt"

// BitLayout describes how a packed pixel value splits into data bits and
// gain-selector bits. Detectors with a single gain mode carry no selector
// bits and classify every pixel as mode 0.
type BitLayout struct {
	// DataMask selects the ADU bits of a packed value.
	DataMask uint16 `yaml:"dataMask"`
	// GainBitLow and GainBitHigh are the positions of the two gain
	// selector bits. The high bit wins when both are set.
	GainBitLow  uint `yaml:"gainBitLow"`
	GainBitHigh uint `yaml:"gainBitHigh"`
	// Modes is the number of gain modes the detector reports (1 or 3).
	Modes int `yaml:"modes"`
}

// HeaderField locates a per-frame scalar inside an embedded header block.
type HeaderField struct {
	Key   string `yaml:"key"`
	Index int    `yaml:"index"`
}

// PanelMapping places one native panel into the canonical slab. The
// destination rectangle starts at (Row, Col) and spans the panel's full
// extent; reversal flags mirror the panel along either axis before copy.
type PanelMapping struct {
	Panel    int  `yaml:"panel"`
	Row      int  `yaml:"row"`
	Col      int  `yaml:"col"`
	FlipRows bool `yaml:"flipRows"`
	FlipCols bool `yaml:"flipCols"`
}

// Model is the static description of one detector variant: native tensor
// shape, canonical slab shape, packed-value bit layout, panel geometry, and
// embedded header locations. Models are plain values; the pipeline is
// generic over them.
type Model struct {
	Name      string                 `yaml:"name"`
	Panels    int                    `yaml:"panels"`
	PanelRows int                    `yaml:"panelRows"`
	PanelCols int                    `yaml:"panelCols"`
	SlabRows  int                    `yaml:"slabRows"`
	SlabCols  int                    `yaml:"slabCols"`
	Layout    BitLayout              `yaml:"layout"`
	Geometry  []PanelMapping         `yaml:"geometry"`
	Header    map[string]HeaderField `yaml:"header"`
}

// Validate checks the model table before any run starts: panel rectangles
// must stay inside the slab, map each panel exactly once, and tile the slab
// with no overlap and no gap. Any violation is a ConfigError.
func (m *Model) Validate() error {
	if m.Panels < 1 || m.PanelRows < 1 || m.PanelCols < 1 {
		return configErrorf("model %q: invalid native shape %dx%dx%d", m.Name, m.Panels, m.PanelRows, m.PanelCols)
	}
	if m.SlabRows < 1 || m.SlabCols < 1 {
		return configErrorf("model %q: invalid slab shape %dx%d", m.Name, m.SlabRows, m.SlabCols)
	}
	if m.Layout.Modes != 1 && m.Layout.Modes != 3 {
		return configErrorf("model %q: unsupported gain mode count %d", m.Name, m.Layout.Modes)
	}
	if m.Layout.DataMask == 0 {
		return configErrorf("model %q: empty data mask", m.Name)
	}
	if m.Layout.Modes > 1 {
		if m.Layout.GainBitLow >= 16 || m.Layout.GainBitHigh >= 16 {
			return configErrorf("model %q: gain bit out of range", m.Name)
		}
		if m.Layout.GainBitLow == m.Layout.GainBitHigh {
			return configErrorf("model %q: gain bits coincide", m.Name)
		}
		for _, bit := range []uint{m.Layout.GainBitLow, m.Layout.GainBitHigh} {
			if m.Layout.DataMask&(1<<bit) != 0 {
				return configErrorf("model %q: gain bit %d overlaps data mask", m.Name, bit)
			}
		}
	}
	if len(m.Geometry) != m.Panels {
		return configErrorf("model %q: geometry table has %d entries for %d panels", m.Name, len(m.Geometry), m.Panels)
	}

	seen := make([]bool, m.Panels)
	covered := make([]bool, m.SlabRows*m.SlabCols)
	for _, pm := range m.Geometry {
		if pm.Panel < 0 || pm.Panel >= m.Panels {
			return configErrorf("model %q: geometry references panel %d", m.Name, pm.Panel)
		}
		if seen[pm.Panel] {
			return configErrorf("model %q: panel %d mapped twice", m.Name, pm.Panel)
		}
		seen[pm.Panel] = true
		if pm.Row < 0 || pm.Col < 0 || pm.Row+m.PanelRows > m.SlabRows || pm.Col+m.PanelCols > m.SlabCols {
			return configErrorf("model %q: panel %d rectangle exceeds slab", m.Name, pm.Panel)
		}
		for r := pm.Row; r < pm.Row+m.PanelRows; r++ {
			for c := pm.Col; c < pm.Col+m.PanelCols; c++ {
				idx := r*m.SlabCols + c
				if covered[idx] {
					return configErrorf("model %q: slab pixel (%d,%d) covered twice", m.Name, r, c)
				}
				covered[idx] = true
			}
		}
	}
	for idx, ok := range covered {
		if !ok {
			return configErrorf("model %q: slab pixel (%d,%d) not covered", m.Name, idx/m.SlabCols, idx%m.SlabCols)
		}
	}
	return nil
}

// NativeShape returns the expected native tensor shape as a display string.
func (m *Model) NativeShape() string {
	return fmt.Sprintf("%dx%dx%d", m.Panels, m.PanelRows, m.PanelCols)
}

// SlabShape returns the canonical slab shape as a display string.
func (m *Model) SlabShape() string {
	return fmt.Sprintf("%dx%d", m.SlabRows, m.SlabCols)
}
