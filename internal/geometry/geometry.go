// Package geometry reassembles native multi-panel detector frames into the
// canonical per-model slab layout. The mapping is a static table on the
// detector model; assembly does no data-dependent branching and allocates a
// fresh slab per call, so it is safe to run concurrently on independent
// frames.
package geometry

import (
	"fmt"

	"github.com/omdevteam/om-sub004/internal/detector"
)

// Assemble maps a raw frame in native panel layout onto the model's
// canonical slab. It returns a ShapeError when the input tensor does not
// match the model's native shape.
func Assemble(m *detector.Model, raw detector.RawFrame) (detector.Slab, error) {
	if raw.Panels != m.Panels || raw.Rows != m.PanelRows || raw.Cols != m.PanelCols {
		return detector.Slab{}, &detector.ShapeError{
			Want: m.NativeShape(),
			Got:  fmt.Sprintf("%dx%dx%d", raw.Panels, raw.Rows, raw.Cols),
		}
	}
	if len(raw.Data) != raw.Len() {
		return detector.Slab{}, &detector.ShapeError{
			Want: fmt.Sprintf("%d values", raw.Len()),
			Got:  fmt.Sprintf("%d values", len(raw.Data)),
		}
	}

	slab := detector.Slab{
		Rows: m.SlabRows,
		Cols: m.SlabCols,
		Data: make([]uint16, m.SlabRows*m.SlabCols),
	}
	panelSize := m.PanelRows * m.PanelCols
	for _, pm := range m.Geometry {
		src := raw.Data[pm.Panel*panelSize : (pm.Panel+1)*panelSize]
		copyPanel(slab, src, m, pm)
	}
	return slab, nil
}

func copyPanel(slab detector.Slab, src []uint16, m *detector.Model, pm detector.PanelMapping) {
	for r := 0; r < m.PanelRows; r++ {
		srcRow := r
		if pm.FlipRows {
			srcRow = m.PanelRows - 1 - r
		}
		dst := slab.Data[(pm.Row+r)*slab.Cols+pm.Col:]
		row := src[srcRow*m.PanelCols : (srcRow+1)*m.PanelCols]
		if !pm.FlipCols {
			copy(dst[:m.PanelCols], row)
			continue
		}
		for c := 0; c < m.PanelCols; c++ {
			dst[c] = row[m.PanelCols-1-c]
		}
	}
}
