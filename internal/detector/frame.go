package detector

import "fmt"

// RawFrame is one acquisition in the detector's native layout: a flat
// panel-major tensor of packed pixel values (panel, slow-scan, fast-scan).
type RawFrame struct {
	Panels int
	Rows   int
	Cols   int
	Data   []uint16
}

// Slab is a frame in the detector's canonical 2D pixel layout, produced by
// reassembling the native panels.
type Slab struct {
	Rows int
	Cols int
	Data []uint16
}

func (f RawFrame) Len() int { return f.Panels * f.Rows * f.Cols }

// ShapeError reports a buffer whose shape disagrees with the configured
// detector geometry.
type ShapeError struct {
	Want string
	Got  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch: want %s, got %s", e.Want, e.Got)
}

// ConfigError is a fatal configuration problem (malformed model table,
// missing mandatory default). Runs do not start once one is reported.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
