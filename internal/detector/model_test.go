package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validModel() *Model {
	return &Model{
		Name:      "valid",
		Panels:    2,
		PanelRows: 2,
		PanelCols: 2,
		SlabRows:  4,
		SlabCols:  2,
		Layout:    BitLayout{DataMask: 0x3FFF, GainBitLow: 14, GainBitHigh: 15, Modes: 3},
		Geometry: []PanelMapping{
			{Panel: 0, Row: 0, Col: 0},
			{Panel: 1, Row: 2, Col: 0},
		},
	}
}

func TestValidateAcceptsBuiltins(t *testing.T) {
	for _, name := range Names() {
		m, err := Lookup(name)
		require.NoError(t, err)
		assert.NoError(t, m.Validate(), "builtin %s", name)
	}
}

func TestValidateRejectsOverlap(t *testing.T) {
	m := validModel()
	m.Geometry[1].Row = 1
	err := m.Validate()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "covered twice")
}

func TestValidateRejectsGap(t *testing.T) {
	m := validModel()
	m.SlabRows = 5
	err := m.Validate()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "not covered")
}

func TestValidateRejectsDoubleMapping(t *testing.T) {
	m := validModel()
	m.Geometry[1].Panel = 0
	err := m.Validate()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "mapped twice")
}

func TestValidateRejectsGainBitInDataMask(t *testing.T) {
	m := validModel()
	m.Layout.DataMask = 0x7FFF
	err := m.Validate()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "overlaps data mask")
}

func TestValidateRejectsBadModeCount(t *testing.T) {
	m := validModel()
	m.Layout.Modes = 2
	var cfgErr *ConfigError
	require.ErrorAs(t, m.Validate(), &cfgErr)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("nosuch")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	doc := `name: custom
panels: 1
panelRows: 2
panelCols: 2
slabRows: 2
slabCols: 2
layout:
  dataMask: 0xFFFF
  modes: 1
geometry:
  - panel: 0
    row: 0
    col: 0
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", m.Name)
	assert.Equal(t, 1, m.Layout.Modes)
}

func TestLoadModelRejectsInvalidTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	doc := `name: broken
panels: 2
panelRows: 2
panelCols: 2
slabRows: 2
slabCols: 2
layout:
  dataMask: 0xFFFF
  modes: 1
geometry:
  - panel: 0
    row: 0
    col: 0
  - panel: 1
    row: 0
    col: 0
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadModel(path)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
