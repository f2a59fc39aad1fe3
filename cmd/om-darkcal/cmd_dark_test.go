package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omdevteam/om-sub004/internal/artifact"
	"github.com/omdevteam/om-sub004/internal/dark"
	"github.com/omdevteam/om-sub004/internal/detector"
	"github.com/omdevteam/om-sub004/internal/source"
)

func TestReadFileList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "darks.txt")
	doc := "# dark run 42\nrun0042_d0_f000.darklog\n\n  run0042_d0_f001.darklog  \n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	files, err := readFileList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"run0042_d0_f000.darklog", "run0042_d0_f001.darklog"}, files)
}

func TestReadFileListEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "darks.txt")
	require.NoError(t, os.WriteFile(path, []byte("# nothing here\n"), 0o644))
	_, err := readFileList(path)
	assert.Error(t, err)
}

// Full pipeline over real containers: simulate a dark run, write darklogs,
// accumulate, finalize, persist, and read the artifact back.
func TestDarkRunPipeline(t *testing.T) {
	model := &detector.Model{
		Name:      "minijungfrau",
		Panels:    2,
		PanelRows: 4,
		PanelCols: 8,
		SlabRows:  8,
		SlabCols:  8,
		Layout:    detector.BitLayout{DataMask: 0x3FFF, GainBitLow: 14, GainBitHigh: 15, Modes: 3},
		Geometry: []detector.PanelMapping{
			{Panel: 0, Row: 0, Col: 0},
			{Panel: 1, Row: 4, Col: 0, FlipRows: true, FlipCols: true},
		},
	}
	require.NoError(t, model.Validate())

	dir := t.TempDir()
	var files []string
	for n := 0; n < 2; n++ {
		path := filepath.Join(dir, "run0001_d0_f00"+string(rune('0'+n))+".darklog")
		files = append(files, path)

		sim := source.Simulate(model, source.SimulatorConfig{
			Frames:        30,
			Pedestal:      []float64{100, 0, 0},
			Noise:         0,
			GainFractions: nil, // everything stays in gain 0
			Seed:          int64(n + 1),
		})
		writer, err := source.NewLogWriter(path, model)
		require.NoError(t, err)
		for i := 0; i < sim.FrameCount(); i++ {
			raw, err := sim.RawFrame(i)
			require.NoError(t, err)
			meta, err := sim.FrameMetadata(i)
			require.NoError(t, err)
			require.NoError(t, writer.WriteFrame(raw, meta))
		}
		require.NoError(t, writer.Close())
	}

	cal, report, err := dark.Run(context.Background(), dark.RunConfig{
		Model:      model,
		Files:      files,
		SkipFrames: 5,
		Fallback:   []float64{0, 1.5, 2.5},
		Workers:    2,
	}, zap.NewNop())
	require.NoError(t, err)

	// 2 files x (30-5) frames, all pixels pinned at pedestal 100 in gain 0.
	assert.Equal(t, uint64(50), report.FramesObserved)
	for _, v := range cal.Planes[0] {
		assert.InDelta(t, 100.0, v, 1e-9)
	}
	// Gains 1 and 2 never trigger: every cell reports zero coverage and
	// takes its configured fallback.
	assert.Len(t, cal.ZeroCoverage, 2*8*8)
	for _, v := range cal.Planes[1] {
		assert.Equal(t, 1.5, v)
	}
	for _, v := range cal.Planes[2] {
		assert.Equal(t, 2.5, v)
	}

	out := filepath.Join(dir, "dark.cal")
	require.NoError(t, artifact.Write(out, model.Name, report.FramesObserved, cal))

	got, info, err := artifact.Read(out)
	require.NoError(t, err)
	assert.Equal(t, model.Name, info.Detector)
	assert.Equal(t, 3, info.Modes)
	assert.Equal(t, cal.Planes, got.Planes)
}
