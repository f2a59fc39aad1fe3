package dark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omdevteam/om-sub004/internal/detector"
	"github.com/omdevteam/om-sub004/internal/source"
)

func runModel() *detector.Model {
	return &detector.Model{
		Name:      "test2p",
		Panels:    2,
		PanelRows: 2,
		PanelCols: 2,
		SlabRows:  4,
		SlabCols:  2,
		Layout:    detector.BitLayout{DataMask: 0xFFFF, Modes: 1},
		Geometry: []detector.PanelMapping{
			{Panel: 0, Row: 0, Col: 0},
			{Panel: 1, Row: 2, Col: 0},
		},
	}
}

func constFrame(m *detector.Model, value uint16) detector.RawFrame {
	data := make([]uint16, m.Panels*m.PanelRows*m.PanelCols)
	for i := range data {
		data[i] = value
	}
	return detector.RawFrame{Panels: m.Panels, Rows: m.PanelRows, Cols: m.PanelCols, Data: data}
}

func memOpener(sources map[string]source.Source) Opener {
	return func(path string) (source.Source, error) {
		src, ok := sources[path]
		if !ok {
			return nil, &source.OpenError{Path: path, Err: assert.AnError}
		}
		return src, nil
	}
}

func metaFor(n int) []source.FrameMetadata {
	meta := make([]source.FrameMetadata, n)
	return meta
}

func TestRunEndToEnd(t *testing.T) {
	m := runModel()
	frames := []detector.RawFrame{
		constFrame(m, 10),
		constFrame(m, 20),
		constFrame(m, 10),
	}
	sources := map[string]source.Source{
		"run_d0.darklog": source.NewMemorySource(frames, metaFor(3)),
	}

	cal, report, err := Run(context.Background(), RunConfig{
		Model:      m,
		Files:      []string{"run_d0.darklog"},
		SkipFrames: 0,
		Open:       memOpener(sources),
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, uint64(3), report.FramesObserved)
	assert.Empty(t, report.SkippedFiles)
	assert.Empty(t, cal.ZeroCoverage, "expected full coverage")
	want := 40.0 / 3.0
	for _, v := range cal.Planes[0] {
		assert.InDelta(t, want, v, 1e-9)
	}
	require.Len(t, report.GainStats, 1)
	assert.InDelta(t, want, report.GainStats[0].Mean, 1e-9)
}

func TestRunSkipsWarmupFrames(t *testing.T) {
	m := runModel()
	frames := []detector.RawFrame{
		constFrame(m, 9999), // warm-up, excluded
		constFrame(m, 10),
		constFrame(m, 20),
	}
	sources := map[string]source.Source{
		"run_d0.darklog": source.NewMemorySource(frames, metaFor(3)),
	}

	cal, report, err := Run(context.Background(), RunConfig{
		Model:      m,
		Files:      []string{"run_d0.darklog"},
		SkipFrames: 1,
		Open:       memOpener(sources),
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, uint64(2), report.FramesObserved)
	assert.Equal(t, uint64(1), report.FramesSkipped)
	for _, v := range cal.Planes[0] {
		assert.InDelta(t, 15.0, v, 1e-9)
	}
}

func TestRunSkipsUnopenableFileKeepsStats(t *testing.T) {
	m := runModel()
	sources := map[string]source.Source{
		"good_d0.darklog": source.NewMemorySource([]detector.RawFrame{constFrame(m, 12)}, metaFor(1)),
	}

	cal, report, err := Run(context.Background(), RunConfig{
		Model:      m,
		Files:      []string{"good_d0.darklog", "missing_d0.darklog"},
		SkipFrames: 0,
		Open:       memOpener(sources),
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"missing_d0.darklog"}, report.SkippedFiles)
	assert.Equal(t, uint64(1), report.FramesObserved)
	assert.Equal(t, 12.0, cal.Planes[0][0])
}

func TestRunWorkersMergeToSameResult(t *testing.T) {
	m := runModel()
	sources := map[string]source.Source{
		"a_d0.darklog": source.NewMemorySource([]detector.RawFrame{constFrame(m, 10)}, metaFor(1)),
		"b_d0.darklog": source.NewMemorySource([]detector.RawFrame{constFrame(m, 20)}, metaFor(1)),
		"c_d0.darklog": source.NewMemorySource([]detector.RawFrame{constFrame(m, 30)}, metaFor(1)),
	}
	files := []string{"a_d0.darklog", "b_d0.darklog", "c_d0.darklog"}

	sequential, _, err := Run(context.Background(), RunConfig{
		Model: m, Files: files, Open: memOpener(sources), Workers: 1,
	}, zap.NewNop())
	require.NoError(t, err)

	parallel, _, err := Run(context.Background(), RunConfig{
		Model: m, Files: files, Open: memOpener(sources), Workers: 3,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, sequential.Planes, parallel.Planes)
}

func TestRunAbortsOnFirstFrameShapeMismatch(t *testing.T) {
	m := runModel()
	wrong := detector.RawFrame{Panels: 1, Rows: 2, Cols: 2, Data: make([]uint16, 4)}
	sources := map[string]source.Source{
		"bad_d0.darklog": source.NewMemorySource([]detector.RawFrame{wrong}, metaFor(1)),
	}

	_, _, err := Run(context.Background(), RunConfig{
		Model: m, Files: []string{"bad_d0.darklog"}, Open: memOpener(sources),
	}, zap.NewNop())
	var shapeErr *detector.ShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestRunDropsLaterMismatchedFrames(t *testing.T) {
	m := runModel()
	wrong := detector.RawFrame{Panels: 1, Rows: 2, Cols: 2, Data: make([]uint16, 4)}
	frames := []detector.RawFrame{constFrame(m, 10), wrong, constFrame(m, 20)}
	sources := map[string]source.Source{
		"run_d0.darklog": source.NewMemorySource(frames, metaFor(3)),
	}

	cal, report, err := Run(context.Background(), RunConfig{
		Model: m, Files: []string{"run_d0.darklog"}, Open: memOpener(sources),
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, uint64(2), report.FramesObserved)
	assert.Equal(t, uint64(1), report.FramesSkipped)
	assert.Equal(t, 15.0, cal.Planes[0][0])
}

func TestRunRejectsMissingConfiguration(t *testing.T) {
	var cfgErr *detector.ConfigError
	_, _, err := Run(context.Background(), RunConfig{}, zap.NewNop())
	require.ErrorAs(t, err, &cfgErr)

	_, _, err = Run(context.Background(), RunConfig{Model: runModel()}, zap.NewNop())
	require.ErrorAs(t, err, &cfgErr)

	_, _, err = Run(context.Background(), RunConfig{
		Model:      runModel(),
		Files:      []string{"x_d0.darklog"},
		SkipFrames: -1,
	}, zap.NewNop())
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunCancelledContext(t *testing.T) {
	m := runModel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sources := map[string]source.Source{
		"run_d0.darklog": source.NewMemorySource([]detector.RawFrame{constFrame(m, 10)}, metaFor(1)),
	}
	_, _, err := Run(ctx, RunConfig{
		Model: m, Files: []string{"run_d0.darklog"}, Open: memOpener(sources),
	}, zap.NewNop())
	require.Error(t, err)
}
