package dark

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/omdevteam/om-sub004/internal/detector"
	"github.com/omdevteam/om-sub004/internal/gain"
	"github.com/omdevteam/om-sub004/internal/geometry"
	"github.com/omdevteam/om-sub004/internal/source"
)

// DefaultSkipFrames is the warm-up count excluded from the head of every
// source file: the detector has not stabilized yet when a dark run starts.
const DefaultSkipFrames = 100

// Opener opens one source file. It exists so tests and live captures can
// substitute for the darklog adapter.
type Opener func(path string) (source.Source, error)

// RunConfig describes one calibration run over a set of source files for a
// single panel assembly.
type RunConfig struct {
	Model      *detector.Model
	Files      []string
	SkipFrames int
	Fallback   []float64
	Workers    int
	Open       Opener
	// Progress, when set, receives a snapshot after every completed file.
	Progress func(Progress)
}

// Progress is a point-in-time view of a running calibration.
type Progress struct {
	FilesDone  int
	FilesTotal int
	Frames     uint64
}

// GainStat summarizes one finalized gain plane.
type GainStat struct {
	Mode   int
	Mean   float64
	StdDev float64
}

// Report describes a completed run: what was read, what was skipped, and
// summary statistics of the finalized planes.
type Report struct {
	FramesObserved uint64
	FramesSkipped  uint64
	SkippedFiles   []string
	GainStats      []GainStat
}

type partial struct {
	acc            *Accumulator
	framesSkipped  uint64
	skippedFiles   []string
	mismatchedDrop uint64
}

// Run accumulates dark statistics over cfg.Files and finalizes them into a
// calibration. Files are fanned out to workers that each own a private
// accumulator; partials are merged after completion, which is commutative
// and associative, so worker scheduling never changes the result. A file
// that cannot be opened is skipped with a warning and prior statistics are
// kept. The run fails outright only on configuration errors, a first-frame
// shape mismatch, or context cancellation; a cancelled run never yields a
// calibration.
func Run(ctx context.Context, cfg RunConfig, logger *zap.Logger) (*Calibration, *Report, error) {
	if cfg.Model == nil {
		return nil, nil, &detector.ConfigError{Reason: "no detector model configured"}
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, nil, err
	}
	if len(cfg.Files) == 0 {
		return nil, nil, &detector.ConfigError{Reason: "no source files configured"}
	}
	if cfg.SkipFrames < 0 {
		return nil, nil, &detector.ConfigError{Reason: fmt.Sprintf("negative skip-frame count %d", cfg.SkipFrames)}
	}
	open := cfg.Open
	if open == nil {
		open = func(path string) (source.Source, error) { return source.OpenDarklog(path) }
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(cfg.Files) {
		workers = len(cfg.Files)
	}

	total, err := NewAccumulator(cfg.Model.SlabRows, cfg.Model.SlabCols, cfg.Model.Layout.Modes, cfg.Fallback)
	if err != nil {
		return nil, nil, &detector.ConfigError{Reason: err.Error()}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	files := make(chan string)
	partials := make(chan partial, workers)
	errc := make(chan error, workers)
	var filesDone int
	var progressMu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc, err := NewAccumulator(cfg.Model.SlabRows, cfg.Model.SlabCols, cfg.Model.Layout.Modes, cfg.Fallback)
			if err != nil {
				errc <- err
				cancel()
				return
			}
			p := partial{acc: acc}
			for path := range files {
				if err := accumulateFile(runCtx, cfg, open, path, &p, logger); err != nil {
					errc <- err
					cancel()
					return
				}
				if cfg.Progress != nil {
					progressMu.Lock()
					filesDone++
					cfg.Progress(Progress{
						FilesDone:  filesDone,
						FilesTotal: len(cfg.Files),
						Frames:     p.acc.Frames(),
					})
					progressMu.Unlock()
				}
			}
			partials <- p
		}()
	}

	go func() {
		defer close(files)
		for _, path := range cfg.Files {
			select {
			case <-runCtx.Done():
				return
			case files <- path:
			}
		}
	}()

	wg.Wait()
	close(partials)
	close(errc)

	if err := <-errc; err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	report := &Report{}
	for p := range partials {
		if err := total.Merge(p.acc); err != nil {
			return nil, nil, err
		}
		report.FramesSkipped += p.framesSkipped + p.mismatchedDrop
		report.SkippedFiles = append(report.SkippedFiles, p.skippedFiles...)
	}
	report.FramesObserved = total.Frames()
	if report.FramesObserved == 0 {
		return nil, nil, errors.New("no frames observed across configured input set")
	}

	cal, err := total.Finalize()
	if err != nil {
		return nil, nil, err
	}
	for g := 0; g < cal.Modes; g++ {
		mean, std := stat.MeanStdDev(cal.Planes[g], nil)
		report.GainStats = append(report.GainStats, GainStat{Mode: g, Mean: mean, StdDev: std})
	}
	return cal, report, nil
}

// accumulateFile scans one source file sequentially. Open failures skip the
// file; a shape mismatch on the first examined frame aborts the run, later
// mismatches drop the frame only.
func accumulateFile(ctx context.Context, cfg RunConfig, open Opener, path string, p *partial, logger *zap.Logger) error {
	src, err := open(path)
	if err != nil {
		var openErr *source.OpenError
		if errors.As(err, &openErr) {
			logger.Warn("skipping source file", zap.String("path", path), zap.Error(openErr.Err))
			p.skippedFiles = append(p.skippedFiles, path)
			return nil
		}
		return err
	}
	defer src.Close()

	count := src.FrameCount()
	if count <= cfg.SkipFrames {
		logger.Warn("source file has no frames past warm-up",
			zap.String("path", path),
			zap.Int("frames", count),
			zap.Int("skip", cfg.SkipFrames))
		p.skippedFiles = append(p.skippedFiles, path)
		return nil
	}
	p.framesSkipped += uint64(cfg.SkipFrames)

	for i := cfg.SkipFrames; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := src.RawFrame(i)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		slab, err := geometry.Assemble(cfg.Model, raw)
		if err != nil {
			var shapeErr *detector.ShapeError
			if errors.As(err, &shapeErr) && i > cfg.SkipFrames {
				logger.Warn("dropping mismatched frame",
					zap.String("path", path),
					zap.Int("frame", i),
					zap.Error(shapeErr))
				p.mismatchedDrop++
				continue
			}
			return fmt.Errorf("%s frame %d: %w", path, i, err)
		}
		decoded, err := gain.DecodeSlab(cfg.Model.Layout, slab, gain.Classify)
		if err != nil {
			return fmt.Errorf("%s frame %d: %w", path, i, err)
		}
		if err := p.acc.Observe(decoded); err != nil {
			return fmt.Errorf("%s frame %d: %w", path, i, err)
		}
	}
	return nil
}
