package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omdevteam/om-sub004/internal/artifact"
	"github.com/omdevteam/om-sub004/internal/config"
	"github.com/omdevteam/om-sub004/internal/dark"
	"github.com/omdevteam/om-sub004/internal/metadata"
	"github.com/omdevteam/om-sub004/internal/monitor"
	"github.com/omdevteam/om-sub004/internal/source"
)

var darkFlags struct {
	files       string
	out         string
	detector    string
	modelFile   string
	skip        int
	fallback    []float64
	workers     int
	monitorPort int
}

var darkCmd = &cobra.Command{
	Use:   "dark",
	Short: "Compute dark calibration constants from a set of dark-run files",
	Long: `Reads a text file listing dark-run source paths for one panel
assembly, accumulates per-pixel per-gain statistics past the configured
warm-up count, and writes the finalized calibration artifact.

Zero-coverage pixels are a reported condition, not an error: the run
succeeds, the artifact is written, and the coordinates are listed on
standard output for operator inspection.`,
	RunE: runDark,
}

func init() {
	darkCmd.Flags().StringVar(&darkFlags.files, "files", "", "Text file listing dark-run source paths (required)")
	darkCmd.Flags().StringVar(&darkFlags.out, "out", "", "Output calibration artifact path (required)")
	darkCmd.Flags().StringVar(&darkFlags.detector, "detector", "", "Built-in detector model name")
	darkCmd.Flags().StringVar(&darkFlags.modelFile, "model-file", "", "YAML detector model file (overrides --detector)")
	darkCmd.Flags().IntVar(&darkFlags.skip, "skip", dark.DefaultSkipFrames, "Warm-up frames to skip per source file")
	darkCmd.Flags().Float64SliceVar(&darkFlags.fallback, "fallback", nil, "Per-gain-mode fallback constants for zero-coverage pixels")
	darkCmd.Flags().IntVar(&darkFlags.workers, "workers", 0, "File-level worker count (0 uses the config value)")
	darkCmd.Flags().IntVar(&darkFlags.monitorPort, "monitor-port", 0, "Serve run progress on this port (0 disables)")
	_ = darkCmd.MarkFlagRequired("files")
	_ = darkCmd.MarkFlagRequired("out")
}

func loadRunConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("detector") {
		cfg.Detector = darkFlags.detector
	}
	if cmd.Flags().Changed("model-file") {
		cfg.ModelFile = darkFlags.modelFile
	}
	if cmd.Flags().Changed("skip") {
		cfg.SkipFrames = darkFlags.skip
	}
	if cmd.Flags().Changed("fallback") {
		cfg.Fallback = darkFlags.fallback
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = darkFlags.workers
	}
	if cmd.Flags().Changed("monitor-port") {
		cfg.MonitorPort = darkFlags.monitorPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDark(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	model, err := cfg.Model()
	if err != nil {
		return err
	}

	// The resolver's mandatory defaults are a startup-time contract;
	// validate before any file is opened.
	defaults := make(map[metadata.Quantity]float64, len(cfg.MetadataDefaults))
	for name, value := range cfg.MetadataDefaults {
		defaults[metadata.Quantity(name)] = value
	}
	if ts, ok := defaults[metadata.Timestamp]; ok && ts == 0 {
		defaults[metadata.Timestamp] = metadata.DefaultTimestamp()
	}
	resolver, err := metadata.NewResolver(model, defaults)
	if err != nil {
		return err
	}

	files, err := readFileList(darkFlags.files)
	if err != nil {
		return err
	}
	logger.Info("starting dark run",
		zap.String("detector", model.Name),
		zap.Int("files", len(files)),
		zap.Int("skip_frames", cfg.SkipFrames),
		zap.Int("workers", cfg.Workers))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress progressState
	if cfg.MonitorPort > 0 {
		go func() {
			err := monitor.Run(ctx, cfg.MonitorPort, time.Second, progress.snapshot)
			if err != nil {
				logger.Warn("monitor stopped", zap.Error(err))
			}
		}()
	}

	cal, report, err := dark.Run(ctx, dark.RunConfig{
		Model:      model,
		Files:      files,
		SkipFrames: cfg.SkipFrames,
		Fallback:   cfg.Fallback,
		Workers:    cfg.Workers,
		Progress:   progress.update,
	}, logger)
	if err != nil {
		return err
	}

	logBeamConditions(files, resolver, cfg.SkipFrames)

	if err := artifact.Write(darkFlags.out, model.Name, report.FramesObserved, cal); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	logger.Info("dark run complete",
		zap.Uint64("frames_observed", report.FramesObserved),
		zap.Uint64("frames_skipped", report.FramesSkipped),
		zap.Strings("skipped_files", report.SkippedFiles),
		zap.String("artifact", darkFlags.out))
	for _, gs := range report.GainStats {
		logger.Info("gain plane summary",
			zap.Int("mode", gs.Mode),
			zap.Float64("mean", gs.Mean),
			zap.Float64("stddev", gs.StdDev))
	}

	printZeroCoverage(cal.ZeroCoverage)
	return nil
}

// printZeroCoverage surfaces uncovered cells to the operator. Expected at
// detector edges and for rarely triggered gain modes; never a failure.
func printZeroCoverage(coords []dark.Coord) {
	if len(coords) == 0 {
		fmt.Println("all pixels covered in every gain mode")
		return
	}
	fmt.Printf("%d zero-coverage pixels received fallback constants:\n", len(coords))
	for _, c := range coords {
		fmt.Printf("  gain=%d row=%d col=%d\n", c.Gain, c.Row, c.Col)
	}
}

// logBeamConditions resolves auxiliary scalars from the first readable
// frame so the run log records the beam conditions the darks were taken
// under. Resolution never fails: absent headers fall back to configured
// defaults.
func logBeamConditions(files []string, resolver *metadata.Resolver, skip int) {
	for _, path := range files {
		src, err := source.OpenDarklog(path)
		if err != nil {
			continue
		}
		if src.FrameCount() <= skip {
			_ = src.Close()
			continue
		}
		meta, err := src.FrameMetadata(skip)
		_ = src.Close()
		if err != nil {
			continue
		}
		logger.Info("beam conditions",
			zap.Float64("beam_energy_ev", resolver.Resolve(meta, metadata.BeamEnergy)),
			zap.Float64("detector_distance_mm", resolver.Resolve(meta, metadata.DetectorDistance)),
			zap.Float64("timestamp", resolver.Resolve(meta, metadata.Timestamp)))
		return
	}
}

func readFileList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read file list: %w", err)
	}
	defer f.Close()

	var files []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		files = append(files, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("file list %s names no source files", path)
	}
	return files, nil
}

type progressState struct {
	mu      sync.Mutex
	current dark.Progress
}

func (p *progressState) update(prog dark.Progress) {
	p.mu.Lock()
	p.current = prog
	p.mu.Unlock()
}

func (p *progressState) snapshot() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"files_done":  p.current.FilesDone,
		"files_total": p.current.FilesTotal,
		"frames":      p.current.Frames,
	}
}
