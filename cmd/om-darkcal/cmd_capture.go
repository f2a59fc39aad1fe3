package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omdevteam/om-sub004/internal/source"
)

var captureFlags struct {
	endpoint string
	frames   int
	out      string
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record a dark run from a live detector stream into a darklog",
	Long: `Connects to the detector's ZMQ endpoint, buffers the requested
number of frames, and writes them as a darklog container that the dark
subcommand can consume. The output filename must carry the panel dataset
suffix (e.g. run0042_d0.darklog).`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVar(&captureFlags.endpoint, "endpoint", "tcp://localhost:31001", "ZMQ endpoint of the detector stream")
	captureCmd.Flags().IntVar(&captureFlags.frames, "frames", 1100, "Number of frames to capture")
	captureCmd.Flags().StringVar(&captureFlags.out, "out", "", "Output darklog path (required)")
	captureCmd.Flags().StringVar(&darkFlags.detector, "detector", "jungfrau1m", "Built-in detector model name")
	_ = captureCmd.MarkFlagRequired("out")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	model, err := cfg.Model()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("capturing dark run",
		zap.String("endpoint", captureFlags.endpoint),
		zap.Int("frames", captureFlags.frames),
		zap.String("detector", model.Name))

	src, err := source.Capture(ctx, captureFlags.endpoint, model, captureFlags.frames, logger)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	defer src.Close()

	writer, err := source.NewLogWriter(captureFlags.out, model)
	if err != nil {
		return err
	}
	for i := 0; i < src.FrameCount(); i++ {
		raw, err := src.RawFrame(i)
		if err != nil {
			_ = writer.Close()
			return err
		}
		meta, err := src.FrameMetadata(i)
		if err != nil {
			_ = writer.Close()
			return err
		}
		if err := writer.WriteFrame(raw, meta); err != nil {
			_ = writer.Close()
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}
	logger.Info("capture complete", zap.String("path", captureFlags.out), zap.Int("frames", src.FrameCount()))
	return nil
}
