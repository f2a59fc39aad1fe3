package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/omdevteam/om-sub004/internal/artifact"
	"github.com/omdevteam/om-sub004/internal/source"
)

var inspectFlags struct {
	path  string
	limit int
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize a calibration artifact or darklog container",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFlags.path, "path", "", "Path to artifact or darklog (required)")
	inspectCmd.Flags().IntVar(&inspectFlags.limit, "limit", 3, "Max frame records to summarize for darklogs")
	_ = inspectCmd.MarkFlagRequired("path")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if isDarklog(inspectFlags.path) {
		return inspectDarklog(inspectFlags.path, inspectFlags.limit)
	}
	return inspectArtifact(inspectFlags.path)
}

func isDarklog(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	magic := make([]byte, 8)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return string(magic) == "OMDARK01"
}

func inspectDarklog(path string, limit int) error {
	src, err := source.OpenDarklog(path)
	if err != nil {
		return err
	}
	defer src.Close()

	fmt.Printf("darklog: %s\n", path)
	fmt.Printf("  frames: %d\n", src.FrameCount())
	for i := 0; i < src.FrameCount() && i < limit; i++ {
		raw, err := src.RawFrame(i)
		if err != nil {
			return err
		}
		meta, err := src.FrameMetadata(i)
		if err != nil {
			return err
		}
		fmt.Printf("  frame %d: shape %dx%dx%d timestamp %.3f header_keys %d\n",
			i, raw.Panels, raw.Rows, raw.Cols, meta.Timestamp, len(meta.Header))
	}
	return nil
}

func inspectArtifact(path string) error {
	cal, info, err := artifact.Read(path)
	if err != nil {
		return err
	}
	fmt.Printf("calibration artifact: %s\n", path)
	fmt.Printf("  detector: %s\n", info.Detector)
	fmt.Printf("  created:  %s\n", info.Created.Format(time.RFC3339))
	fmt.Printf("  frames:   %d\n", info.Frames)
	fmt.Printf("  shape:    %dx%d, %d gain modes\n", info.Rows, info.Cols, info.Modes)
	for g := 0; g < cal.Modes; g++ {
		mean, std := stat.MeanStdDev(cal.Planes[g], nil)
		fmt.Printf("  %s: mean %.3f stddev %.3f\n", artifact.DatasetName(g), mean, std)
	}
	return nil
}
