// Package source provides frame source adapters: per-detector-model
// components that open a raw container and yield native-layout frames plus
// minimal per-frame metadata. Variants (darklog file, ZMQ live stream,
// in-memory simulator) differ only in native shape, bit layout, and header
// locations, never in the contract shape.
package source

import (
	"fmt"

	"github.com/omdevteam/om-sub004/internal/detector"
)

// FrameMetadata carries the per-frame scalars a container embeds alongside
// pixel data. Header blocks are optional; absent quantities fall back to
// static configuration through the metadata resolver.
type FrameMetadata struct {
	Timestamp float64
	Header    map[string][]float64
}

// Source is the frame source adapter contract. Handles are read
// frame-by-frame in increasing index order; backing containers do not
// guarantee safe concurrent random access through one handle.
type Source interface {
	FrameCount() int
	RawFrame(index int) (detector.RawFrame, error)
	FrameMetadata(index int) (FrameMetadata, error)
	Close() error
}

// OpenError reports a container that cannot be opened or whose expected
// internal dataset is missing or underivable. Fatal for that file only; a
// calibration run skips to the next file and keeps prior statistics.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// MemorySource serves frames held in memory. It backs the simulator and
// live captures that buffer a fixed frame count before processing.
type MemorySource struct {
	frames []detector.RawFrame
	meta   []FrameMetadata
}

func NewMemorySource(frames []detector.RawFrame, meta []FrameMetadata) *MemorySource {
	return &MemorySource{frames: frames, meta: meta}
}

func (s *MemorySource) FrameCount() int { return len(s.frames) }

func (s *MemorySource) RawFrame(index int) (detector.RawFrame, error) {
	if index < 0 || index >= len(s.frames) {
		return detector.RawFrame{}, fmt.Errorf("frame index %d out of range [0,%d)", index, len(s.frames))
	}
	return s.frames[index], nil
}

func (s *MemorySource) FrameMetadata(index int) (FrameMetadata, error) {
	if index < 0 || index >= len(s.meta) {
		return FrameMetadata{}, fmt.Errorf("frame index %d out of range [0,%d)", index, len(s.meta))
	}
	return s.meta[index], nil
}

func (s *MemorySource) Close() error { return nil }
