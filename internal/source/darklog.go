package source

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/omdevteam/om-sub004/internal/cborarray"
	"github.com/omdevteam/om-sub004/internal/detector"
)

// Darklog is the on-disk dark-run container: a magic header followed by
// length-prefixed CBOR records. The first record announces the detector
// model and the per-panel dataset key; image records carry one native
// tensor each as a tag-40 typed array of shape (panels*rows, cols).
const darklogMagic = "OMDARK01"

var datasetPattern = regexp.MustCompile(`_d(\d+)(?:[_.]|$)`)

// DatasetKey derives the in-container dataset key from a source filename.
// Dark-run files are named per panel assembly (..._d0_..., ..._d1_...); a
// filename the pattern cannot match has no derivable key and the file
// cannot be used.
func DatasetKey(path string) (string, error) {
	m := datasetPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", fmt.Errorf("cannot derive dataset key from filename %q", filepath.Base(path))
	}
	return "data_d" + m[1], nil
}

// LogWriter writes a darklog container. Safe for use from one goroutine.
type LogWriter struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	dataset string
	frameID int
}

// NewLogWriter creates a darklog at path for the given model. The dataset
// key is derived from the output filename so the file round-trips through
// OpenDarklog.
func NewLogWriter(path string, model *detector.Model) (*LogWriter, error) {
	dataset, err := DatasetKey(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.WriteString(darklogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	lw := &LogWriter{f: f, w: w, dataset: dataset}
	start := map[string]any{
		"type":       "start",
		"detector":   model.Name,
		"dataset":    dataset,
		"panels":     model.Panels,
		"panel_rows": model.PanelRows,
		"panel_cols": model.PanelCols,
	}
	if err := lw.writeRecord(start); err != nil {
		_ = f.Close()
		return nil, err
	}
	return lw, nil
}

// WriteFrame appends one native-layout frame with its metadata.
func (w *LogWriter) WriteFrame(raw detector.RawFrame, meta FrameMetadata) error {
	array, err := cborarray.EncodeUint16(raw.Panels*raw.Rows, raw.Cols, raw.Data)
	if err != nil {
		return err
	}
	record := map[string]any{
		"type":      "image",
		"frame_id":  w.frameID,
		"timestamp": meta.Timestamp,
		"data":      map[string]any{w.dataset: array},
	}
	if len(meta.Header) > 0 {
		record["header"] = meta.Header
	}
	if err := w.writeRecord(record); err != nil {
		return err
	}
	w.frameID++
	return nil
}

func (w *LogWriter) writeRecord(record any) error {
	payload, err := cbor.Marshal(record)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return errors.New("darklog writer is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := w.w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.w.Write(payload)
	return err
}

func (w *LogWriter) Close() error {
	if err := w.writeRecord(map[string]any{"type": "end"}); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		w.w = nil
		return err
	}
	w.w = nil
	return w.f.Close()
}

// FileSource reads a darklog container as a frame source adapter. Frames
// are indexed by a one-pass offset scan at open time; reads through one
// handle must stay sequential per the source contract.
type FileSource struct {
	f       *os.File
	path    string
	dataset string

	panels    int
	panelRows int
	panelCols int

	offsets []int64
	sizes   []uint32
}

// OpenDarklog opens path and prepares its frame index. Any failure here —
// unreadable file, bad magic, underivable or mismatched dataset key — is an
// OpenError: fatal for this file, not for the run.
func OpenDarklog(path string) (*FileSource, error) {
	dataset, err := DatasetKey(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	src := &FileSource{f: f, path: path, dataset: dataset}
	if err := src.index(); err != nil {
		_ = f.Close()
		return nil, &OpenError{Path: path, Err: err}
	}
	return src, nil
}

func (s *FileSource) index() error {
	magic := make([]byte, len(darklogMagic))
	if _, err := io.ReadFull(s.f, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != darklogMagic {
		return fmt.Errorf("unexpected magic %q", string(magic))
	}

	offset := int64(len(darklogMagic))
	first := true
	for {
		var header [12]byte
		if _, err := io.ReadFull(s.f, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read record header: %w", err)
		}
		size := binary.LittleEndian.Uint32(header[8:12])
		payload := make([]byte, size)
		if _, err := io.ReadFull(s.f, payload); err != nil {
			return fmt.Errorf("read record payload: %w", err)
		}

		if first {
			if err := s.readStart(payload); err != nil {
				return err
			}
			first = false
		} else {
			var probe struct {
				Type string `cbor:"type"`
			}
			if err := cbor.Unmarshal(payload, &probe); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if probe.Type == "image" {
				s.offsets = append(s.offsets, offset)
				s.sizes = append(s.sizes, size)
			}
		}
		offset += 12 + int64(size)
	}
	if first {
		return errors.New("missing start record")
	}
	return nil
}

func (s *FileSource) readStart(payload []byte) error {
	var start struct {
		Type      string `cbor:"type"`
		Detector  string `cbor:"detector"`
		Dataset   string `cbor:"dataset"`
		Panels    int    `cbor:"panels"`
		PanelRows int    `cbor:"panel_rows"`
		PanelCols int    `cbor:"panel_cols"`
	}
	if err := cbor.Unmarshal(payload, &start); err != nil {
		return fmt.Errorf("decode start record: %w", err)
	}
	if start.Type != "start" {
		return fmt.Errorf("first record has type %q, want start", start.Type)
	}
	if start.Dataset != s.dataset {
		return fmt.Errorf("container dataset %q does not match derived key %q", start.Dataset, s.dataset)
	}
	if start.Panels < 1 || start.PanelRows < 1 || start.PanelCols < 1 {
		return fmt.Errorf("invalid native shape %dx%dx%d in start record", start.Panels, start.PanelRows, start.PanelCols)
	}
	s.panels = start.Panels
	s.panelRows = start.PanelRows
	s.panelCols = start.PanelCols
	return nil
}

func (s *FileSource) FrameCount() int { return len(s.offsets) }

func (s *FileSource) record(index int) (map[string]any, error) {
	if index < 0 || index >= len(s.offsets) {
		return nil, fmt.Errorf("frame index %d out of range [0,%d)", index, len(s.offsets))
	}
	payload := make([]byte, s.sizes[index])
	if _, err := s.f.ReadAt(payload, s.offsets[index]+12); err != nil {
		return nil, fmt.Errorf("read frame %d: %w", index, err)
	}
	var record map[string]any
	if err := cbor.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", index, err)
	}
	return record, nil
}

func (s *FileSource) RawFrame(index int) (detector.RawFrame, error) {
	record, err := s.record(index)
	if err != nil {
		return detector.RawFrame{}, err
	}
	data, ok := record["data"].(map[any]any)
	if !ok {
		if alt, okAlt := record["data"].(map[string]any); okAlt {
			data = make(map[any]any, len(alt))
			for k, v := range alt {
				data[k] = v
			}
		} else {
			return detector.RawFrame{}, fmt.Errorf("frame %d: missing data block", index)
		}
	}
	array, ok := data[s.dataset]
	if !ok {
		return detector.RawFrame{}, fmt.Errorf("frame %d: dataset %q missing from container", index, s.dataset)
	}
	values, rows, cols, err := cborarray.DecodeUint16(array)
	if err != nil {
		return detector.RawFrame{}, fmt.Errorf("frame %d: %w", index, err)
	}
	if rows != s.panels*s.panelRows || cols != s.panelCols {
		return detector.RawFrame{}, fmt.Errorf("frame %d: array shape %dx%d does not match native %dx%dx%d",
			index, rows, cols, s.panels, s.panelRows, s.panelCols)
	}
	return detector.RawFrame{
		Panels: s.panels,
		Rows:   s.panelRows,
		Cols:   s.panelCols,
		Data:   values,
	}, nil
}

func (s *FileSource) FrameMetadata(index int) (FrameMetadata, error) {
	record, err := s.record(index)
	if err != nil {
		return FrameMetadata{}, err
	}
	meta := FrameMetadata{}
	if ts, ok := record["timestamp"]; ok {
		if v, err := toFloat(ts); err == nil {
			meta.Timestamp = v
		}
	}
	meta.Header = decodeHeader(record["header"])
	return meta, nil
}

func (s *FileSource) Close() error { return s.f.Close() }
