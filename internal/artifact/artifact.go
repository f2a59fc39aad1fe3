// Package artifact persists finalized dark calibrations: a CBOR container
// holding one named float64 plane per gain mode (gain0, gain1, gain2) in the
// detector's canonical slab shape. Written once, read many times.
package artifact

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/omdevteam/om-sub004/internal/cborarray"
	"github.com/omdevteam/om-sub004/internal/dark"
)

const artifactMagic = "OMCAL01"

type container struct {
	Magic    string              `cbor:"magic"`
	Detector string              `cbor:"detector"`
	Created  int64               `cbor:"created"`
	Frames   uint64              `cbor:"frames"`
	Rows     int                 `cbor:"rows"`
	Cols     int                 `cbor:"cols"`
	Datasets map[string]cbor.Tag `cbor:"datasets"`
}

// Info summarizes an artifact without its pixel planes.
type Info struct {
	Detector string
	Created  time.Time
	Frames   uint64
	Rows     int
	Cols     int
	Modes    int
}

// DatasetName returns the canonical dataset name for a gain mode.
func DatasetName(mode int) string {
	return fmt.Sprintf("gain%d", mode)
}

// Write persists a finalized calibration to path. The caller guarantees the
// calibration came from a completed run; partial accumulators are never
// handed to this function.
func Write(path string, detectorName string, frames uint64, cal *dark.Calibration) error {
	datasets := make(map[string]cbor.Tag, cal.Modes)
	for g := 0; g < cal.Modes; g++ {
		tag, err := cborarray.EncodeFloat64(cal.Rows, cal.Cols, cal.Planes[g])
		if err != nil {
			return fmt.Errorf("encode %s: %w", DatasetName(g), err)
		}
		datasets[DatasetName(g)] = tag
	}
	payload, err := cbor.Marshal(container{
		Magic:    artifactMagic,
		Detector: detectorName,
		Created:  time.Now().Unix(),
		Frames:   frames,
		Rows:     cal.Rows,
		Cols:     cal.Cols,
		Datasets: datasets,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// Read loads a calibration artifact. Planes come back indexed by gain mode.
func Read(path string) (*dark.Calibration, *Info, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var c container
	if err := cbor.Unmarshal(payload, &c); err != nil {
		return nil, nil, fmt.Errorf("decode artifact: %w", err)
	}
	if c.Magic != artifactMagic {
		return nil, nil, fmt.Errorf("unexpected artifact magic %q", c.Magic)
	}

	cal := &dark.Calibration{Rows: c.Rows, Cols: c.Cols}
	for mode := 0; ; mode++ {
		tag, ok := c.Datasets[DatasetName(mode)]
		if !ok {
			break
		}
		plane, rows, cols, err := cborarray.DecodeFloat64(tag)
		if err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", DatasetName(mode), err)
		}
		if rows != c.Rows || cols != c.Cols {
			return nil, nil, fmt.Errorf("%s plane is %dx%d, artifact says %dx%d", DatasetName(mode), rows, cols, c.Rows, c.Cols)
		}
		cal.Planes = append(cal.Planes, plane)
	}
	cal.Modes = len(cal.Planes)
	if cal.Modes == 0 {
		return nil, nil, fmt.Errorf("artifact holds no gain datasets")
	}
	info := &Info{
		Detector: c.Detector,
		Created:  time.Unix(c.Created, 0),
		Frames:   c.Frames,
		Rows:     c.Rows,
		Cols:     c.Cols,
		Modes:    cal.Modes,
	}
	return cal, info, nil
}
