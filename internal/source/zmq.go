package source

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"github.com/omdevteam/om-sub004/internal/cborarray"
	"github.com/omdevteam/om-sub004/internal/detector"
)

// LiveFrame is one frame received from a detector stream.
type LiveFrame struct {
	FrameID int
	Raw     detector.RawFrame
	Meta    FrameMetadata
}

// Stream connects a PULL socket to a detector endpoint and yields decoded
// frames until the context is cancelled. Messages are the same CBOR image
// records the darklog container stores. Malformed messages are logged and
// skipped; the stream keeps running.
func Stream(ctx context.Context, endpoint string, model *detector.Model, logger *zap.Logger) (<-chan LiveFrame, error) {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}

	out := make(chan LiveFrame, 128)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				logger.Warn("stream recv error", zap.Error(err))
				continue
			}
			frame, ok := decodeLiveFrame(msg, model, logger)
			if !ok {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- frame:
			}
		}
	}()
	return out, nil
}

// Capture buffers a fixed number of live frames into a memory-backed
// source, e.g. to record a dark run directly off the detector stream.
func Capture(ctx context.Context, endpoint string, model *detector.Model, frames int, logger *zap.Logger) (*MemorySource, error) {
	if frames < 1 {
		return nil, fmt.Errorf("invalid capture frame count %d", frames)
	}
	stream, err := Stream(ctx, endpoint, model, logger)
	if err != nil {
		return nil, err
	}
	raws := make([]detector.RawFrame, 0, frames)
	meta := make([]FrameMetadata, 0, frames)
	for len(raws) < frames {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case frame, ok := <-stream:
			if !ok {
				return nil, fmt.Errorf("stream closed after %d of %d frames", len(raws), frames)
			}
			raws = append(raws, frame.Raw)
			meta = append(meta, frame.Meta)
		}
	}
	return NewMemorySource(raws, meta), nil
}

func decodeLiveFrame(msg []byte, model *detector.Model, logger *zap.Logger) (LiveFrame, bool) {
	var record map[string]any
	if err := cbor.Unmarshal(msg, &record); err != nil {
		logger.Warn("stream CBOR decode error", zap.Error(err))
		return LiveFrame{}, false
	}
	msgType, _ := record["type"].(string)
	if msgType != "image" {
		logger.Debug("stream ignoring message", zap.String("type", msgType))
		return LiveFrame{}, false
	}

	frameID := 0
	if v, ok := record["frame_id"]; ok {
		if n, err := toInt(v); err == nil {
			frameID = n
		}
	}

	data, ok := asStringMap(record["data"])
	if !ok || len(data) == 0 {
		logger.Warn("stream message missing data block", zap.Int("frame_id", frameID))
		return LiveFrame{}, false
	}
	// Live streams carry one dataset per panel assembly.
	var array any
	for _, v := range data {
		array = v
		break
	}
	values, rows, cols, err := cborarray.DecodeUint16(array)
	if err != nil {
		logger.Warn("stream frame decode error", zap.Int("frame_id", frameID), zap.Error(err))
		return LiveFrame{}, false
	}
	if rows != model.Panels*model.PanelRows || cols != model.PanelCols {
		logger.Warn("stream frame shape mismatch",
			zap.Int("frame_id", frameID),
			zap.String("got", fmt.Sprintf("%dx%d", rows, cols)),
			zap.String("want", model.NativeShape()))
		return LiveFrame{}, false
	}

	meta := FrameMetadata{Header: decodeHeader(record["header"])}
	if ts, ok := record["timestamp"]; ok {
		if v, err := toFloat(ts); err == nil {
			meta.Timestamp = v
		}
	}
	return LiveFrame{
		FrameID: frameID,
		Raw: detector.RawFrame{
			Panels: model.Panels,
			Rows:   model.PanelRows,
			Cols:   model.PanelCols,
			Data:   values,
		},
		Meta: meta,
	}, true
}
