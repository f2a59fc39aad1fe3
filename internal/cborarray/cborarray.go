// Package cborarray encodes and decodes 2D numeric arrays as RFC 8746
// CBOR typed arrays wrapped in multi-dimensional tag 40. This is the wire
// convention shared by dark-run containers, live detector streams, and
// calibration artifacts.
package cborarray

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Vendor tag 56500 marks bitshuffle-LZ4 payloads from detector firmware;
// this pipeline does not link the vendor codec and rejects such payloads
// with a clear error.
const (
	tagMultiDimArray = 40
	tagUint16LE      = 69
	tagFloat64LE     = 86
	tagVendorPacked  = 56500
)

// ErrVendorPacked reports a payload compressed with the unsupported vendor
// codec.
var ErrVendorPacked = errors.New("vendor-compressed payloads are not supported")

// EncodeUint16 wraps a row-major uint16 array into a tag-40 value.
func EncodeUint16(rows, cols int, data []uint16) (cbor.Tag, error) {
	if rows*cols != len(data) {
		return cbor.Tag{}, fmt.Errorf("dimension mismatch: %dx%d vs %d values", rows, cols, len(data))
	}
	raw := make([]byte, 2*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint16(raw[i*2:], v)
	}
	return cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{rows, cols},
			cbor.Tag{Number: tagUint16LE, Content: raw},
		},
	}, nil
}

// EncodeFloat64 wraps a row-major float64 array into a tag-40 value.
func EncodeFloat64(rows, cols int, data []float64) (cbor.Tag, error) {
	if rows*cols != len(data) {
		return cbor.Tag{}, fmt.Errorf("dimension mismatch: %dx%d vs %d values", rows, cols, len(data))
	}
	raw := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{rows, cols},
			cbor.Tag{Number: tagFloat64LE, Content: raw},
		},
	}, nil
}

// DecodeUint16 unwraps a tag-40 uint16 array into row-major values.
func DecodeUint16(value any) ([]uint16, int, int, error) {
	rows, cols, payload, err := decodeMultiDim(value)
	if err != nil {
		return nil, 0, 0, err
	}
	raw, err := extractBytes(payload, tagUint16LE)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(raw) != 2*rows*cols {
		return nil, 0, 0, fmt.Errorf("typed array holds %d bytes for %dx%d uint16", len(raw), rows, cols)
	}
	out := make([]uint16, rows*cols)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return out, rows, cols, nil
}

// DecodeFloat64 unwraps a tag-40 float64 array into row-major values.
func DecodeFloat64(value any) ([]float64, int, int, error) {
	rows, cols, payload, err := decodeMultiDim(value)
	if err != nil {
		return nil, 0, 0, err
	}
	raw, err := extractBytes(payload, tagFloat64LE)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(raw) != 8*rows*cols {
		return nil, 0, 0, fmt.Errorf("typed array holds %d bytes for %dx%d float64", len(raw), rows, cols)
	}
	out := make([]float64, rows*cols)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, rows, cols, nil
}

func decodeMultiDim(value any) (rows, cols int, payload cbor.Tag, err error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return 0, 0, cbor.Tag{}, errors.New("expected multidim tag 40")
	}
	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return 0, 0, cbor.Tag{}, errors.New("invalid multidim array content")
	}
	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return 0, 0, cbor.Tag{}, errors.New("invalid multidim dimensions")
	}
	rows, err = toInt(dimsRaw[0])
	if err != nil {
		return 0, 0, cbor.Tag{}, err
	}
	cols, err = toInt(dimsRaw[1])
	if err != nil {
		return 0, 0, cbor.Tag{}, err
	}
	payload, ok = items[1].(cbor.Tag)
	if !ok {
		return 0, 0, cbor.Tag{}, errors.New("expected typed array tag")
	}
	return rows, cols, payload, nil
}

func extractBytes(tag cbor.Tag, want uint64) ([]byte, error) {
	if tag.Number != want {
		if tag.Number == tagVendorPacked {
			return nil, ErrVendorPacked
		}
		return nil, fmt.Errorf("unsupported typed array tag %d (want %d)", tag.Number, want)
	}
	switch v := tag.Content.(type) {
	case []byte:
		return v, nil
	case cbor.Tag:
		if v.Number == tagVendorPacked {
			return nil, ErrVendorPacked
		}
		return nil, fmt.Errorf("unsupported nested tag %d", v.Number)
	default:
		return nil, fmt.Errorf("unsupported typed array content %T", v)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}
