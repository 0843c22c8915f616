package wal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// Entry encoding format (binary, little-endian):
// - Seq (8 bytes)
// - TimestampMs (8 bytes)
// - Metric length (2 bytes) + Metric string
// - Value (8 bytes, float64)
// - BatchID length (2 bytes) + BatchID string

// encodeEntry encodes a single WAL entry.
func encodeEntry(e types.Entry) []byte {
	s := e.Sample
	buf := make([]byte, 0, 8+8+2+len(s.Metric)+8+2+len(s.BatchID))

	buf = binary.LittleEndian.AppendUint64(buf, e.Seq)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.TimestampMs))
	buf = appendString(buf, string(s.Metric))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(s.Value))
	buf = appendString(buf, s.BatchID)

	return buf
}

// decodeEntry decodes a payload produced by encodeEntry.
// Any structural problem or an unknown metric yields a malformed-record error.
func decodeEntry(data []byte) (types.Entry, error) {
	var e types.Entry
	var err error

	if len(data) < 16 {
		return e, errors.NewMalformed("wal entry", fmt.Errorf("payload too short: %d bytes", len(data)))
	}
	e.Seq = binary.LittleEndian.Uint64(data[0:8])
	e.Sample.TimestampMs = int64(binary.LittleEndian.Uint64(data[8:16]))
	offset := 16

	var metric string
	metric, offset, err = readString(data, offset)
	if err != nil {
		return e, errors.NewMalformed("wal entry metric", err)
	}
	e.Sample.Metric, err = types.ParseMetricType(metric)
	if err != nil {
		return e, errors.NewMalformed(fmt.Sprintf("wal entry %d", e.Seq), err)
	}

	if offset+8 > len(data) {
		return e, errors.NewMalformed("wal entry value", fmt.Errorf("data too short"))
	}
	e.Sample.Value = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	e.Sample.BatchID, offset, err = readString(data, offset)
	if err != nil {
		return e, errors.NewMalformed("wal entry batch id", err)
	}

	if offset != len(data) {
		return e, errors.NewMalformed("wal entry", fmt.Errorf("%d trailing bytes", len(data)-offset))
	}
	if e.Seq == 0 {
		return e, errors.NewMalformed("wal entry", fmt.Errorf("zero sequence"))
	}

	return e, nil
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	s := string(data[offset : offset+length])
	return s, offset + length, nil
}
