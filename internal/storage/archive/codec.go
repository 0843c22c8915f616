// Package archive encodes groups of evicted samples into compact blobs.
//
// A blob is a protobuf-framed list of samples compressed with zstd:
//
//	message Archive { repeated Sample samples = 1; }
//	message Sample  { int64 ts_ms = 1; string metric = 2; double value = 3; string batch_id = 4; }
//
// Encoding is deterministic: decoding a blob and encoding the result yields
// the same bytes.
package archive

import (
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

const (
	fieldSample = 1

	fieldTimestamp = 1
	fieldMetric    = 2
	fieldValue     = 3
	fieldBatchID   = 4
)

// Level is the zstd compression level used for blobs.
type Level string

const (
	LevelFastest Level = "fastest"
	LevelDefault Level = "default"
	LevelBetter  Level = "better"
	LevelBest    Level = "best"
)

// ParseLevel parses a compression level name. The empty string selects LevelDefault.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case "", LevelDefault:
		return LevelDefault, nil
	case LevelFastest, LevelBetter, LevelBest:
		return Level(s), nil
	default:
		return "", errors.NewInvalidValue("archive_level", s, "must be fastest, default, better or best")
	}
}

func (l Level) encoderLevel() zstd.EncoderLevel {
	switch l {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetter:
		return zstd.SpeedBetterCompression
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Codec encodes and decodes archive blobs. It is safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec compressing at level.
func NewCodec(level Level) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level.encoderLevel()),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Encode serializes and compresses samples, preserving their order.
func (c *Codec) Encode(samples []types.Sample) ([]byte, error) {
	var buf []byte
	for _, s := range samples {
		if !s.Metric.Valid() {
			return nil, errors.NewMalformed("archive sample", fmt.Errorf("metric %q: %w", s.Metric, errors.ErrUnknownMetric))
		}
		buf = protowire.AppendTag(buf, fieldSample, protowire.BytesType)
		buf = protowire.AppendBytes(buf, appendSample(nil, s))
	}
	return c.encoder.EncodeAll(buf, nil), nil
}

// Decode decompresses and parses a blob produced by Encode.
func (c *Codec) Decode(blob []byte) ([]types.Sample, error) {
	raw, err := c.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, errors.NewMalformed("archive blob", err)
	}

	var samples []types.Sample
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return nil, errors.NewMalformed("archive blob", protowire.ParseError(n))
		}
		raw = raw[n:]

		if num != fieldSample || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return nil, errors.NewMalformed("archive blob", protowire.ParseError(n))
			}
			raw = raw[n:]
			continue
		}

		msg, n := protowire.ConsumeBytes(raw)
		if n < 0 {
			return nil, errors.NewMalformed("archive blob", protowire.ParseError(n))
		}
		raw = raw[n:]

		s, err := consumeSample(msg)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	return samples, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

func appendSample(b []byte, s types.Sample) []byte {
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.TimestampMs))
	b = protowire.AppendTag(b, fieldMetric, protowire.BytesType)
	b = protowire.AppendString(b, string(s.Metric))
	b = protowire.AppendTag(b, fieldValue, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.Value))
	if s.BatchID != "" {
		b = protowire.AppendTag(b, fieldBatchID, protowire.BytesType)
		b = protowire.AppendString(b, s.BatchID)
	}
	return b
}

func consumeSample(b []byte) (types.Sample, error) {
	var s types.Sample
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, errors.NewMalformed("archive sample", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, errors.NewMalformed("archive sample timestamp", protowire.ParseError(n))
			}
			s.TimestampMs = int64(v)
			b = b[n:]
		case num == fieldMetric && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, errors.NewMalformed("archive sample metric", protowire.ParseError(n))
			}
			m, err := types.ParseMetricType(v)
			if err != nil {
				return s, errors.NewMalformed("archive sample", err)
			}
			s.Metric = m
			b = b[n:]
		case num == fieldValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return s, errors.NewMalformed("archive sample value", protowire.ParseError(n))
			}
			s.Value = math.Float64frombits(v)
			b = b[n:]
		case num == fieldBatchID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, errors.NewMalformed("archive sample batch id", protowire.ParseError(n))
			}
			s.BatchID = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, errors.NewMalformed("archive sample", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if s.Metric == "" {
		return s, errors.NewMalformed("archive sample", fmt.Errorf("missing metric"))
	}
	return s, nil
}
