package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// maxRecordSize bounds a single record. A larger length prefix can only come
// from a torn or corrupt write.
const maxRecordSize = 1 << 20

// Reader reads entries from a WAL segment file.
type Reader struct {
	path string
	file *os.File
	buf  *bufio.Reader

	// Statistics
	stats ReadStats
}

// ReadStats holds WAL read statistics.
type ReadStats struct {
	Segments       int
	RecordsRead    int64
	BytesRead      int64
	Committed      int64 // entries at or below the checkpoint
	CorruptRecords int64
	Duplicates     int64 // entries present in more than one segment
	TornTails      int
}

func (s *ReadStats) add(o ReadStats) {
	s.Segments += o.Segments
	s.RecordsRead += o.RecordsRead
	s.BytesRead += o.BytesRead
	s.Committed += o.Committed
	s.CorruptRecords += o.CorruptRecords
	s.Duplicates += o.Duplicates
	s.TornTails += o.TornTails
}

// errEmptySegment reports a segment that was created but never received a header.
var errEmptySegment = fmt.Errorf("empty segment")

// NewReader creates a new WAL reader for a segment file.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	r := &Reader{
		path: path,
		file: f,
		buf:  bufio.NewReader(f),
	}

	// Verify header
	var header [headerSize]byte
	if _, err := io.ReadFull(r.buf, header[:]); err != nil {
		f.Close()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errEmptySegment
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		f.Close()
		return nil, errors.NewMalformed(path, fmt.Errorf("invalid magic: expected %x, got %x", walMagic, magic))
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		f.Close()
		return nil, errors.NewMalformed(path, fmt.Errorf("unsupported version: %d", version))
	}

	return r, nil
}

// ReadEntry reads the next entry from the segment.
//
// It returns io.EOF at a clean end of segment and io.ErrUnexpectedEOF at a
// torn tail. A record whose checksum or payload is bad returns a
// malformed-record error; the reader stays positioned at the next record.
func (r *Reader) ReadEntry() (types.Entry, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.buf, header[:]); err != nil {
		if err == io.EOF {
			return types.Entry{}, io.EOF
		}
		return types.Entry{}, io.ErrUnexpectedEOF
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length > maxRecordSize {
		// The length prefix itself is unusable, so nothing after it can be framed.
		return types.Entry{}, io.ErrUnexpectedEOF
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.buf, payload); err != nil {
		return types.Entry{}, io.ErrUnexpectedEOF
	}
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return types.Entry{}, errors.NewMalformed("wal record",
			fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actualCRC))
	}

	e, err := decodeEntry(payload)
	if err != nil {
		return types.Entry{}, err
	}

	r.stats.RecordsRead++
	return e, nil
}

// ReadAll reads every intact entry in the segment, skipping malformed records
// and stopping at a torn tail.
func (r *Reader) ReadAll() ([]types.Entry, error) {
	var entries []types.Entry

	for {
		e, err := r.ReadEntry()
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			r.stats.TornTails++
			break
		}
		if err != nil {
			if errors.IsMalformed(err) {
				r.stats.CorruptRecords++
				continue
			}
			return entries, err
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReadStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment is a convenience function to read all entries from a segment file.
func ReadSegment(path string) ([]types.Entry, ReadStats, error) {
	r, err := NewReader(path)
	if err == errEmptySegment {
		return nil, ReadStats{Segments: 1, TornTails: 1}, nil
	}
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer r.Close()

	entries, err := r.ReadAll()
	stats := r.Stats()
	stats.Segments = 1
	return entries, stats, err
}
