package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// Writer implements a Write-Ahead Log for crash-safe sample persistence.
// Each segment file contains a sequence of records with CRC checksums,
// one record per entry.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
//
// Entries at or below the checkpoint are committed and never returned by
// ReadPending, even if their segment still exists.
type Writer struct {
	mu sync.Mutex

	dir            string
	currentSegment *os.File
	currentPath    string
	currentSize    int64
	segmentSeq     int64

	writer *bufio.Writer

	// unflushed holds the records buffered since the last successful flush.
	// They are written again when a failed segment is abandoned.
	unflushed []record

	// nextSeq is the sequence number assigned to the next appended entry.
	nextSeq    uint64
	checkpoint uint64

	// segLast maps a segment path to the highest sequence it holds (0 if none).
	segLast map[string]uint64

	closed bool
	opts   Options
	log    *slog.Logger

	// Statistics
	stats WriterStats
}

// Sync modes.
const (
	SyncAsync = "async" // buffered, flushed by Sync or rotation
	SyncSync  = "sync"  // flushed to the OS after each append
	SyncFsync = "fsync" // flushed and fsynced after each append
)

// Options configures the WAL writer.
type Options struct {
	// MaxSegmentSize is the maximum size of a segment file before rotation.
	// Default: 16MB
	MaxSegmentSize int64

	// SyncMode controls how appends reach the disk: "async", "sync" or "fsync".
	// Default: "sync"
	SyncMode string

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns default WAL options.
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize: 16 * 1024 * 1024,
		SyncMode:       SyncSync,
		BufferSize:     64 * 1024,
	}
}

// WriterStats holds WAL writer statistics.
type WriterStats struct {
	SegmentsCreated int64
	SegmentsDeleted int64
	RecordsWritten  int64
	BytesWritten    int64
	SyncsPerformed  int64
	Errors          int64
	NextSeq         uint64
	Checkpoint      uint64
}

const (
	walMagic         = 0x5649474C57414C01 // "VIGLWAL" + version 1
	walVersion       = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc

	checkpointFile = "checkpoint"
	checkpointSize = 12 // 8 bytes seq + 4 bytes crc
)

type record struct {
	seq  uint64
	data []byte
}

// NewWriter opens the WAL in dir, recovering the sequence counter and the
// checkpoint from disk, and starts a fresh segment.
func NewWriter(dir string, opts Options) (*Writer, error) {
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = DefaultOptions().MaxSegmentSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	switch opts.SyncMode {
	case "":
		opts.SyncMode = SyncSync
	case SyncAsync, SyncSync, SyncFsync:
	default:
		return nil, errors.NewInvalidValue("wal.sync_mode", opts.SyncMode, "must be async, sync or fsync")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	w := &Writer{
		dir:     dir,
		opts:    opts,
		segLast: make(map[string]uint64),
		log:     logging.Component("wal"),
	}

	cp, err := readCheckpoint(dir)
	if err != nil {
		w.log.Warn("ignoring unreadable checkpoint", "error", err)
		cp = 0
	}
	w.checkpoint = cp

	segments, err := w.listSegments()
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	maxSeq := cp
	for _, s := range segments {
		entries, _, err := ReadSegment(s.path)
		if err != nil {
			w.log.Warn("unreadable segment", "path", s.path, "error", err)
		}
		var last uint64
		for _, e := range entries {
			if e.Seq > last {
				last = e.Seq
			}
		}
		w.segLast[s.path] = last
		if last > maxSeq {
			maxSeq = last
		}
	}
	if len(segments) > 0 {
		w.segmentSeq = segments[len(segments)-1].seq + 1
	}
	w.nextSeq = maxSeq + 1

	if err := w.rotateUnlocked(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}

	w.log.Debug("wal opened",
		"dir", dir,
		"segments", len(segments),
		"checkpoint", cp,
		"next_seq", w.nextSeq,
	)

	return w, nil
}

// Append writes one sample to the WAL and returns its sequence number.
// Concurrent callers are serialized.
//
// A failed write or flush abandons the current segment and the next Append
// starts a fresh one. The failed sample's sequence number is never reused;
// if its bytes reached the old segment it is replayed like any other entry.
func (w *Writer) Append(sample types.Sample) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.ErrClosed
	}
	if err := w.ensureSegmentUnlocked(); err != nil {
		return 0, errors.NewTransient("wal reopen", err)
	}

	seq := w.nextSeq
	payload := encodeEntry(types.Entry{Seq: seq, Sample: sample})

	recordSize := int64(recordHeaderSize + len(payload))
	if w.currentSize+recordSize > w.opts.MaxSegmentSize && w.segLast[w.currentPath] > 0 {
		if err := w.rotateUnlocked(); err != nil {
			w.abandonSegmentUnlocked(err)
			return 0, errors.NewTransient("wal rotate", err)
		}
	}

	w.nextSeq++

	if err := w.writeRecord(seq, payload); err != nil {
		w.abandonSegmentUnlocked(err)
		return 0, errors.NewTransient("wal write", err)
	}

	if w.opts.SyncMode != SyncAsync {
		if err := w.syncUnlocked(); err != nil {
			// The caller sees a failure, so the record is not carried over.
			w.unflushed = w.unflushed[:len(w.unflushed)-1]
			return 0, errors.NewTransient("wal sync", err)
		}
	}

	w.segLast[w.currentPath] = seq
	w.stats.RecordsWritten++
	w.stats.BytesWritten += recordSize

	return seq, nil
}

// writeRecord buffers a single record for the current segment.
func (w *Writer) writeRecord(seq uint64, payload []byte) error {
	data := make([]byte, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(data[4:8], crc32.ChecksumIEEE(payload))
	copy(data[recordHeaderSize:], payload)

	if _, err := w.writer.Write(data); err != nil {
		return err
	}

	w.unflushed = append(w.unflushed, record{seq: seq, data: data})
	w.currentSize += int64(len(data))
	return nil
}

// Sync flushes buffered data to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := w.ensureSegmentUnlocked(); err != nil {
		return err
	}
	return w.syncUnlocked()
}

// syncUnlocked flushes the buffer, and fsyncs in fsync mode. On failure the
// segment is abandoned.
func (w *Writer) syncUnlocked() error {
	if err := w.writer.Flush(); err != nil {
		w.abandonSegmentUnlocked(err)
		return err
	}

	if w.opts.SyncMode == SyncFsync {
		if err := w.currentSegment.Sync(); err != nil {
			w.abandonSegmentUnlocked(err)
			return err
		}
	}

	w.unflushed = w.unflushed[:0]
	w.stats.SyncsPerformed++
	return nil
}

// abandonSegmentUnlocked drops the current segment after a failed write.
// bufio.Writer keeps its first error, so the buffer cannot be reused.
// Whatever reached the old file stays there; a torn tail ends that segment
// on read.
func (w *Writer) abandonSegmentUnlocked(cause error) {
	w.stats.Errors++
	w.log.Warn("abandoning wal segment after write failure",
		"path", w.currentPath,
		"carried_over", len(w.unflushed),
		"error", cause,
	)

	if w.currentSegment != nil {
		w.currentSegment.Close()
	}
	w.currentSegment = nil
	w.writer = nil
}

// ensureSegmentUnlocked opens a fresh segment after an abandoned one and
// writes the carried-over records into it.
func (w *Writer) ensureSegmentUnlocked() error {
	if w.writer != nil {
		return nil
	}

	if err := w.rotateUnlocked(); err != nil {
		return err
	}

	for _, r := range w.unflushed {
		if _, err := w.writer.Write(r.data); err != nil {
			w.abandonSegmentUnlocked(err)
			return err
		}
		w.currentSize += int64(len(r.data))
		w.segLast[w.currentPath] = r.seq
	}
	return nil
}

// ReadPending returns every uncommitted entry in sequence order.
// Malformed records are skipped and counted; a torn tail ends its segment.
func (w *Writer) ReadPending() ([]types.Entry, ReadStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var total ReadStats
	if w.closed {
		return nil, total, errors.ErrClosed
	}
	if err := w.ensureSegmentUnlocked(); err != nil {
		return nil, total, errors.NewTransient("wal reopen", err)
	}
	if err := w.syncUnlocked(); err != nil {
		return nil, total, errors.NewTransient("wal flush", err)
	}

	segments, err := w.listSegments()
	if err != nil {
		return nil, total, errors.NewTransient("wal list segments", err)
	}

	var pending []types.Entry
	for _, s := range segments {
		entries, stats, err := ReadSegment(s.path)
		if err != nil {
			if !errors.IsMalformed(err) {
				return nil, total, errors.NewTransient("wal read "+s.path, err)
			}
			w.log.Warn("skipping malformed segment", "path", s.path, "error", err)
			total.CorruptRecords++
			continue
		}
		if stats.CorruptRecords > 0 {
			w.log.Warn("skipped malformed records", "path", s.path, "count", stats.CorruptRecords)
		}
		for _, e := range entries {
			if e.Seq <= w.checkpoint {
				stats.Committed++
				continue
			}
			pending = append(pending, e)
		}
		total.add(stats)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Seq < pending[j].Seq
	})

	// A record carried over from an abandoned segment may also be complete
	// in the old one.
	deduped := pending[:0]
	for _, e := range pending {
		if n := len(deduped); n > 0 && deduped[n-1].Seq == e.Seq {
			total.Duplicates++
			continue
		}
		deduped = append(deduped, e)
	}

	return deduped, total, nil
}

// Truncate marks every entry up to and including upto as committed and
// removes segments that hold nothing newer.
func (w *Writer) Truncate(upto uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrClosed
	}
	if upto <= w.checkpoint {
		return nil
	}
	if upto >= w.nextSeq {
		upto = w.nextSeq - 1
	}

	if err := w.ensureSegmentUnlocked(); err != nil {
		return errors.NewTransient("wal reopen", err)
	}
	if err := w.syncUnlocked(); err != nil {
		return errors.NewTransient("wal flush", err)
	}
	if err := writeCheckpoint(w.dir, upto); err != nil {
		w.stats.Errors++
		return errors.NewTransient("wal checkpoint", err)
	}
	w.checkpoint = upto

	if last := w.segLast[w.currentPath]; last > 0 && last <= upto {
		if err := w.rotateUnlocked(); err != nil {
			w.abandonSegmentUnlocked(err)
			return errors.NewTransient("wal rotate", err)
		}
	}

	for path, last := range w.segLast {
		if path == w.currentPath || last > upto {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.log.Warn("failed to remove segment", "path", path, "error", err)
			continue
		}
		delete(w.segLast, path)
		w.stats.SegmentsDeleted++
	}

	return nil
}

// Rotate closes the current segment and creates a new one.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.ErrClosed
	}
	if err := w.ensureSegmentUnlocked(); err != nil {
		return err
	}
	if err := w.rotateUnlocked(); err != nil {
		w.abandonSegmentUnlocked(err)
		return err
	}
	return nil
}

// rotateUnlocked flushes and closes the current segment, if any, and creates
// the next one.
func (w *Writer) rotateUnlocked() error {
	if w.currentSegment != nil {
		if err := w.writer.Flush(); err != nil {
			return err
		}
		if w.opts.SyncMode == SyncFsync {
			w.currentSegment.Sync()
		}
		w.currentSegment.Close()
		w.currentSegment = nil
		w.writer = nil
		w.unflushed = w.unflushed[:0]
	}

	segmentName := fmt.Sprintf("%016d.wal", w.segmentSeq)
	segmentPath := filepath.Join(w.dir, segmentName)

	f, err := os.OpenFile(segmentPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", segmentPath, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], walMagic)
	binary.LittleEndian.PutUint32(header[8:12], walVersion)

	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(segmentPath)
		return fmt.Errorf("write header: %w", err)
	}

	w.currentSegment = f
	w.currentPath = segmentPath
	w.currentSize = headerSize
	w.writer = bufio.NewWriterSize(f, w.opts.BufferSize)
	w.segLast[segmentPath] = 0
	w.segmentSeq++
	w.stats.SegmentsCreated++

	return nil
}

// Close flushes and closes the WAL writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	firstErr := w.ensureSegmentUnlocked()
	if w.writer != nil {
		if err := w.writer.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.currentSegment != nil {
		if err := w.currentSegment.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := w.currentSegment.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.NextSeq = w.nextSeq
	s.Checkpoint = w.checkpoint
	return s
}

// Checkpoint returns the highest committed sequence.
func (w *Writer) Checkpoint() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkpoint
}

// CurrentSegment returns the current segment path.
func (w *Writer) CurrentSegment() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentPath
}

// segmentInfo holds information about a segment file.
type segmentInfo struct {
	path string
	seq  int64
}

// listSegments returns all segment files in order.
func (w *Writer) listSegments() ([]segmentInfo, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if len(name) != 20 || name[16:] != ".wal" {
			continue
		}

		var seq int64
		if _, err := fmt.Sscanf(name, "%016d.wal", &seq); err != nil {
			continue
		}

		segments = append(segments, segmentInfo{
			path: filepath.Join(w.dir, name),
			seq:  seq,
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].seq < segments[j].seq
	})

	return segments, nil
}

// ListSegments returns all segment file paths in order.
func (w *Writer) ListSegments() ([]string, error) {
	segments, err := w.listSegments()
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(segments))
	for i, s := range segments {
		paths[i] = s.path
	}
	return paths, nil
}

// readCheckpoint returns the persisted watermark, or 0 if none exists.
func readCheckpoint(dir string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, checkpointFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(data) != checkpointSize {
		return 0, errors.NewMalformed("checkpoint", fmt.Errorf("size %d", len(data)))
	}
	if crc32.ChecksumIEEE(data[0:8]) != binary.LittleEndian.Uint32(data[8:12]) {
		return 0, errors.NewMalformed("checkpoint", fmt.Errorf("CRC mismatch"))
	}
	return binary.LittleEndian.Uint64(data[0:8]), nil
}

// writeCheckpoint atomically replaces the watermark file.
func writeCheckpoint(dir string, seq uint64) error {
	var data [checkpointSize]byte
	binary.LittleEndian.PutUint64(data[0:8], seq)
	binary.LittleEndian.PutUint32(data[8:12], crc32.ChecksumIEEE(data[0:8]))

	path := filepath.Join(dir, checkpointFile)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
