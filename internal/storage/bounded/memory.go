package bounded

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/storage/compaction"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// Memory is an in-process backend with the same semantics as DuckDB.
// A single mutex makes each Insert atomic with respect to readers.
type Memory struct {
	mu sync.RWMutex

	cfg Config
	log *slog.Logger

	rows      []activeRow
	keys      map[string]struct{}
	ledger    map[string]struct{}
	archives  []types.ArchivedRecord
	archived  int
	nextIns   int64
	nextArcID int64
	closed    bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory(cfg Config) (*Memory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Memory{
		cfg:       cfg,
		log:       logging.Component("bounded"),
		keys:      make(map[string]struct{}),
		ledger:    make(map[string]struct{}),
		nextIns:   1,
		nextArcID: 1,
	}, nil
}

// Insert commits a sealed batch and compacts overflow.
func (m *Memory) Insert(ctx context.Context, batch *types.Batch) (InsertResult, error) {
	var res InsertResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return res, errors.ErrClosed
	}

	if _, ok := m.ledger[batch.ID()]; ok {
		res.AlreadyCommitted = true
		res.ActiveCount = len(m.rows)
		return res, nil
	}

	rows, rejected, dups := prepareRows(batch)
	res.Rejected = rejected
	res.Duplicates = dups

	// Stage everything so a failed encode leaves the store untouched.
	staged := make([]activeRow, len(m.rows), len(m.rows)+len(rows))
	copy(staged, m.rows)
	nextIns := m.nextIns
	var newKeys []string
	for _, s := range rows {
		key := s.Key()
		if _, ok := m.keys[key]; ok {
			res.Duplicates++
			continue
		}
		staged = append(staged, activeRow{sample: s, ins: nextIns})
		newKeys = append(newKeys, key)
		nextIns++
		res.Inserted++
	}

	plan := m.cfg.Policy.Plan(len(staged), m.cfg.MaxEntries, m.cfg.BatchSize)
	var newArchives []types.ArchivedRecord
	var evicted []string
	if len(plan) > 0 {
		sortOldest(staged)
		now := time.Now().UTC()
		arcID := m.nextArcID
		for _, n := range plan {
			chunk := make([]types.Sample, n)
			for i := 0; i < n; i++ {
				chunk[i] = staged[i].sample
				evicted = append(evicted, staged[i].sample.Key())
			}
			blob, err := m.cfg.Codec.Encode(chunk)
			if err != nil {
				return InsertResult{}, err
			}
			newArchives = append(newArchives, types.ArchivedRecord{
				ID:          arcID,
				ArchivedAt:  now,
				SampleCount: n,
				Blob:        blob,
			})
			arcID++
			staged = staged[n:]
			res.ArchiveRecords++
			res.Archived += n
		}
	}

	// Commit.
	for _, k := range newKeys {
		m.keys[k] = struct{}{}
	}
	for _, k := range evicted {
		delete(m.keys, k)
	}
	m.rows = staged
	m.nextIns = nextIns
	m.nextArcID += int64(len(newArchives))
	m.archives = append(m.archives, newArchives...)
	m.archived += res.Archived
	m.ledger[batch.ID()] = struct{}{}
	res.ActiveCount = len(m.rows)

	if res.Archived > 0 {
		m.log.Debug("compacted active store",
			"batch_id", batch.ID(),
			"plan", compaction.Describe(plan),
			"active", res.ActiveCount,
		)
	}

	return res, nil
}

// Count returns the number of active rows.
func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, errors.ErrClosed
	}
	return len(m.rows), nil
}

// Query returns the most recent active samples in ascending time order.
func (m *Memory) Query(ctx context.Context, q Query) ([]types.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.ErrClosed
	}

	var matched []activeRow
	for _, r := range m.rows {
		if q.Metric != "" && r.sample.Metric != q.Metric {
			continue
		}
		if q.SinceMs > 0 && r.sample.TimestampMs <= q.SinceMs {
			continue
		}
		matched = append(matched, r)
	}
	sortOldest(matched)

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[len(matched)-q.Limit:]
	}

	out := make([]types.Sample, len(matched))
	for i, r := range matched {
		out[i] = r.sample
	}
	return out, nil
}

// Archives returns all archived records in creation order.
func (m *Memory) Archives(ctx context.Context) ([]types.ArchivedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.ErrClosed
	}
	out := make([]types.ArchivedRecord, len(m.archives))
	copy(out, m.archives)
	return out, nil
}

// ArchivedSampleCount returns the number of samples held in archived records.
func (m *Memory) ArchivedSampleCount(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, errors.ErrClosed
	}
	return m.archived, nil
}

// Close releases the backend.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
