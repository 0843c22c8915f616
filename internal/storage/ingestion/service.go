// Package ingestion implements the batch flusher.
//
// Samples flow: Ingest → WAL → current batch → sealed queue → bounded store.
// A batch is sealed when it reaches the batch size or when the flush timer
// fires. Sealed batches are committed in order by a single committer; the WAL
// is truncated only after the store has accepted a batch.
package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/storage/bounded"
	"github.com/xtxerr/vigil/internal/storage/config"
	"github.com/xtxerr/vigil/internal/storage/types"
	"github.com/xtxerr/vigil/internal/storage/wal"
	"github.com/xtxerr/vigil/internal/telemetry"
)

// Store accepts sealed batches. bounded.Backend satisfies it.
type Store interface {
	Insert(ctx context.Context, batch *types.Batch) (bounded.InsertResult, error)
}

// CommitFunc observes a batch after it was committed and its WAL range truncated.
type CommitFunc func(batch *types.Batch, res bounded.InsertResult)

// Service orchestrates the ingestion pipeline.
type Service struct {
	// mu guards WAL append, the current batch and the sealed queue.
	mu sync.Mutex

	// commitMu serializes commits between the committer and Stop.
	commitMu sync.Mutex

	config *config.Config
	log    *slog.Logger

	wal   *wal.Writer
	store Store

	current      *types.Batch
	currentSince time.Time
	queue        []*types.Batch
	observers    []CommitFunc

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats

	// Channels
	commitCh chan struct{}
}

// Stats holds ingestion statistics.
type Stats struct {
	SamplesIngested  atomic.Int64
	SamplesRejected  atomic.Int64
	BatchesSealed    atomic.Int64
	BatchesCommitted atomic.Int64
	BatchesReplayed  atomic.Int64
	CommitRetries    atomic.Int64
	CommitFailures   atomic.Int64
	ActiveCount      atomic.Int64
	Errors           atomic.Int64
}

// New opens the WAL and creates an ingestion service committing to store.
func New(cfg *config.Config, store Store) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cfg.Ingestion.BatchSize <= 0 {
		return nil, errors.NewValidation("ingestion.batch_size", "must be positive")
	}
	if cfg.Ingestion.Flush.Interval <= 0 {
		return nil, errors.NewValidation("ingestion.flush.interval", "must be positive")
	}
	if store == nil {
		return nil, errors.NewMissingField("store")
	}

	walOpts := wal.DefaultOptions()
	walOpts.SyncMode = cfg.Ingestion.WAL.SyncMode
	if cfg.Ingestion.WAL.MaxSegmentSize > 0 {
		walOpts.MaxSegmentSize = cfg.Ingestion.WAL.MaxSegmentSize
	}

	walWriter, err := wal.NewWriter(cfg.WALDir(), walOpts)
	if err != nil {
		return nil, errors.Wrap(err, "create WAL writer")
	}

	return &Service{
		config:   cfg,
		log:      logging.Component("ingestion"),
		wal:      walWriter,
		store:    store,
		current:  types.NewBatch(cfg.Ingestion.BatchSize),
		commitCh: make(chan struct{}, 1),
	}, nil
}

// OnCommit registers fn to run after every committed batch.
// Observers run on the committer goroutine and must not block.
func (s *Service) OnCommit(fn CommitFunc) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Start replays the WAL and starts the flush and commit workers.
// Replayed batches are committed before Start returns; if the store is
// unavailable they stay queued and the committer keeps retrying.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	if err := s.replay(ctx); err != nil {
		s.running.Store(false)
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.commitPending(ctx); err != nil {
		s.log.Warn("replayed batches not committed yet", "error", err, "pending", s.Pending())
	}

	s.wg.Add(2)
	go s.flushWorker()
	go s.commitWorker()

	return nil
}

// replay queues every WAL entry left by a previous run.
func (s *Service) replay(ctx context.Context) error {
	entries, stats, err := s.wal.ReadPending()
	if err != nil {
		return errors.Wrap(err, "read pending WAL entries")
	}

	telemetry.WALMalformedRecords.Add(float64(stats.CorruptRecords))
	telemetry.WALTornTails.Add(float64(stats.TornTails))

	batches := types.GroupEntries(entries)
	if len(batches) == 0 {
		return nil
	}

	s.mu.Lock()
	s.queue = append(s.queue, batches...)
	s.mu.Unlock()

	s.stats.BatchesReplayed.Add(int64(len(batches)))
	telemetry.BatchesReplayed.Add(float64(len(batches)))

	logging.FromContext(ctx, s.log).Info("replaying WAL",
		"entries", len(entries),
		"batches", len(batches),
		"corrupt_records", stats.CorruptRecords,
		"torn_tails", stats.TornTails,
	)
	return nil
}

// Stop seals the current batch, drains the queue within the configured
// drain timeout and closes the WAL. Batches that could not be committed stay
// in the WAL and are replayed on the next Start.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running.Swap(false)
	if wasRunning {
		s.sealLocked()
	}
	s.mu.Unlock()

	if !wasRunning {
		return s.wal.Close()
	}

	s.cancel()
	s.wg.Wait()

	drainCtx, cancel := context.WithTimeout(ctx, s.config.Ingestion.DrainTimeout)
	defer cancel()

	drainErr := s.commitPending(drainCtx)
	if drainErr != nil {
		s.log.Error("drain incomplete, batches remain in WAL",
			"error", drainErr,
			"pending", s.Pending(),
		)
	}

	if err := s.wal.Close(); err != nil {
		return errors.Join(drainErr, errors.Wrap(err, "close WAL"))
	}
	return drainErr
}

// Ingest appends sample to the WAL and adds it to the current batch.
// It returns the WAL sequence once the sample is durable per the sync mode.
// Malformed samples are rejected without touching the WAL.
func (s *Service) Ingest(ctx context.Context, sample types.Sample) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := sample.Validate(); err != nil {
		s.stats.SamplesRejected.Add(1)
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return 0, errors.ErrNotRunning
	}

	sample.BatchID = s.current.ID()
	seq, err := s.wal.Append(sample)
	if err != nil {
		s.stats.Errors.Add(1)
		telemetry.WALAppendErrors.Inc()
		return 0, err
	}

	if s.current.Len() == 0 {
		s.currentSince = time.Now()
	}
	if err := s.current.Add(types.Entry{Seq: seq, Sample: sample}); err != nil {
		// The current batch is never sealed while mu is held by Ingest.
		return 0, err
	}

	s.stats.SamplesIngested.Add(1)
	telemetry.SamplesIngested.Inc()

	if s.current.Len() >= s.config.Ingestion.BatchSize {
		s.sealLocked()
	}

	return seq, nil
}

// Flush seals the current batch and wakes the committer.
func (s *Service) Flush() {
	s.mu.Lock()
	s.sealLocked()
	s.mu.Unlock()
}

// sealLocked moves a non-empty current batch to the queue and swaps in a fresh one.
func (s *Service) sealLocked() {
	if s.current.Len() == 0 {
		return
	}

	s.current.Seal()
	s.queue = append(s.queue, s.current)
	s.current = types.NewBatch(s.config.Ingestion.BatchSize)
	s.currentSince = time.Time{}
	s.stats.BatchesSealed.Add(1)

	s.signalCommit()
}

func (s *Service) signalCommit() {
	select {
	case s.commitCh <- struct{}{}:
	default:
		// Commit already pending
	}
}

// flushWorker seals aged batches and syncs the WAL on every tick.
func (s *Service) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Ingestion.Flush.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Service) onTick() {
	if err := s.wal.Sync(); err != nil && !errors.Is(err, errors.ErrClosed) {
		s.stats.Errors.Add(1)
		s.log.Warn("WAL sync failed", "error", err)
	}

	s.mu.Lock()
	if s.current.Len() > 0 && time.Since(s.currentSince) >= s.config.Ingestion.Flush.Interval {
		s.sealLocked()
	}
	pending := len(s.queue)
	s.mu.Unlock()

	// Retry batches left at the head by an exhausted commit.
	if pending > 0 {
		s.signalCommit()
	}
}

// commitWorker commits sealed batches as they arrive.
func (s *Service) commitWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.commitCh:
			if err := s.commitPending(s.ctx); err != nil && s.ctx.Err() == nil {
				s.log.Error("commit failed, batch kept for retry", "error", err, "pending", s.Pending())
			}
		}
	}
}

// commitPending commits queued batches in order until the queue is empty or
// a commit fails. A failed batch stays at the head of the queue.
func (s *Service) commitPending(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		head := s.queue[0]
		s.mu.Unlock()

		res, err := s.commitBatch(ctx, head)
		if err != nil {
			return err
		}

		// The store has the batch; a failed truncate only means it is replayed
		// and skipped by the commit ledger.
		if err := s.wal.Truncate(head.LastSeq()); err != nil {
			s.stats.Errors.Add(1)
			s.log.Warn("WAL truncate failed", "batch_id", head.ID(), "upto", head.LastSeq(), "error", err)
		}

		s.mu.Lock()
		s.queue = s.queue[1:]
		observers := s.observers
		s.mu.Unlock()

		for _, fn := range observers {
			fn(head, res)
		}
	}
}

// commitBatch inserts batch with bounded exponential backoff.
func (s *Service) commitBatch(ctx context.Context, batch *types.Batch) (bounded.InsertResult, error) {
	log := logging.FromContext(logging.ContextWithBatchID(ctx, batch.ID()), s.log)
	retry := s.config.Ingestion.Flush.Retry

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retry.InitialInterval
	b.MaxInterval = retry.MaxInterval
	b.Multiplier = retry.Multiplier

	op := func() (bounded.InsertResult, error) {
		res, err := s.store.Insert(ctx, batch)
		if err != nil && !errors.IsRetriable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		s.stats.CommitRetries.Add(1)
		telemetry.CommitRetries.Inc()
		log.Warn("commit failed, retrying", "error", err, "next", next)
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(retry.MaxAttempts),
		backoff.WithNotify(notify),
	)
	if err != nil {
		s.stats.CommitFailures.Add(1)
		telemetry.CommitFailures.Inc()
		return res, errors.Wrapf(err, "commit batch %s", batch.ID())
	}

	s.stats.BatchesCommitted.Add(1)
	s.stats.ActiveCount.Store(int64(res.ActiveCount))
	telemetry.BatchesCommitted.Inc()
	telemetry.ActiveRows.Set(float64(res.ActiveCount))
	telemetry.RejectedSamples.Add(float64(res.Rejected))
	telemetry.ArchivedSamples.Add(float64(res.Archived))
	telemetry.ArchiveRecords.Add(float64(res.ArchiveRecords))

	if res.AlreadyCommitted {
		log.Info("batch already committed, skipped")
	} else {
		log.Debug("batch committed",
			"inserted", res.Inserted,
			"duplicates", res.Duplicates,
			"rejected", res.Rejected,
			"archived", res.Archived,
			"active", res.ActiveCount,
		)
	}

	return res, nil
}

// Pending returns the number of sealed batches awaiting commit.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	walStats := s.wal.Stats()

	s.mu.Lock()
	pending := len(s.queue)
	current := s.current.Len()
	s.mu.Unlock()

	return ServiceStats{
		Running:          s.running.Load(),
		SamplesIngested:  s.stats.SamplesIngested.Load(),
		SamplesRejected:  s.stats.SamplesRejected.Load(),
		BatchesSealed:    s.stats.BatchesSealed.Load(),
		BatchesCommitted: s.stats.BatchesCommitted.Load(),
		BatchesReplayed:  s.stats.BatchesReplayed.Load(),
		CommitRetries:    s.stats.CommitRetries.Load(),
		CommitFailures:   s.stats.CommitFailures.Load(),
		Errors:           s.stats.Errors.Load(),
		PendingBatches:   pending,
		CurrentBatchLen:  current,
		ActiveCount:      s.stats.ActiveCount.Load(),
		WALSegments:      walStats.SegmentsCreated,
		WALBytesWritten:  walStats.BytesWritten,
		WALCheckpoint:    walStats.Checkpoint,
	}
}

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running          bool
	SamplesIngested  int64
	SamplesRejected  int64
	BatchesSealed    int64
	BatchesCommitted int64
	BatchesReplayed  int64
	CommitRetries    int64
	CommitFailures   int64
	Errors           int64
	PendingBatches   int
	CurrentBatchLen  int
	ActiveCount      int64
	WALSegments      int64
	WALBytesWritten  int64
	WALCheckpoint    uint64
}
