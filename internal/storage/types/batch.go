package types

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtxerr/vigil/internal/errors"
)

// Batch accumulates WAL entries until it is sealed.
// After Seal the batch is read-only and safe to share between goroutines.
type Batch struct {
	mu sync.RWMutex

	id        string
	createdAt time.Time
	entries   []Entry
	sealed    bool
}

// NewBatch creates an empty batch with a fresh identifier.
func NewBatch(capacity int) *Batch {
	return NewBatchWithID(uuid.NewString(), capacity)
}

// NewBatchWithID creates an empty batch with the given identifier.
// Used when reconstructing batches from the WAL.
func NewBatchWithID(id string, capacity int) *Batch {
	if capacity < 0 {
		capacity = 0
	}
	return &Batch{
		id:        id,
		createdAt: time.Now(),
		entries:   make([]Entry, 0, capacity),
	}
}

// ID returns the batch identifier.
func (b *Batch) ID() string {
	return b.id
}

// CreatedAt returns when the batch was created.
func (b *Batch) CreatedAt() time.Time {
	return b.createdAt
}

// Add appends an entry. The sample is re-stamped with the batch ID.
func (b *Batch) Add(e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return errors.ErrBatchSealed
	}
	e.Sample.BatchID = b.id
	b.entries = append(b.entries, e)
	return nil
}

// Seal makes the batch read-only.
func (b *Batch) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// Sealed reports whether the batch is read-only.
func (b *Batch) Sealed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sealed
}

// Len returns the number of entries in the batch.
func (b *Batch) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Entries returns a copy of the entries in append order.
func (b *Batch) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Samples returns a copy of the samples in append order.
func (b *Batch) Samples() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Sample, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.Sample
	}
	return out
}

// FirstSeq returns the lowest WAL sequence in the batch, or 0 if empty.
func (b *Batch) FirstSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return 0
	}
	return b.entries[0].Seq
}

// LastSeq returns the highest WAL sequence in the batch, or 0 if empty.
func (b *Batch) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return 0
	}
	return b.entries[len(b.entries)-1].Seq
}

// GroupEntries rebuilds sealed batches from WAL entries in sequence order.
// Consecutive entries sharing a batch ID form one batch.
func GroupEntries(entries []Entry) []*Batch {
	var batches []*Batch
	var current *Batch

	for _, e := range entries {
		if current == nil || current.id != e.Sample.BatchID {
			if current != nil {
				current.Seal()
				batches = append(batches, current)
			}
			current = NewBatchWithID(e.Sample.BatchID, 0)
		}
		current.entries = append(current.entries, e)
	}
	if current != nil {
		current.Seal()
		batches = append(batches, current)
	}

	return batches
}
