package testing

import (
	"context"
	"sync"
	"time"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/bounded"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// BaseTime is the first timestamp used by generated samples.
var BaseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Samples returns one sample per value, one second apart starting at BaseTime.
func Samples(metric types.MetricType, values ...float64) []types.Sample {
	out := make([]types.Sample, len(values))
	for i, v := range values {
		out[i] = types.NewSample(BaseTime.Add(time.Duration(i)*time.Second), metric, v)
	}
	return out
}

// Inserter is the write side of a bounded store.
type Inserter interface {
	Insert(ctx context.Context, batch *types.Batch) (bounded.InsertResult, error)
}

// FlakyStore wraps an Inserter and injects transient failures.
type FlakyStore struct {
	mu sync.Mutex

	inner    Inserter
	failures int
	lostAcks int
	calls    int
}

// NewFlakyStore fails the next failures Insert calls before reaching inner.
func NewFlakyStore(inner Inserter, failures int) *FlakyStore {
	return &FlakyStore{inner: inner, failures: failures}
}

// LoseAcks makes the next n Insert calls commit to inner and then report a
// transient error, as if the acknowledgement was lost.
func (f *FlakyStore) LoseAcks(n int) {
	f.mu.Lock()
	f.lostAcks = n
	f.mu.Unlock()
}

// SetFailures resets the number of upcoming failed calls.
func (f *FlakyStore) SetFailures(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

// Insert implements Inserter.
func (f *FlakyStore) Insert(ctx context.Context, batch *types.Batch) (bounded.InsertResult, error) {
	f.mu.Lock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return bounded.InsertResult{}, errors.NewTransient("insert batch", errors.New("store unavailable"))
	}
	lose := f.lostAcks > 0
	if lose {
		f.lostAcks--
	}
	f.mu.Unlock()

	res, err := f.inner.Insert(ctx, batch)
	if err != nil {
		return res, err
	}
	if lose {
		return bounded.InsertResult{}, errors.NewTransient("insert batch", errors.New("connection reset"))
	}
	return res, nil
}

// Calls returns the number of Insert calls seen.
func (f *FlakyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
