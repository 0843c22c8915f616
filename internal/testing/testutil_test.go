package testing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/bounded"
	"github.com/xtxerr/vigil/internal/storage/types"
)

func TestGoroutineTest(t *testing.T) {
	gt := NewGoroutineTest(t)
	defer gt.Wait()

	var n atomic.Int32
	for i := 0; i < 5; i++ {
		gt.Go(func() error {
			n.Add(1)
			return nil
		})
	}
	gt.GoWithContext(func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	})
}

func TestWithTimeout(t *testing.T) {
	if err := WithTimeout(time.Second, func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := WithTimeout(10*time.Millisecond, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestEventually(t *testing.T) {
	var ready atomic.Bool
	time.AfterFunc(20*time.Millisecond, func() { ready.Store(true) })

	if err := Eventually(time.Second, 5*time.Millisecond, ready.Load); err != nil {
		t.Errorf("Eventually: %v", err)
	}
	if err := Eventually(20*time.Millisecond, 5*time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected error for a condition that never holds")
	}
}

type countingStore struct{ n int }

func (c *countingStore) Insert(ctx context.Context, batch *types.Batch) (bounded.InsertResult, error) {
	c.n++
	return bounded.InsertResult{Inserted: batch.Len()}, nil
}

func TestFlakyStore(t *testing.T) {
	inner := &countingStore{}
	f := NewFlakyStore(inner, 2)
	batch := types.NewBatchWithID("b", 1)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.Insert(ctx, batch); !errors.IsTransient(err) {
			t.Fatalf("call %d: expected transient error, got %v", i, err)
		}
	}
	if _, err := f.Insert(ctx, batch); err != nil {
		t.Fatalf("third call should succeed: %v", err)
	}

	f.LoseAcks(1)
	if _, err := f.Insert(ctx, batch); !errors.IsTransient(err) {
		t.Fatalf("expected lost ack error, got %v", err)
	}
	if inner.n != 2 {
		t.Errorf("expected 2 inner inserts, got %d", inner.n)
	}
	if f.Calls() != 4 {
		t.Errorf("expected 4 calls, got %d", f.Calls())
	}
}

func TestSamples(t *testing.T) {
	samples := Samples(types.MetricCPU, 1, 2, 3)
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[2].TimestampMs-samples[0].TimestampMs != 2000 {
		t.Errorf("samples should be one second apart")
	}
}
