package types

import (
	"math"
	"testing"
	"time"

	"github.com/xtxerr/vigil/internal/errors"
)

func TestParseMetricType(t *testing.T) {
	for _, m := range AllMetricTypes() {
		got, err := ParseMetricType(string(m))
		if err != nil {
			t.Errorf("ParseMetricType(%q): %v", m, err)
		}
		if got != m {
			t.Errorf("expected %s, got %s", m, got)
		}
	}

	if _, err := ParseMetricType("gpu"); !errors.Is(err, errors.ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric, got %v", err)
	}
}

func TestSampleKey(t *testing.T) {
	s := Sample{TimestampMs: 1700000000000, Metric: MetricCPU, BatchID: "b1"}

	expected := "1700000000000|cpu|b1"
	if s.Key() != expected {
		t.Errorf("expected %s, got %s", expected, s.Key())
	}
}

func TestSampleTimestampTime(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	s := NewSample(now, MetricMemory, 42)

	if !s.TimestampTime().Equal(now) {
		t.Errorf("expected %v, got %v", now, s.TimestampTime())
	}
}

func TestSampleValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		sample  Sample
		wantErr bool
	}{
		{"valid", NewSample(now, MetricCPU, 12.5), false},
		{"unknown metric", NewSample(now, MetricType("gpu"), 1), true},
		{"zero timestamp", Sample{Metric: MetricCPU, Value: 1}, true},
		{"nan", NewSample(now, MetricCPU, math.NaN()), true},
		{"inf", NewSample(now, MetricCPU, math.Inf(1)), true},
	}

	for _, tt := range tests {
		err := tt.sample.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.IsMalformed(err) {
			t.Errorf("%s: expected malformed error, got %v", tt.name, err)
		}
	}
}

func TestBatch_SealAndAdd(t *testing.T) {
	b := NewBatch(3)
	if b.ID() == "" {
		t.Fatal("batch should have an id")
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := b.Add(Entry{Seq: uint64(i + 1), Sample: NewSample(now, MetricCPU, float64(i))}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if b.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", b.Len())
	}
	if b.FirstSeq() != 1 || b.LastSeq() != 3 {
		t.Errorf("expected seq range 1..3, got %d..%d", b.FirstSeq(), b.LastSeq())
	}
	for _, s := range b.Samples() {
		if s.BatchID != b.ID() {
			t.Errorf("sample not stamped with batch id: %q", s.BatchID)
		}
	}

	b.Seal()
	if !b.Sealed() {
		t.Error("batch should be sealed")
	}
	if err := b.Add(Entry{Seq: 4}); !errors.Is(err, errors.ErrBatchSealed) {
		t.Errorf("expected ErrBatchSealed, got %v", err)
	}
}

func TestBatch_EmptySeq(t *testing.T) {
	b := NewBatch(0)
	if b.FirstSeq() != 0 || b.LastSeq() != 0 {
		t.Error("empty batch should report zero sequences")
	}
}

func TestGroupEntries(t *testing.T) {
	now := time.Now()
	mk := func(seq uint64, batch string) Entry {
		s := NewSample(now, MetricCPU, float64(seq))
		s.BatchID = batch
		return Entry{Seq: seq, Sample: s}
	}

	entries := []Entry{mk(1, "a"), mk(2, "a"), mk(3, "b"), mk(4, "c"), mk(5, "c")}
	batches := GroupEntries(entries)

	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}

	wantLens := []int{2, 1, 2}
	wantIDs := []string{"a", "b", "c"}
	for i, b := range batches {
		if b.ID() != wantIDs[i] || b.Len() != wantLens[i] {
			t.Errorf("batch %d: id=%s len=%d", i, b.ID(), b.Len())
		}
		if !b.Sealed() {
			t.Errorf("batch %d should be sealed", i)
		}
	}

	if GroupEntries(nil) != nil {
		t.Error("no entries should produce no batches")
	}
}
