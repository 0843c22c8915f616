package collector

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
	vtesting "github.com/xtxerr/vigil/internal/testing"
)

func TestReplay(t *testing.T) {
	ctx := context.Background()
	r := NewReplay(
		vtesting.Samples(types.MetricCPU, 10, 20),
		vtesting.Samples(types.MetricDisk, 80),
	)

	if r.Remaining() != 2 {
		t.Errorf("expected 2 rounds, got %d", r.Remaining())
	}

	first, err := r.Collect(ctx)
	if err != nil || len(first) != 2 || first[1].Value != 20 {
		t.Fatalf("first round = %v, %v", first, err)
	}

	second, err := r.Collect(ctx)
	if err != nil || len(second) != 1 || second[0].Metric != types.MetricDisk {
		t.Fatalf("second round = %v, %v", second, err)
	}

	if _, err := r.Collect(ctx); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestReplay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReplay(vtesting.Samples(types.MetricCPU, 1))
	if _, err := r.Collect(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if r.Remaining() != 1 {
		t.Error("a cancelled collect should not consume a round")
	}
}

func TestFunc(t *testing.T) {
	calls := 0
	var c Collector = Func(func(ctx context.Context) ([]types.Sample, error) {
		calls++
		return vtesting.Samples(types.MetricMemory, 42), nil
	})

	got, err := c.Collect(context.Background())
	if err != nil || len(got) != 1 || got[0].Value != 42 || calls != 1 {
		t.Errorf("unexpected result %v, %v after %d calls", got, err, calls)
	}
}

func TestHost_Collect(t *testing.T) {
	h := NewHost(t.TempDir())
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	samples, err := h.Collect(context.Background())
	if err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}

	seen := make(map[types.MetricType]float64)
	for _, s := range samples {
		if err := s.Validate(); err != nil {
			t.Errorf("invalid sample %+v: %v", s, err)
		}
		if !s.TimestampTime().Equal(fixed) {
			t.Errorf("sample %s not stamped with the collection time", s.Metric)
		}
		seen[s.Metric] = s.Value
	}

	for _, m := range []types.MetricType{types.MetricMemory, types.MetricDisk} {
		v, ok := seen[m]
		if !ok {
			continue
		}
		if v < 0 || v > 100 {
			t.Errorf("%s = %v, want a percentage", m, v)
		}
	}
}

func TestNewHost_DefaultDiskPath(t *testing.T) {
	if h := NewHost(""); h.DiskPath != "/" {
		t.Errorf("expected default disk path /, got %q", h.DiskPath)
	}
}
