package threshold

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

var usage = []float64{0, 70, 80, 85, 90, 95, 100}

func TestClassify(t *testing.T) {
	free := []float64{100, 50, 30, 25, 15, 5, 0}

	tests := []struct {
		name        string
		value       float64
		breakpoints []float64
		direction   Direction
		boundary    Boundary
		want        int
	}{
		{"cpu 82", 82, usage, Ascending, Inclusive, 4},
		{"cpu on breakpoint inclusive", 80, usage, Ascending, Inclusive, 4},
		{"cpu on breakpoint exclusive", 80, usage, Ascending, Exclusive, 3},
		{"cpu below all", -1, usage, Ascending, Inclusive, 1},
		{"cpu idle", 10, usage, Ascending, Inclusive, 2},
		{"cpu saturated", 100, usage, Ascending, Inclusive, 8},
		{"disk all free", 100, free, Descending, Inclusive, 1},
		{"disk 60 free", 60, free, Descending, Inclusive, 2},
		{"disk 20 free", 20, free, Descending, Inclusive, 5},
		{"disk 50 free exclusive", 50, free, Descending, Exclusive, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.value, tt.breakpoints, tt.direction, tt.boundary); got != tt.want {
				t.Errorf("Classify(%v) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestClassify_Monotonic(t *testing.T) {
	for _, boundary := range []Boundary{Inclusive, Exclusive} {
		prev := Classify(-10, usage, Ascending, boundary)
		for v := -10.0; v <= 110; v += 0.25 {
			level := Classify(v, usage, Ascending, boundary)
			if level < prev {
				t.Fatalf("%s: level dropped from %d to %d at %v", boundary, prev, level, v)
			}
			prev = level
		}
	}

	// Less free space is never better.
	free := []float64{100, 50, 30, 25, 15, 5, 0}
	prev := Classify(110, free, Descending, Inclusive)
	for v := 110.0; v >= -10; v -= 0.25 {
		level := Classify(v, free, Descending, Inclusive)
		if level < prev {
			t.Fatalf("descending: level dropped from %d to %d at %v", prev, level, v)
		}
		prev = level
	}
}

func TestColor(t *testing.T) {
	want := map[int]string{1: "Blue", 2: "Green", 3: "Yellow", 4: "Orange", 5: "Red", 6: "White", 9: "White", 0: "Unknown"}
	for level, color := range want {
		if got := Color(level); got != color {
			t.Errorf("Color(%d) = %s, want %s", level, got, color)
		}
	}
}

func TestClassifier_Evaluate(t *testing.T) {
	c := NewClassifier(DefaultTable())
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	alert, ok := c.Evaluate(types.NewSample(ts, types.MetricCPU, 82))
	if !ok {
		t.Fatal("cpu should have a rule")
	}
	if alert.Level != 4 || alert.Color != "Orange" || !alert.Timestamp.Equal(ts) {
		t.Errorf("unexpected alert: %+v", alert)
	}

	if _, ok := c.Evaluate(types.NewSample(ts, types.MetricNetSent, 1e6)); ok {
		t.Error("net_sent has no rule and should not alert")
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
boundary: exclusive
rules:
  cpu:    {direction: ascending,  breakpoints: [0, 50, 75, 90, 100]}
  disk:   {direction: descending, breakpoints: [100, 20, 10, 0]}
`)
	table, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if table.Boundary != Exclusive {
		t.Errorf("expected exclusive boundary, got %s", table.Boundary)
	}
	if len(table.Rules) != 2 || table.Rules[types.MetricDisk].Direction != Descending {
		t.Errorf("unexpected rules: %v", table)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not increasing", "rules: {cpu: {direction: ascending, breakpoints: [0, 80, 70, 100]}}"},
		{"duplicate breakpoint", "rules: {cpu: {direction: ascending, breakpoints: [0, 70, 70, 100]}}"},
		{"not decreasing", "rules: {disk: {direction: descending, breakpoints: [0, 50, 100]}}"},
		{"empty breakpoints", "rules: {cpu: {direction: ascending, breakpoints: []}}"},
		{"bad direction", "rules: {cpu: {direction: sideways, breakpoints: [1, 2]}}"},
		{"bad boundary", "boundary: fuzzy\nrules: {cpu: {direction: ascending, breakpoints: [1, 2]}}"},
		{"unknown metric", "rules: {gpu: {direction: ascending, breakpoints: [1, 2]}}"},
		{"no rules", "boundary: inclusive"},
		{"bad yaml", "rules: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.IsConfiguration(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestDefaultTableIsValid(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}
}

func writeFile(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	start := time.Now().Add(-time.Hour)
	writeFile(t, path, "rules: {cpu: {direction: ascending, breakpoints: [0, 70, 80, 85, 90, 95, 100]}}", start)

	table, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	c := NewClassifier(table)
	w := NewWatcher(path, time.Second, c)

	if reloaded, err := w.Check(); err != nil || reloaded {
		t.Fatalf("unchanged file should not reload: %v, %v", reloaded, err)
	}

	// Lower thresholds: 82 now reaches every breakpoint but 100.
	writeFile(t, path, "rules: {cpu: {direction: ascending, breakpoints: [0, 10, 20, 30, 40, 50, 100]}}", start.Add(time.Minute))
	reloaded, err := w.Check()
	if err != nil || !reloaded {
		t.Fatalf("expected reload, got %v, %v", reloaded, err)
	}
	alert, _ := c.Evaluate(types.Sample{TimestampMs: 1, Metric: types.MetricCPU, Value: 82})
	if alert.Level != 7 {
		t.Errorf("expected level 7 after reload, got %d", alert.Level)
	}

	// An invalid file keeps the previous table.
	writeFile(t, path, "rules: {cpu: {direction: ascending, breakpoints: [100, 0]}}", start.Add(2*time.Minute))
	if _, err := w.Check(); !errors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	alert, _ = c.Evaluate(types.Sample{TimestampMs: 1, Metric: types.MetricCPU, Value: 82})
	if alert.Level != 7 {
		t.Errorf("previous table should stay active, got level %d", alert.Level)
	}
}

func TestWatcher_RunStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	writeFile(t, path, "rules: {cpu: {direction: ascending, breakpoints: [0, 100]}}", time.Now())

	w := NewWatcher(path, 5*time.Millisecond, NewClassifier(DefaultTable()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
