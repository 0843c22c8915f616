package sink

import (
	"sync"
	"testing"
)

func TestRing_PushPopN(t *testing.T) {
	r := NewRing[int](5)

	if r.Cap() != 5 {
		t.Errorf("expected capacity=5, got %d", r.Cap())
	}

	for i := 0; i < 5; i++ {
		if !r.Push(i) {
			t.Errorf("push %d should succeed", i)
		}
	}

	// Push to full ring should fail
	if r.Push(99) {
		t.Error("push to full ring should fail")
	}
	if r.Dropped() != 1 {
		t.Errorf("expected 1 drop, got %d", r.Dropped())
	}
	if r.UsageRatio() != 1 {
		t.Errorf("expected usage 1, got %f", r.UsageRatio())
	}

	got := r.PopN(3)
	for i, v := range got {
		if v != i {
			t.Errorf("PopN[%d] = %d, want %d", i, v, i)
		}
	}

	if r.Len() != 2 {
		t.Errorf("expected len=2, got %d", r.Len())
	}

	// Wraps around
	r.Push(5)
	r.Push(6)
	rest := r.PopN(10)
	want := []int{3, 4, 5, 6}
	if len(rest) != len(want) {
		t.Fatalf("expected %v, got %v", want, rest)
	}
	for i := range want {
		if rest[i] != want[i] {
			t.Errorf("expected %v, got %v", want, rest)
			break
		}
	}

	if r.PopN(1) != nil {
		t.Error("PopN on empty ring should return nil")
	}
}

func TestRing_PushOverwrite(t *testing.T) {
	r := NewRing[int](3)

	for i := 0; i < 5; i++ {
		r.PushOverwrite(i)
	}

	snap := r.Snapshot()
	want := []int{2, 3, 4}
	if len(snap) != 3 {
		t.Fatalf("expected %v, got %v", want, snap)
	}
	for i := range want {
		if snap[i] != want[i] {
			t.Errorf("expected %v, got %v", want, snap)
			break
		}
	}

	// Snapshot does not consume
	if r.Len() != 3 {
		t.Errorf("expected len=3, got %d", r.Len())
	}
	if r.Dropped() != 2 {
		t.Errorf("expected 2 overwrites, got %d", r.Dropped())
	}
}

func TestRing_DefaultCapacity(t *testing.T) {
	if got := NewRing[string](0).Cap(); got != 1024 {
		t.Errorf("expected default capacity 1024, got %d", got)
	}
}

func TestRing_Concurrent(t *testing.T) {
	r := NewRing[int](1000)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				r.Push(i)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 1000 {
		t.Errorf("expected len=1000, got %d", r.Len())
	}
	if r.Pushed() != 1000 {
		t.Errorf("expected 1000 pushes, got %d", r.Pushed())
	}
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelNormal, "normal"},
		{LevelWarning, "warning"},
		{LevelCritical, "critical"},
		{LevelFull, "full"},
		{Level(9), "unknown"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("level %d: expected %s, got %s", tt.level, tt.expected, tt.level.String())
		}
	}
}

func TestPressure_Hysteresis(t *testing.T) {
	var changes []Level
	p := &pressure{onChange: func(old, new Level) { changes = append(changes, new) }}

	steps := []struct {
		usage float64
		want  Level
	}{
		{0.1, LevelNormal},
		{0.5, LevelWarning},
		{0.8, LevelCritical},
		{1.0, LevelFull},
		{0.95, LevelFull},     // within hysteresis
		{0.85, LevelCritical}, // below 0.9
		{0.75, LevelCritical}, // within hysteresis
		{0.65, LevelWarning},
		{0.45, LevelWarning},
		{0.3, LevelNormal},
	}

	for i, s := range steps {
		if got := p.update(s.usage); got != s.want {
			t.Errorf("step %d: usage %.2f: expected %s, got %s", i, s.usage, s.want, got)
		}
	}

	if len(changes) != 6 {
		t.Errorf("expected 6 level changes, got %d: %v", len(changes), changes)
	}
	if _, n := p.current(); n != 6 {
		t.Errorf("expected 6 recorded changes, got %d", n)
	}
}
