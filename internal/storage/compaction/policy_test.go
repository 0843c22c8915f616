package compaction

import (
	"reflect"
	"testing"

	"github.com/xtxerr/vigil/internal/errors"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyOverflow, false},
		{"overflow", PolicyOverflow, false},
		{"batch", PolicyBatch, false},
		{"fifo", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err != nil && !errors.IsConfiguration(err) {
			t.Errorf("ParsePolicy(%q) should return a configuration error", tt.in)
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name      string
		policy    Policy
		count     int
		max       int
		batchSize int
		want      []int
	}{
		{"under capacity", PolicyOverflow, 6, 9, 3, nil},
		{"at capacity", PolicyOverflow, 9, 9, 3, nil},
		{"overflow single record", PolicyOverflow, 12, 9, 3, []int{3}},
		{"overflow larger than batch", PolicyOverflow, 17, 9, 3, []int{8}},
		{"batch exact", PolicyBatch, 12, 9, 3, []int{3}},
		{"batch remainder", PolicyBatch, 17, 9, 3, []int{3, 3, 2}},
		{"batch partial", PolicyBatch, 10, 9, 3, []int{1}},
		{"batch without size", PolicyBatch, 12, 9, 0, []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Plan(tt.count, tt.max, tt.batchSize)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Plan(%d, %d, %d) = %v, want %v", tt.count, tt.max, tt.batchSize, got, tt.want)
			}
			if tt.count > tt.max && tt.count-Total(got) != tt.max {
				t.Errorf("plan leaves %d rows, want %d", tt.count-Total(got), tt.max)
			}
		})
	}
}
