// Package threshold classifies samples against ordered alert breakpoints.
//
// A rule's level is 1 plus the number of breakpoints the value has reached.
// Descending rules (for example disk percent free) are inverted so that a
// worse value always yields a higher level:
//
//	level' = N + 2 - level   (N = number of breakpoints)
package threshold

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// Direction tells whether larger values are worse (ascending) or better (descending).
type Direction string

const (
	Ascending  Direction = "ascending"
	Descending Direction = "descending"
)

// Boundary decides whether a value equal to a breakpoint has reached it.
type Boundary string

const (
	// Inclusive counts breakpoints b with b <= value.
	Inclusive Boundary = "inclusive"

	// Exclusive counts breakpoints b with b < value.
	Exclusive Boundary = "exclusive"
)

// Rule holds the breakpoints for one metric.
type Rule struct {
	Direction   Direction `yaml:"direction"`
	Breakpoints []float64 `yaml:"breakpoints"`
}

// Validate checks that the breakpoints are strictly monotonic in the rule's direction.
func (r Rule) Validate(metric types.MetricType) error {
	field := "rules." + string(metric)

	if r.Direction != Ascending && r.Direction != Descending {
		return errors.NewInvalidValue(field+".direction", r.Direction, "must be ascending or descending")
	}
	if len(r.Breakpoints) == 0 {
		return errors.NewValidation(field+".breakpoints", "must not be empty")
	}

	for i, b := range r.Breakpoints {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return errors.NewInvalidValue(fmt.Sprintf("%s.breakpoints[%d]", field, i), b, "must be finite")
		}
		if i == 0 {
			continue
		}
		prev := r.Breakpoints[i-1]
		if r.Direction == Ascending && b <= prev {
			return errors.NewValidation(field+".breakpoints", fmt.Sprintf("not strictly increasing at index %d (%v after %v)", i, b, prev))
		}
		if r.Direction == Descending && b >= prev {
			return errors.NewValidation(field+".breakpoints", fmt.Sprintf("not strictly decreasing at index %d (%v after %v)", i, b, prev))
		}
	}
	return nil
}

// Table is a complete threshold configuration.
type Table struct {
	Boundary Boundary
	Rules    map[types.MetricType]Rule
}

// Validate checks the boundary and every rule.
func (t *Table) Validate() error {
	errs := errors.NewValidationErrors()

	if t.Boundary != Inclusive && t.Boundary != Exclusive {
		errs.Add(errors.NewInvalidValue("boundary", t.Boundary, "must be inclusive or exclusive"))
	}
	if len(t.Rules) == 0 {
		errs.AddField("rules", "at least one rule is required")
	}
	for _, metric := range t.Metrics() {
		errs.Add(t.Rules[metric].Validate(metric))
	}

	return errs.Err()
}

// Metrics returns the metrics with a rule, sorted by name.
func (t *Table) Metrics() []types.MetricType {
	out := make([]types.MetricType, 0, len(t.Rules))
	for m := range t.Rules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the table on one line, for logs.
func (t *Table) String() string {
	var sb strings.Builder
	sb.WriteString(string(t.Boundary))
	for _, m := range t.Metrics() {
		r := t.Rules[m]
		fmt.Fprintf(&sb, " %s=%s%v", m, r.Direction, r.Breakpoints)
	}
	return sb.String()
}

// DefaultTable returns the built-in thresholds. Disk is measured as percent free.
func DefaultTable() *Table {
	usage := []float64{0, 70, 80, 85, 90, 95, 100}
	return &Table{
		Boundary: Inclusive,
		Rules: map[types.MetricType]Rule{
			types.MetricCPU:    {Direction: Ascending, Breakpoints: append([]float64(nil), usage...)},
			types.MetricMemory: {Direction: Ascending, Breakpoints: append([]float64(nil), usage...)},
			types.MetricDisk:   {Direction: Descending, Breakpoints: []float64{100, 50, 30, 25, 15, 5, 0}},
		},
	}
}

// Classify returns the alert level of value.
func Classify(value float64, breakpoints []float64, direction Direction, boundary Boundary) int {
	reached := 0
	for _, b := range breakpoints {
		if b < value || (boundary != Exclusive && b == value) {
			reached++
		}
	}

	level := 1 + reached
	if direction == Descending {
		level = len(breakpoints) + 2 - level
	}
	return level
}

// Color maps a level to its alert color.
func Color(level int) string {
	switch level {
	case 1:
		return "Blue"
	case 2:
		return "Green"
	case 3:
		return "Yellow"
	case 4:
		return "Orange"
	case 5:
		return "Red"
	default:
		if level > 5 {
			return "White"
		}
		return "Unknown"
	}
}
