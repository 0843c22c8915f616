package threshold

import (
	"sync/atomic"
	"time"

	"github.com/xtxerr/vigil/internal/storage/types"
)

// Alert is the classification of one sample.
type Alert struct {
	Metric    types.MetricType `json:"metric"`
	Level     int              `json:"level"`
	Color     string           `json:"color"`
	Value     float64          `json:"value"`
	Timestamp time.Time        `json:"timestamp"`
}

// Classifier evaluates samples against the active table.
// The table is swapped atomically, so Evaluate never blocks on a reload.
type Classifier struct {
	table atomic.Pointer[Table]
}

// NewClassifier creates a classifier using table.
func NewClassifier(table *Table) *Classifier {
	c := &Classifier{}
	c.table.Store(table)
	return c
}

// Swap replaces the active table and returns the previous one.
func (c *Classifier) Swap(table *Table) *Table {
	return c.table.Swap(table)
}

// Table returns the active table.
func (c *Classifier) Table() *Table {
	return c.table.Load()
}

// Evaluate classifies s. It returns false when no rule covers the sample's metric.
func (c *Classifier) Evaluate(s types.Sample) (Alert, bool) {
	t := c.table.Load()
	if t == nil {
		return Alert{}, false
	}
	rule, ok := t.Rules[s.Metric]
	if !ok {
		return Alert{}, false
	}

	level := Classify(s.Value, rule.Breakpoints, rule.Direction, t.Boundary)
	return Alert{
		Metric:    s.Metric,
		Level:     level,
		Color:     Color(level),
		Value:     s.Value,
		Timestamp: s.TimestampTime(),
	}, true
}
