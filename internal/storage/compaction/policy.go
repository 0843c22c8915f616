// Package compaction plans how overflow rows leave the active store.
//
// The bounded store calls Plan inside its insert transaction; each returned
// chunk becomes one archived record made of the oldest remaining rows.
package compaction

import (
	"fmt"

	"github.com/xtxerr/vigil/internal/errors"
)

// Policy selects how overflow is grouped into archived records.
type Policy string

const (
	// PolicyOverflow archives the whole overflow as a single record.
	PolicyOverflow Policy = "overflow"

	// PolicyBatch archives the overflow in chunks of at most batch size.
	PolicyBatch Policy = "batch"
)

// ParsePolicy parses a compaction policy name. The empty string selects PolicyOverflow.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyOverflow:
		return PolicyOverflow, nil
	case PolicyBatch:
		return PolicyBatch, nil
	default:
		return "", errors.NewInvalidValue("compaction_policy", s, "must be overflow or batch")
	}
}

// Plan returns the size of each archived record needed to bring count down
// to max, oldest chunk first. It returns nil when count does not exceed max.
func (p Policy) Plan(count, max, batchSize int) []int {
	overflow := count - max
	if overflow <= 0 {
		return nil
	}

	if p != PolicyBatch || batchSize <= 0 {
		return []int{overflow}
	}

	chunks := make([]int, 0, (overflow+batchSize-1)/batchSize)
	for overflow > 0 {
		n := min(batchSize, overflow)
		chunks = append(chunks, n)
		overflow -= n
	}
	return chunks
}

// Total returns the number of rows a plan moves.
func Total(plan []int) int {
	n := 0
	for _, c := range plan {
		n += c
	}
	return n
}

// String returns the policy name.
func (p Policy) String() string {
	return string(p)
}

// Describe renders a plan for logging.
func Describe(plan []int) string {
	return fmt.Sprintf("%d record(s), %d sample(s)", len(plan), Total(plan))
}
