// Package collector produces samples for the pipeline.
package collector

import (
	"context"
	"sync"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// ErrExhausted is returned by Replay once every round has been served.
var ErrExhausted = errors.New("replay exhausted")

// Collector reads the current value of one or more metrics.
type Collector interface {
	Collect(ctx context.Context) ([]types.Sample, error)
}

// Func adapts a function to Collector.
type Func func(ctx context.Context) ([]types.Sample, error)

func (f Func) Collect(ctx context.Context) ([]types.Sample, error) {
	return f(ctx)
}

// Replay serves fixed rounds of samples in order.
type Replay struct {
	mu     sync.Mutex
	rounds [][]types.Sample
	next   int
}

// NewReplay creates a replay of rounds. Each Collect returns the next round.
func NewReplay(rounds ...[]types.Sample) *Replay {
	return &Replay{rounds: rounds}
}

// Collect returns the next round, or ErrExhausted.
func (r *Replay) Collect(ctx context.Context) ([]types.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.rounds) {
		return nil, ErrExhausted
	}
	round := r.rounds[r.next]
	r.next++
	return append([]types.Sample(nil), round...), nil
}

// Remaining returns the number of rounds not yet served.
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rounds) - r.next
}
