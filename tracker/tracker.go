// Package tracker holds the one piece of state that is shared across
// distributed worker processes during rollout collection: a counter of
// workers that have finished their rollout, plus the barrier and reduction
// primitives used around the update step. All operations are atomic
// increment/reset/read; increments commute so there is no read-modify-write
// race to guard against.
package tracker

import "context"

type Tracker interface {
	// ResetDone sets the rollouts-done counter back to zero. Idempotent;
	// any worker may perform the reset.
	ResetDone(ctx context.Context) error
	// IncrDone counts this worker's rollout as finished, exactly once per
	// collection phase.
	IncrDone(ctx context.Context) (int64, error)
	NumDone(ctx context.Context) (int64, error)

	// Barrier blocks until worldSize workers have reached the named point.
	Barrier(ctx context.Context, name string, worldSize int) error
	// AllReduceSum element-wise sums the vectors contributed by every
	// worker for the given sequence number. Every worker receives the full
	// sum; dividing by world size is the caller's business.
	AllReduceSum(ctx context.Context, seq int64, vec []float64, worldSize int) ([]float64, error)

	Close() error
}
