package tracker

import (
	"context"
	"sync/atomic"
)

// LocalTracker is the in-process counterpart used for single-worker runs
// and tests. Barriers are immediate and reductions return the lone
// contribution unchanged.
type LocalTracker struct {
	numDone atomic.Int64
}

var _ Tracker = &LocalTracker{}

func NewLocalTracker() *LocalTracker {
	return &LocalTracker{}
}

func (t *LocalTracker) ResetDone(ctx context.Context) error {
	t.numDone.Store(0)
	return nil
}

func (t *LocalTracker) IncrDone(ctx context.Context) (int64, error) {
	return t.numDone.Add(1), nil
}

func (t *LocalTracker) NumDone(ctx context.Context) (int64, error) {
	return t.numDone.Load(), nil
}

func (t *LocalTracker) Barrier(ctx context.Context, name string, worldSize int) error {
	return nil
}

func (t *LocalTracker) AllReduceSum(ctx context.Context, seq int64, vec []float64, worldSize int) ([]float64, error) {
	out := make([]float64, len(vec))
	copy(out, vec)
	return out, nil
}

func (t *LocalTracker) Close() error { return nil }
