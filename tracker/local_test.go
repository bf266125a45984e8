package tracker

import (
	"context"
	"testing"
)

func TestLocalTrackerCounter(t *testing.T) {
	trk := NewLocalTracker()
	ctx := context.Background()

	if n, _ := trk.NumDone(ctx); n != 0 {
		t.Fatalf("fresh counter = %d", n)
	}

	if n, err := trk.IncrDone(ctx); err != nil || n != 1 {
		t.Fatalf("first increment = %d, %v", n, err)
	}
	if n, err := trk.IncrDone(ctx); err != nil || n != 2 {
		t.Fatalf("second increment = %d, %v", n, err)
	}

	if err := trk.ResetDone(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := trk.NumDone(ctx); n != 0 {
		t.Errorf("counter after reset = %d", n)
	}
}

func TestLocalTrackerReduceIsIdentity(t *testing.T) {
	trk := NewLocalTracker()
	in := []float64{1, 2, 3}
	out, err := trk.AllReduceSum(context.Background(), 0, in, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range in {
		if out[i] != v {
			t.Errorf("out[%d] = %f, expected %f", i, out[i], v)
		}
	}
	// the reduction must not alias the input
	out[0] = 99
	if in[0] != 1 {
		t.Errorf("reduction aliased the caller's vector")
	}
}

func TestLocalTrackerBarrierReturnsImmediately(t *testing.T) {
	trk := NewLocalTracker()
	if err := trk.Barrier(context.Background(), "train_start", 1); err != nil {
		t.Fatal(err)
	}
}
