package trainer

import "testing"

func TestStatsWindowEvictsOldest(t *testing.T) {
	w := NewStatsWindow(3)
	for i := 1; i <= 5; i++ {
		w.Push(map[string]float64{"reward": float64(i)})
	}
	if w.Len() != 3 {
		t.Fatalf("window length = %d, expected 3", w.Len())
	}
	// entries 3, 4, 5 remain
	d := w.Deltas()
	if d["reward"] != 2 {
		t.Errorf("reward delta = %f, expected 2", d["reward"])
	}
}

func TestStatsWindowSingleEntryDelta(t *testing.T) {
	w := NewStatsWindow(10)
	w.Push(map[string]float64{"reward": 7, "count": 3})
	d := w.Deltas()
	if d["reward"] != 7 || d["count"] != 3 {
		t.Errorf("deltas = %v, expected the totals themselves", d)
	}
}

func TestStatsWindowEmptyDeltas(t *testing.T) {
	w := NewStatsWindow(10)
	if len(w.Deltas()) != 0 {
		t.Errorf("deltas of an empty window should be empty")
	}
}

func TestStatSlotsLazyCreation(t *testing.T) {
	s := NewTrainingState(4, 10)
	if _, ok := s.RunningEpisodeStats["count"]; !ok {
		t.Fatalf("count accumulator missing")
	}
	if _, ok := s.RunningEpisodeStats["reward"]; !ok {
		t.Fatalf("reward accumulator missing")
	}

	slots := s.StatSlots("distance_to_goal", 4)
	if len(slots) != 4 {
		t.Fatalf("new accumulator has %d slots, expected 4", len(slots))
	}
	slots[2] = 1.5
	if s.RunningEpisodeStats["distance_to_goal"][2] != 1.5 {
		t.Errorf("accumulator writes not visible through the state")
	}
	// second call returns the same accumulator
	if s.StatSlots("distance_to_goal", 4)[2] != 1.5 {
		t.Errorf("second lookup returned a fresh accumulator")
	}
}

func TestNewTrainingStateCheckpointPercent(t *testing.T) {
	s := NewTrainingState(2, 10)
	if s.LastCheckpointPercent != -1.0 {
		t.Errorf("initial checkpoint percent = %f, expected -1", s.LastCheckpointPercent)
	}
}
