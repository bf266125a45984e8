package gridnav

import (
	"testing"
)

func TestResetObservation(t *testing.T) {
	e := New(16, 16, 4, 200, 0, 1)
	obs := e.Reset()
	if len(obs) != e.ObservationSize() {
		t.Fatalf("observation size %d, expected %d", len(obs), e.ObservationSize())
	}
	for i, v := range obs {
		if v < 0 || v > 1 {
			t.Errorf("obs[%d] = %f outside [0, 1]", i, v)
		}
	}
	// the goal is always placed outside the success radius
	if e.pos.dist(e.goal) <= successRadius {
		t.Errorf("goal spawned within the success radius")
	}
}

func TestMovementClampsToGrid(t *testing.T) {
	e := New(4, 4, 1, 200, 0, 1)
	e.Reset()
	e.pos = position{I: 0, J: 0}
	e.Step(ActionDown)
	e.Step(ActionLeft)
	if e.pos.I != 0 || e.pos.J != 0 {
		t.Errorf("position %v, expected clamped to the corner", e.pos)
	}

	e.pos = position{I: 3, J: 3}
	e.Step(ActionUp)
	e.Step(ActionRight)
	if e.pos.I != 3 || e.pos.J != 3 {
		t.Errorf("position %v, expected clamped to the far corner", e.pos)
	}
}

func TestStopAtGoalSucceeds(t *testing.T) {
	e := New(8, 8, 1, 200, 0, 1)
	e.Reset()
	e.pos = e.goal

	r := e.Step(ActionStop)
	if !r.Done {
		t.Fatalf("stop did not end the episode")
	}
	if r.Info["success"] != 1.0 {
		t.Errorf("success = %v, expected 1", r.Info["success"])
	}
	if r.Reward < 2 {
		t.Errorf("reward = %f, expected the success bonus", r.Reward)
	}
	spl, _ := r.Info["spl"].(float64)
	if spl <= 0 || spl > 1 {
		t.Errorf("spl = %f outside (0, 1]", spl)
	}
}

func TestStopAwayFromGoalFails(t *testing.T) {
	e := New(8, 8, 1, 200, 0, 1)
	e.Reset()
	e.pos = position{I: 0, J: 0}
	e.goal = position{I: 7, J: 7}

	r := e.Step(ActionStop)
	if !r.Done {
		t.Fatalf("stop did not end the episode")
	}
	if r.Info["success"] != 0.0 {
		t.Errorf("success = %v, expected 0", r.Info["success"])
	}
	if r.Info["spl"] != 0.0 {
		t.Errorf("spl = %v, expected 0 on failure", r.Info["spl"])
	}
}

func TestHorizonEndsEpisode(t *testing.T) {
	e := New(8, 8, 1, 3, 0, 1)
	e.Reset()
	e.goal = position{I: 7, J: 7}
	e.pos = position{I: 0, J: 0}

	var done bool
	for i := 0; i < 3; i++ {
		done = e.Step(ActionUp).Done
	}
	if !done {
		t.Errorf("episode did not end at the horizon")
	}
}

func TestProgressShapesReward(t *testing.T) {
	e := New(8, 8, 1, 200, 0, 1)
	e.Reset()
	e.pos = position{I: 0, J: 0}
	e.goal = position{I: 7, J: 0}

	// moving toward the goal beats the step penalty
	if r := e.Step(ActionUp); r.Reward <= 0 {
		t.Errorf("progress reward = %f, expected positive", r.Reward)
	}
	// moving away costs progress plus the penalty
	if r := e.Step(ActionDown); r.Reward >= 0 {
		t.Errorf("regress reward = %f, expected negative", r.Reward)
	}
}

func TestEpisodeIDAdvances(t *testing.T) {
	e := New(8, 8, 2, 200, 0, 1)
	e.Reset()
	first := e.EpisodeID()
	e.Reset()
	second := e.EpisodeID()
	if first == second {
		t.Errorf("episode id did not change across resets: %v", first)
	}
}

func TestEpisodeIDsUniqueAcrossSlots(t *testing.T) {
	a := New(8, 8, 4, 200, 0, 1)
	b := New(8, 8, 4, 200, 1, 2)
	a.Reset()
	b.Reset()
	// same episode count in two slots is still two distinct episodes
	if a.EpisodeID() == b.EpisodeID() {
		t.Errorf("slots share the episode id %v", a.EpisodeID())
	}
	if a.EpisodeID().SceneID != b.EpisodeID().SceneID {
		t.Errorf("scene identity should not depend on the slot")
	}
}

func TestFactorySeedsDiffer(t *testing.T) {
	a := New(16, 16, 4, 200, 0, 1)
	b := New(16, 16, 4, 200, 0, 2)
	a.Reset()
	b.Reset()
	if a.pos == b.pos && a.goal == b.goal {
		t.Errorf("differently seeded environments spawned identically")
	}
}
