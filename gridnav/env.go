// Package gridnav is a point-goal navigation task on a multi-room grid: an
// agent spawns at a random cell of a scene, observes its own position and
// the goal, and must reach the goal and declare Stop before the horizon.
// It is the built-in environment the trainer runs against.
package gridnav

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/gobaselines/ppotrain/types"
)

const (
	ActionStop = iota
	ActionUp
	ActionDown
	ActionLeft
	ActionRight
	numActions
)

// reached the goal when within this manhattan distance and stopping
const successRadius = 1.0

type position struct {
	I int
	J int
}

func (p position) dist(o position) float64 {
	return math.Abs(float64(p.I-o.I)) + math.Abs(float64(p.J-o.J))
}

type Env struct {
	height  int
	width   int
	scenes  int
	horizon int
	slot    int
	rng     *rand.Rand

	pos        position
	goal       position
	scene      int
	episodeNum int
	stepsTaken int
	startDist  float64
	pathLen    float64
}

var _ types.Environment = &Env{}

func New(height, width, scenes, horizon, slot int, seed int64) *Env {
	if scenes < 1 {
		scenes = 1
	}
	return &Env{
		height:  height,
		width:   width,
		scenes:  scenes,
		horizon: horizon,
		slot:    slot,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (e *Env) ObservationSize() int { return 5 }
func (e *Env) NumActions() int      { return numActions }

func (e *Env) Reset() []float64 {
	e.episodeNum++
	e.scene = e.episodeNum % e.scenes
	e.pos = position{I: e.rng.Intn(e.height), J: e.rng.Intn(e.width)}
	for {
		e.goal = position{I: e.rng.Intn(e.height), J: e.rng.Intn(e.width)}
		if e.goal.dist(e.pos) > successRadius {
			break
		}
	}
	e.stepsTaken = 0
	e.startDist = e.pos.dist(e.goal)
	e.pathLen = 0
	return e.observation()
}

func (e *Env) Step(action int) types.StepResult {
	prevDist := e.pos.dist(e.goal)
	e.stepsTaken++

	stopped := false
	switch action {
	case ActionStop:
		stopped = true
	case ActionUp:
		e.pos.I = min(e.height-1, e.pos.I+1)
	case ActionDown:
		e.pos.I = max(0, e.pos.I-1)
	case ActionLeft:
		e.pos.J = max(0, e.pos.J-1)
	case ActionRight:
		e.pos.J = min(e.width-1, e.pos.J+1)
	default:
		panic(fmt.Sprintf("gridnav: unknown action %d", action))
	}

	dist := e.pos.dist(e.goal)
	if !stopped {
		e.pathLen += prevDist - dist
		if e.pathLen < 0 {
			e.pathLen = 0
		}
	}

	success := stopped && dist <= successRadius
	done := stopped || e.stepsTaken >= e.horizon

	// dense shaping: progress toward the goal minus a step penalty, with a
	// terminal bonus on success
	reward := (prevDist - dist) * 0.1
	reward -= 0.01
	if success {
		reward += 2.5
	}

	return types.StepResult{
		Obs:    e.observation(),
		Reward: reward,
		Done:   done,
		Info:   e.info(dist, success),
	}
}

func (e *Env) info(dist float64, success bool) map[string]any {
	successF := 0.0
	if success {
		successF = 1.0
	}
	// spl-style efficiency: shortest distance over realized progress,
	// zeroed on failure
	spl := 0.0
	if success && e.startDist > 0 {
		spl = e.startDist / math.Max(e.pathLen, e.startDist)
	}
	return map[string]any{
		"distance_to_goal": dist,
		"success":          successF,
		"spl":              spl,
	}
}

func (e *Env) observation() []float64 {
	return []float64{
		float64(e.pos.I) / float64(e.height),
		float64(e.pos.J) / float64(e.width),
		float64(e.goal.I) / float64(e.height),
		float64(e.goal.J) / float64(e.width),
		e.pos.dist(e.goal) / float64(e.height+e.width),
	}
}

// EpisodeID folds the slot into the episode identifier: each slot draws its
// own random episodes, so two slots at the same episode count are still
// distinct episodes.
func (e *Env) EpisodeID() types.EpisodeID {
	return types.EpisodeID{
		SceneID:   fmt.Sprintf("scene-%d", e.scene),
		EpisodeID: fmt.Sprintf("ep-%d-%d", e.slot, e.episodeNum),
	}
}

func (e *Env) Close() error { return nil }

// Factory builds the pool factory for this environment.
func Factory(cfg *types.Config) types.EnvFactory {
	return func(seed int64, slot int) types.Environment {
		return New(cfg.GridHeight, cfg.GridWidth, cfg.SceneCount, cfg.EpisodeHorizon, slot, seed)
	}
}
