package trainer

import (
	"context"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/gobaselines/ppotrain/envpool"
	"github.com/gobaselines/ppotrain/metrics"
	"github.com/gobaselines/ppotrain/rollout"
	"github.com/gobaselines/ppotrain/tracker"
	"github.com/gobaselines/ppotrain/types"
)

// countingEnv never ends an episode and counts every step taken across
// all slots.
type countingEnv struct {
	steps *atomic.Int64
}

func (e *countingEnv) Reset() []float64 { return []float64{0, 0} }

func (e *countingEnv) Step(action int) types.StepResult {
	e.steps.Add(1)
	return types.StepResult{Obs: []float64{0, 0}, Reward: 0.1}
}

func (e *countingEnv) EpisodeID() types.EpisodeID { return types.EpisodeID{} }
func (e *countingEnv) ObservationSize() int       { return 2 }
func (e *countingEnv) NumActions() int            { return 2 }
func (e *countingEnv) Close() error               { return nil }

// stubPolicy always picks action 0 with a fixed log prob and value.
type stubPolicy struct{}

func (stubPolicy) Act(obs, hidden [][]float64, prevActions []int, masks []float64) types.ActResult {
	n := len(obs)
	res := types.ActResult{
		Values:     make([]float64, n),
		Actions:    make([]int, n),
		LogProbs:   make([]float64, n),
		NextHidden: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		res.NextHidden[i] = make([]float64, len(hidden[i]))
	}
	return res
}

func (stubPolicy) GetValue(obs, hidden [][]float64, prevActions []int, masks []float64) []float64 {
	return make([]float64, len(obs))
}

func (stubPolicy) Update(b *rollout.Buffer) map[string]float64 { return map[string]float64{} }
func (stubPolicy) SetLR(lr float64)                            {}
func (stubPolicy) SetClipParam(clip float64)                   {}
func (stubPolicy) StateDict() ([]byte, error)                  { return []byte("{}"), nil }
func (stubPolicy) LoadStateDict(data []byte) error             { return nil }
func (stubPolicy) OptimState() ([]byte, error)                 { return []byte("{}"), nil }
func (stubPolicy) LoadOptimState(data []byte) error            { return nil }

func newTestTrainer(t *testing.T, cfg *types.Config, trk tracker.Tracker) (*Trainer, *atomic.Int64) {
	t.Helper()
	steps := &atomic.Int64{}
	factory := func(seed int64, slot int) types.Environment {
		return &countingEnv{steps: steps}
	}

	tr, err := New(cfg, zap.NewNop().Sugar(), metrics.NopSink{}, trk, factory)
	if err != nil {
		t.Fatal(err)
	}
	tr.pool = envpool.New(factory, cfg.NumEnvironments, cfg.Seed)
	tr.buf = rollout.New(cfg.NumSteps, cfg.NumEnvironments, 2, cfg.HiddenSize, cfg.DoubleBuffered)
	tr.buf.SetFirstObservations(tr.pool.Reset())
	tr.pol = stubPolicy{}
	tr.state = NewTrainingState(cfg.NumEnvironments, cfg.RewardWindowSize)
	tr.currentEpisodeReward = make([]float64, cfg.NumEnvironments)
	t.Cleanup(tr.pool.Close)
	return tr, steps
}

func cutoffConfig() *types.Config {
	cfg := types.DefaultConfig()
	cfg.NumEnvironments = 2
	cfg.NumSteps = 8
	cfg.DoubleBuffered = false
	cfg.CheckpointFolder = ""
	return cfg
}

func TestCollectRolloutFullLength(t *testing.T) {
	cfg := cutoffConfig()
	tr, steps := newTestTrainer(t, cfg, tracker.NewLocalTracker())

	delta, err := tr.collectRollout(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if delta != 16 {
		t.Errorf("collected %d transitions, expected 16", delta)
	}
	if got := steps.Load(); got != 16 {
		t.Errorf("environments stepped %d times, expected 16", got)
	}
	if tr.buf.CurrentStepIdx() != 8 {
		t.Errorf("buffer cursor at %d, expected 8", tr.buf.CurrentStepIdx())
	}
}

func TestCollectRolloutStragglerCutoff(t *testing.T) {
	cfg := cutoffConfig()
	cfg.WorldSize = 2
	cfg.SyncFrac = 0.5
	trk := tracker.NewLocalTracker()
	// a peer already finished its rollout before we start
	if _, err := trk.IncrDone(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr, steps := newTestTrainer(t, cfg, trk)

	delta, err := tr.collectRollout(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// the cutoff cannot fire before a quarter of the rollout is in, so the
	// short rollout holds exactly 2 of the 8 steps
	if delta != 4 {
		t.Errorf("collected %d transitions, expected 4", delta)
	}
	if tr.buf.CurrentStepIdx() != 2 {
		t.Errorf("buffer cursor at %d, expected 2", tr.buf.CurrentStepIdx())
	}
	// every submitted action was collected: nothing stepped past the cutoff
	if got := steps.Load(); got != 4 {
		t.Errorf("environments stepped %d times, expected 4", got)
	}
}

func TestShouldEndEarlyThreshold(t *testing.T) {
	cfg := cutoffConfig()
	cfg.WorldSize = 4
	cfg.SyncFrac = 0.5
	trk := tracker.NewLocalTracker()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		trk.IncrDone(ctx)
	}
	tr, _ := newTestTrainer(t, cfg, trk)

	// below a quarter of the rollout the cutoff never fires, no matter how
	// many peers are done
	early, err := tr.shouldEndEarly(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if early {
		t.Errorf("cutoff fired at step 1 of 8")
	}

	early, err = tr.shouldEndEarly(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !early {
		t.Errorf("cutoff should fire at step 2 with every peer done")
	}
}

func TestShouldEndEarlyNeedsEnoughPeers(t *testing.T) {
	cfg := cutoffConfig()
	cfg.WorldSize = 4
	cfg.SyncFrac = 0.8
	trk := tracker.NewLocalTracker()
	ctx := context.Background()
	trk.IncrDone(ctx)
	trk.IncrDone(ctx)
	tr, _ := newTestTrainer(t, cfg, trk)

	// 2 of 4 done is under the 0.8 fraction
	early, err := tr.shouldEndEarly(ctx, 6)
	if err != nil {
		t.Fatal(err)
	}
	if early {
		t.Errorf("cutoff fired with too few peers done")
	}
}

func TestShouldEndEarlyNotDistributed(t *testing.T) {
	cfg := cutoffConfig()
	trk := tracker.NewLocalTracker()
	ctx := context.Background()
	trk.IncrDone(ctx)
	tr, _ := newTestTrainer(t, cfg, trk)

	early, err := tr.shouldEndEarly(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if early {
		t.Errorf("cutoff fired in a single-worker run")
	}
}

func TestPercentDoneClipped(t *testing.T) {
	cfg := cutoffConfig()
	cfg.TotalNumSteps = 100
	tr, _ := newTestTrainer(t, cfg, tracker.NewLocalTracker())

	tr.state.NumStepsDone = 150
	if pd := tr.PercentDone(); pd != 1 {
		t.Errorf("percent done = %f, expected 1", pd)
	}
	tr.state.NumStepsDone = 50
	if pd := tr.PercentDone(); pd != 0.5 {
		t.Errorf("percent done = %f, expected 0.5", pd)
	}
}

func TestShouldCheckpointCadence(t *testing.T) {
	cfg := cutoffConfig()
	cfg.TotalNumSteps = 100
	cfg.NumCheckpoints = 2
	tr, _ := newTestTrainer(t, cfg, tracker.NewLocalTracker())

	steps := []int{10, 30, 70, 80}
	want := []bool{true, false, true, false}
	for i, s := range steps {
		tr.state.NumStepsDone = s
		if got := tr.shouldCheckpoint(); got != want[i] {
			t.Errorf("at %d steps shouldCheckpoint = %v, expected %v", s, got, want[i])
		}
	}
}

func TestCoalescePostStepAdvancesCounters(t *testing.T) {
	cfg := cutoffConfig()
	tr, _ := newTestTrainer(t, cfg, tracker.NewLocalTracker())

	tr.state.RunningEpisodeStats["reward"][0] = 3
	tr.state.RunningEpisodeStats["count"][0] = 2

	losses, err := tr.coalescePostStep(context.Background(), map[string]float64{"value_loss": 0.5}, 16)
	if err != nil {
		t.Fatal(err)
	}
	if tr.state.NumStepsDone != 16 {
		t.Errorf("steps done = %d, expected 16", tr.state.NumStepsDone)
	}
	if losses["value_loss"] != 0.5 {
		t.Errorf("losses changed in a single-worker reduction: %v", losses)
	}
	if tr.state.Window.Len() != 1 {
		t.Fatalf("window entry not pushed")
	}
	d := tr.state.Window.Deltas()
	if d["reward"] != 3 || d["count"] != 2 {
		t.Errorf("window entry = %v, expected reward 3 and count 2", d)
	}
}
