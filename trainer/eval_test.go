package trainer

import (
	"context"
	"os"
	"path"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/gobaselines/ppotrain/gridnav"
	"github.com/gobaselines/ppotrain/metrics"
	"github.com/gobaselines/ppotrain/policy"
	"github.com/gobaselines/ppotrain/tracker"
	"github.com/gobaselines/ppotrain/types"
)

func evalConfig(dir string) *types.Config {
	cfg := types.DefaultConfig()
	cfg.NumEnvironments = 2
	cfg.CheckpointFolder = dir
	cfg.MetricsDir = path.Join(dir, "metrics")
	cfg.TestEpisodeCount = 3
	cfg.EvalsPerEp = 1
	cfg.GridHeight = 6
	cfg.GridWidth = 6
	cfg.EpisodeHorizon = 4
	return cfg
}

func saveEvalCheckpoint(t *testing.T, cfg *types.Config) {
	t.Helper()
	pol, err := policy.New(cfg, 5, 6)
	if err != nil {
		t.Fatal(err)
	}
	policyState, err := pol.StateDict()
	if err != nil {
		t.Fatal(err)
	}
	optimState, err := pol.OptimState()
	if err != nil {
		t.Fatal(err)
	}
	rec := &Record{
		PolicyState: policyState,
		OptimState:  optimState,
		State:       NewTrainingState(cfg.NumEnvironments, cfg.RewardWindowSize),
		Config:      cfg,
	}
	if err := NewCheckpointManager(cfg.CheckpointFolder).SaveCheckpoint(rec, 0); err != nil {
		t.Fatal(err)
	}
}

func TestEvalRunsToEpisodeBudget(t *testing.T) {
	cfg := evalConfig(t.TempDir())
	saveEvalCheckpoint(t, cfg)

	tr, err := New(cfg, zap.NewNop().Sugar(), metrics.NopSink{}, tracker.NewLocalTracker(), gridnav.Factory(cfg))
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Eval(context.Background()); err != nil {
		t.Fatal(err)
	}

	bs, err := os.ReadFile(path.Join(cfg.MetricsDir, "eval_summary.txt"))
	if err != nil {
		t.Fatalf("eval summary not written: %v", err)
	}
	if !strings.Contains(string(bs), "reward:") {
		t.Errorf("eval summary missing the reward line: %q", bs)
	}
}

func TestEvalRejectsDistributed(t *testing.T) {
	cfg := evalConfig(t.TempDir())
	cfg.WorldSize = 2
	tr, err := New(cfg, zap.NewNop().Sugar(), metrics.NopSink{}, tracker.NewLocalTracker(), gridnav.Factory(cfg))
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Eval(context.Background()); err == nil {
		t.Errorf("distributed evaluation must be rejected")
	}
}

func TestEvalMissingCheckpoint(t *testing.T) {
	cfg := evalConfig(t.TempDir())
	tr, err := New(cfg, zap.NewNop().Sugar(), metrics.NopSink{}, tracker.NewLocalTracker(), gridnav.Factory(cfg))
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Eval(context.Background()); err == nil {
		t.Errorf("evaluating without a checkpoint must error")
	}
}
