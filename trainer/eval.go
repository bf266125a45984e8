package trainer

import (
	"context"
	"fmt"
	"path"

	"gonum.org/v1/gonum/stat"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/gobaselines/ppotrain/envpool"
	"github.com/gobaselines/ppotrain/metrics"
	"github.com/gobaselines/ppotrain/policy"
	"github.com/gobaselines/ppotrain/types"
	"github.com/gobaselines/ppotrain/util"
)

// Eval runs the policy from a checkpoint over a fixed budget of distinct
// episodes and reports averaged stats. Slots whose episode budget is met
// are paused and the pool compacted, so the run converges instead of
// re-sampling the same episodes.
func (t *Trainer) Eval(ctx context.Context) error {
	if t.isDistributed() {
		return fmt.Errorf("evaluation does not support distributed mode")
	}
	if t.cfg.TestEpisodeCount <= 0 {
		return fmt.Errorf("test_episode_count must be positive, got %d", t.cfg.TestEpisodeCount)
	}
	if t.cfg.EvalsPerEp <= 0 {
		return fmt.Errorf("evals_per_ep must be positive, got %d", t.cfg.EvalsPerEp)
	}

	rec, err := t.ckpt.LoadCheckpoint(t.cfg.EvalCheckpoint)
	if err != nil {
		return err
	}

	t.pool = envpool.New(t.envFactory, t.cfg.NumEnvironments, t.cfg.Seed)
	defer t.pool.Close()

	probe := t.envFactory(t.cfg.Seed, 0)
	obsSize := probe.ObservationSize()
	numActions := probe.NumActions()
	probe.Close()

	pol, err := policy.New(t.cfg, obsSize, numActions)
	if err != nil {
		return err
	}
	if err := pol.LoadStateDict(rec.PolicyState); err != nil {
		return fmt.Errorf("restoring policy state: %w", err)
	}
	t.pol = pol

	obs := t.pool.Reset()
	numEnvs := t.pool.NumEnvs()
	hidden := make([][]float64, numEnvs)
	for i := range hidden {
		hidden[i] = make([]float64, t.cfg.HiddenSize)
	}
	prevActions := make([]int, numEnvs)
	masks := make([]float64, numEnvs)
	episodeReward := make([]float64, numEnvs)

	// stats per finished (episode, repeat) pair; keys include the repeat
	// count so evals_per_ep > 1 does not overwrite earlier runs
	statsEpisodes := make(map[string]map[string]float64)
	epEvalCount := make(map[types.EpisodeID]int)
	needed := t.cfg.TestEpisodeCount * t.cfg.EvalsPerEp

	t.log.Infow("evaluating checkpoint",
		"episodes", needed,
		"steps_done", rec.State.NumStepsDone,
	)

	for len(statsEpisodes) < needed && t.pool.NumEnvs() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		currentEps := t.pool.CurrentEpisodes()

		res := t.pol.Act(obs, hidden, prevActions, masks)
		results, err := t.pool.Step(res.Actions)
		if err != nil {
			return err
		}

		hidden = res.NextHidden
		copy(prevActions, res.Actions)

		for i, r := range results {
			obs[i] = r.Obs
			episodeReward[i] += r.Reward
			if r.Done {
				masks[i] = 0
				stats := map[string]float64{"reward": episodeReward[i]}
				for k, v := range metrics.FlattenInfo(r.Info) {
					stats[k] = v
				}
				epEvalCount[currentEps[i]]++
				key := fmt.Sprintf("%s|%s|%d", currentEps[i].SceneID, currentEps[i].EpisodeID, epEvalCount[currentEps[i]])
				statsEpisodes[key] = stats
				episodeReward[i] = 0
			} else {
				masks[i] = 1
			}
		}

		// pause slots whose next episode has already met its eval budget
		nextEps := t.pool.CurrentEpisodes()
		var toPause []int
		for i := range nextEps {
			if epEvalCount[nextEps[i]] >= t.cfg.EvalsPerEp {
				toPause = append(toPause, i)
			}
		}
		if len(toPause) > 0 && len(statsEpisodes) < needed {
			kept := t.pool.Pause(toPause)
			obs = envpool.Gather(obs, kept)
			hidden = envpool.Gather(hidden, kept)
			prevActions = envpool.Gather(prevActions, kept)
			masks = envpool.Gather(masks, kept)
			episodeReward = envpool.Gather(episodeReward, kept)
		}
	}

	if len(statsEpisodes) < needed {
		t.log.Warnw("ran out of active environments before the episode budget was met",
			"collected", len(statsEpisodes), "wanted", needed)
	}

	// aggregate over episodes, per stat key
	perKey := make(map[string][]float64)
	for _, stats := range statsEpisodes {
		for k, v := range stats {
			perKey[k] = append(perKey[k], v)
		}
	}

	keys := maps.Keys(perKey)
	slices.Sort(keys)
	summary := []string{fmt.Sprintf("checkpoint at %d steps, %d episodes", rec.State.NumStepsDone, len(statsEpisodes))}
	for _, k := range keys {
		avg := stat.Mean(perKey[k], nil)
		t.log.Infow("average episode stat", "stat", k, "value", avg)
		summary = append(summary, fmt.Sprintf("%s: %.4f", k, avg))
		if k == "reward" {
			t.sink.AddScalar("eval_reward/average_reward", avg, rec.State.NumStepsDone)
		} else {
			t.sink.AddScalar("eval_metrics/"+k, avg, rec.State.NumStepsDone)
		}
	}

	return util.AppendToFile(path.Join(t.cfg.MetricsDir, "eval_summary.txt"), summary...)
}
