// Package trainer drives the on-policy training loop: rollout collection
// against the environment pool, the policy update, checkpointing and
// logging. One Trainer instance runs per distributed worker process; the
// only state shared between workers is the rollout tracker.
package trainer

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"

	"github.com/gobaselines/ppotrain/envpool"
	"github.com/gobaselines/ppotrain/metrics"
	"github.com/gobaselines/ppotrain/policy"
	"github.com/gobaselines/ppotrain/rollout"
	"github.com/gobaselines/ppotrain/tracker"
	"github.com/gobaselines/ppotrain/types"
)

// a worker may cut its rollout short only once this fraction of it has
// been collected
const shortRolloutThreshold = 0.25

type Trainer struct {
	cfg        *types.Config
	log        *zap.SugaredLogger
	sink       metrics.Sink
	trk        tracker.Tracker
	ckpt       *CheckpointManager
	envFactory types.EnvFactory

	pool  *envpool.Pool
	buf   *rollout.Buffer
	pol   types.Policy
	state *TrainingState

	nbuffers             int
	currentEpisodeReward []float64
	tStart               time.Time

	preempt  atomic.Bool
	progress *uilive.Writer

	statusMu sync.Mutex
	status   Status
}

func New(cfg *types.Config, log *zap.SugaredLogger, sink metrics.Sink, trk tracker.Tracker, envFactory types.EnvFactory) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nbuffers := 1
	if cfg.DoubleBuffered {
		nbuffers = 2
	}
	return &Trainer{
		cfg:        cfg,
		log:        log,
		sink:       sink,
		trk:        trk,
		ckpt:       NewCheckpointManager(cfg.CheckpointFolder),
		envFactory: envFactory,
		nbuffers:   nbuffers,
	}, nil
}

func (t *Trainer) isDistributed() bool { return t.cfg.WorldSize > 1 }
func (t *Trainer) rank0() bool         { return t.cfg.Rank == 0 }

// PercentDone is the single source of truth for every decay schedule and
// the checkpoint cadence. It is derived, never persisted, so a resumed run
// recomputes exactly the same schedule as an uninterrupted one.
func (t *Trainer) PercentDone() float64 {
	var pd float64
	if t.cfg.TotalNumSteps > 0 {
		pd = float64(t.state.NumStepsDone) / float64(t.cfg.TotalNumSteps)
	} else {
		pd = float64(t.state.NumUpdatesDone) / float64(t.cfg.TotalUpdates)
	}
	if pd < 0 {
		return 0
	}
	if pd > 1 {
		return 1
	}
	return pd
}

func (t *Trainer) isDone() bool {
	if t.cfg.TotalNumSteps > 0 && t.state.NumStepsDone >= t.cfg.TotalNumSteps {
		return true
	}
	if t.cfg.TotalUpdates > 0 && t.state.NumUpdatesDone >= t.cfg.TotalUpdates {
		return true
	}
	return false
}

// initTrain builds environments, buffer and policy, restoring from the
// resume record when one exists.
func (t *Trainer) initTrain(resume *Record) error {
	if resume != nil {
		// the resumed run keeps its original configuration; only the
		// launcher-owned distributed identity comes from the new process
		restored := *resume.Config
		restored.WorldSize = t.cfg.WorldSize
		restored.Rank = t.cfg.Rank
		restored.RedisAddr = t.cfg.RedisAddr
		restored.JobID = t.cfg.JobID
		*t.cfg = restored
	}

	// distinct seeds per rank so parallel workers do not replay the same
	// episodes
	seed := t.cfg.Seed + int64(t.cfg.Rank*t.cfg.NumEnvironments)
	t.pool = envpool.New(t.envFactory, t.cfg.NumEnvironments, seed)

	probe := t.envFactory(seed, 0)
	obsSize := probe.ObservationSize()
	numActions := probe.NumActions()
	probe.Close()

	pol, err := policy.New(t.cfg, obsSize, numActions)
	if err != nil {
		return err
	}
	t.pol = pol

	t.buf = rollout.New(t.cfg.NumSteps, t.cfg.NumEnvironments, obsSize, t.cfg.HiddenSize, t.cfg.DoubleBuffered)
	t.buf.SetFirstObservations(t.pool.Reset())

	t.currentEpisodeReward = make([]float64, t.cfg.NumEnvironments)
	t.state = NewTrainingState(t.cfg.NumEnvironments, t.cfg.RewardWindowSize)

	if resume != nil {
		t.state = resume.State
		if err := t.pol.LoadStateDict(resume.PolicyState); err != nil {
			return fmt.Errorf("restoring policy state: %w", err)
		}
		if err := t.pol.LoadOptimState(resume.OptimState); err != nil {
			return fmt.Errorf("restoring optimizer state: %w", err)
		}
		t.log.Infow("resumed from preemption snapshot",
			"steps_done", t.state.NumStepsDone,
			"updates_done", t.state.NumUpdatesDone,
			"prev_time_s", t.state.PrevTime,
		)
	}

	t.tStart = time.Now()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		<-sigCh
		t.preempt.Store(true)
	}()

	if t.rank0() {
		t.progress = uilive.New()
	}
	if t.cfg.StatusAddr != "" {
		t.serveStatus(t.cfg.StatusAddr)
	}
	return nil
}

// Train runs the full collect/update loop until the configured step or
// update budget is exhausted, or a preemption signal arrives.
func (t *Trainer) Train(ctx context.Context) error {
	resume, err := t.ckpt.LoadResumeState()
	if err != nil {
		return err
	}
	if err := t.initTrain(resume); err != nil {
		return err
	}
	defer t.pool.Close()

	if t.isDistributed() {
		// all workers ready before any rollout starts
		if err := t.trk.Barrier(ctx, "train_start", t.cfg.WorldSize); err != nil {
			return fmt.Errorf("startup barrier: %w", err)
		}
		if err := t.trk.ResetDone(ctx); err != nil {
			return err
		}
		t.log.Infow("distributed training initialized", "world_size", t.cfg.WorldSize, "rank", t.cfg.Rank)
	}

	for !t.isDone() {
		if t.cfg.UseLinearClipDecay {
			t.pol.SetClipParam(t.cfg.ClipParam * (1 - t.PercentDone()))
		}

		if t.rank0() && t.cfg.ResumeStateInterval > 0 &&
			t.state.NumUpdatesDone > 0 && t.state.NumUpdatesDone%t.cfg.ResumeStateInterval == 0 {
			if err := t.ckpt.SaveResumeState(t.record()); err != nil {
				return err
			}
		}

		// preemption is polled at the cycle boundary only, never inside an
		// in-flight step
		if t.preempt.Load() {
			return t.requeue()
		}

		countStepsDelta, err := t.collectRollout(ctx)
		if err != nil {
			return err
		}

		if t.isDistributed() {
			if _, err := t.trk.IncrDone(ctx); err != nil {
				return err
			}
		}

		losses := t.updateAgent()

		if t.cfg.UseLinearLRDecay {
			t.pol.SetLR(t.cfg.LR * (1 - t.PercentDone()))
		}
		t.state.NumUpdatesDone++

		losses, err = t.coalescePostStep(ctx, losses, countStepsDelta)
		if err != nil {
			return err
		}

		t.trainingLog(losses)

		if t.rank0() && t.shouldCheckpoint() {
			if err := t.ckpt.SaveCheckpoint(t.record(), t.state.CountCheckpoints); err != nil {
				return err
			}
			t.state.CountCheckpoints++
		}
	}

	t.log.Infow("training finished",
		"steps_done", t.state.NumStepsDone,
		"updates_done", t.state.NumUpdatesDone,
	)
	return nil
}

// collectRollout gathers up to NumSteps transitions per slot, pipelining
// the two buffer halves: while one half's environments simulate, the other
// half's results are collected and its next actions computed.
func (t *Trainer) collectRollout(ctx context.Context) (int, error) {
	countStepsDelta := 0

	for i := 0; i < t.nbuffers; i++ {
		t.computeActionsAndStepEnvs(i)
	}

	for step := 0; step < t.cfg.NumSteps; step++ {
		isLastStep, err := t.isLastStep(ctx, step+1)
		if err != nil {
			return 0, err
		}

		for i := 0; i < t.nbuffers; i++ {
			n, err := t.collectEnvironmentResult(i)
			if err != nil {
				return 0, err
			}
			countStepsDelta += n

			// never submit an action for a step that will not be collected
			if !isLastStep {
				t.computeActionsAndStepEnvs(i)
			}
		}

		if isLastStep {
			break
		}
	}
	return countStepsDelta, nil
}

func (t *Trainer) isLastStep(ctx context.Context, step int) (bool, error) {
	if step >= t.cfg.NumSteps {
		return true, nil
	}
	return t.shouldEndEarly(ctx, step)
}

// shouldEndEarly is the straggler cutoff: once enough of the rollout is
// collected and enough peers have already finished theirs, this worker
// stops collecting too rather than making everyone wait for it.
func (t *Trainer) shouldEndEarly(ctx context.Context, step int) (bool, error) {
	if !t.isDistributed() {
		return false, nil
	}
	if float64(step) < float64(t.cfg.NumSteps)*shortRolloutThreshold {
		return false, nil
	}
	done, err := t.trk.NumDone(ctx)
	if err != nil {
		// a failed counter read risks desynchronizing the workers; fatal
		return false, fmt.Errorf("straggler counter read: %w", err)
	}
	return float64(done) >= t.cfg.SyncFrac*float64(t.cfg.WorldSize), nil
}

// computeActionsAndStepEnvs samples actions for one buffer half and
// submits them to its environment slots without blocking.
func (t *Trainer) computeActionsAndStepEnvs(bufferIndex int) {
	tSample := time.Now()
	obs, hidden, prevActions, masks := t.buf.StepBatch(bufferIndex)
	res := t.pol.Act(obs, hidden, prevActions, masks)
	t.state.ComputeTime += time.Since(tSample).Seconds()

	tStep := time.Now()
	start, _ := t.buf.EnvRange(bufferIndex)
	for j, a := range res.Actions {
		t.pool.AsyncStepAt(start+j, a)
	}
	t.state.EnvTime += time.Since(tStep).Seconds()

	t.buf.Insert(bufferIndex, rollout.Fields{
		NextHidden: res.NextHidden,
		Actions:    res.Actions,
		LogProbs:   res.LogProbs,
		ValuePreds: res.Values,
	})
}

// collectEnvironmentResult waits for one buffer half's in-flight steps,
// folds episode stats, and completes the half's current transition.
func (t *Trainer) collectEnvironmentResult(bufferIndex int) (int, error) {
	start, end := t.buf.EnvRange(bufferIndex)
	n := end - start

	tStep := time.Now()
	results := make([]types.StepResult, n)
	for j := 0; j < n; j++ {
		r, err := t.pool.WaitStepAt(start + j)
		if err != nil {
			return 0, err
		}
		results[j] = r
	}
	t.state.EnvTime += time.Since(tStep).Seconds()

	tStats := time.Now()
	nextObs := make([][]float64, n)
	rewards := make([]float64, n)
	nextMasks := make([]float64, n)

	for j, r := range results {
		slot := start + j
		nextObs[j] = r.Obs
		rewards[j] = r.Reward

		t.currentEpisodeReward[slot] += r.Reward
		if r.Done {
			t.state.RunningEpisodeStats["reward"][slot] += t.currentEpisodeReward[slot]
			t.state.RunningEpisodeStats["count"][slot]++
			for k, v := range metrics.FlattenInfo(r.Info) {
				t.state.StatSlots(k, t.cfg.NumEnvironments)[slot] += v
			}
			t.currentEpisodeReward[slot] = 0
		} else {
			nextMasks[j] = 1
		}
	}

	t.buf.Insert(bufferIndex, rollout.Fields{
		NextObs:   nextObs,
		Rewards:   rewards,
		NextMasks: nextMasks,
	})
	t.buf.AdvanceRollout(bufferIndex)

	t.state.ComputeTime += time.Since(tStats).Seconds()
	return n, nil
}

// updateAgent computes the bootstrap value and return targets, runs the
// policy update and rotates the buffer.
func (t *Trainer) updateAgent() map[string]float64 {
	tUpdate := time.Now()

	obs, hidden, prevActions, masks := t.buf.LastStepBatch()
	nextValue := t.pol.GetValue(obs, hidden, prevActions, masks)

	t.buf.ComputeReturns(nextValue, t.cfg.UseGAE, t.cfg.Gamma, t.cfg.Tau)
	losses := t.pol.Update(t.buf)
	t.buf.AfterUpdate()

	t.state.ComputeTime += time.Since(tUpdate).Seconds()
	return losses
}

// coalescePostStep merges this update's episode stats, losses and step
// count across workers, pushes the window entry and rearms the straggler
// counter for the next cycle.
func (t *Trainer) coalescePostStep(ctx context.Context, losses map[string]float64, countStepsDelta int) (map[string]float64, error) {
	statKeys := maps.Keys(t.state.RunningEpisodeStats)
	slices.Sort(statKeys)

	statVec := make([]float64, len(statKeys))
	for i, k := range statKeys {
		statVec[i] = floats.Sum(t.state.RunningEpisodeStats[k])
	}

	// two reductions per update: stats first, losses second
	seq := int64(t.state.NumUpdatesDone) * 2

	if t.isDistributed() {
		reduced, err := t.trk.AllReduceSum(ctx, seq, statVec, t.cfg.WorldSize)
		if err != nil {
			return nil, err
		}
		statVec = reduced
	}

	entry := make(map[string]float64, len(statKeys))
	for i, k := range statKeys {
		entry[k] = statVec[i]
	}
	t.state.Window.Push(entry)

	if t.isDistributed() {
		lossKeys := maps.Keys(losses)
		slices.Sort(lossKeys)

		lossVec := make([]float64, 0, len(lossKeys)+1)
		for _, k := range lossKeys {
			lossVec = append(lossVec, losses[k])
		}
		lossVec = append(lossVec, float64(countStepsDelta))

		reduced, err := t.trk.AllReduceSum(ctx, seq+1, lossVec, t.cfg.WorldSize)
		if err != nil {
			return nil, err
		}

		countStepsDelta = int(reduced[len(reduced)-1])
		for i, k := range lossKeys {
			losses[k] = reduced[i] / float64(t.cfg.WorldSize)
		}

		if t.rank0() {
			if err := t.trk.ResetDone(ctx); err != nil {
				return nil, err
			}
		}
	}

	t.state.NumStepsDone += countStepsDelta
	return losses, nil
}

func (t *Trainer) elapsed() float64 {
	return time.Since(t.tStart).Seconds() + t.state.PrevTime
}

func (t *Trainer) trainingLog(losses map[string]float64) {
	deltas := t.state.Window.Deltas()
	count := deltas["count"]
	if count < 1 {
		count = 1
	}
	fps := float64(t.state.NumStepsDone) / t.elapsed()

	if t.rank0() {
		t.sink.AddScalar("reward", deltas["reward"]/count, t.state.NumStepsDone)
		for k, v := range deltas {
			if k == "reward" || k == "count" {
				continue
			}
			t.sink.AddScalar("metrics/"+k, v/count, t.state.NumStepsDone)
		}
		for k, v := range losses {
			t.sink.AddScalar("learner/"+k, v, t.state.NumStepsDone)
		}
		t.sink.AddScalar("perf/fps", fps, t.state.NumStepsDone)

		fmt.Fprintf(t.progress, "update: %d\tsteps: %d/%d [%5.1f%%]\tfps: %.1f\treward: %.3f\n",
			t.state.NumUpdatesDone, t.state.NumStepsDone, t.cfg.TotalNumSteps,
			t.PercentDone()*100, fps, deltas["reward"]/count)
		t.progress.Flush()

		if t.cfg.LogInterval > 0 && t.state.NumUpdatesDone%t.cfg.LogInterval == 0 {
			t.log.Infow("update",
				"updates", t.state.NumUpdatesDone,
				"steps", t.state.NumStepsDone,
				"fps", fps,
				"env_time_s", t.state.EnvTime,
				"compute_time_s", t.state.ComputeTime,
				"window_episodes", deltas["count"],
				"reward", deltas["reward"]/count,
			)
		}
	}

	t.statusMu.Lock()
	t.status = Status{
		NumStepsDone:   t.state.NumStepsDone,
		NumUpdatesDone: t.state.NumUpdatesDone,
		PercentDone:    t.PercentDone(),
		FPS:            fps,
		Reward:         deltas["reward"] / count,
	}
	t.statusMu.Unlock()
}

// record snapshots the current training state for a checkpoint. PrevTime
// in the snapshot includes the current segment, so a resumed run carries
// total elapsed wall-clock forward rather than resetting it.
func (t *Trainer) record() *Record {
	stateCopy := *t.state
	stateCopy.PrevTime = t.elapsed()

	policyState, err := t.pol.StateDict()
	if err != nil {
		panic(fmt.Sprintf("trainer: policy state must serialize: %v", err))
	}
	optimState, err := t.pol.OptimState()
	if err != nil {
		panic(fmt.Sprintf("trainer: optimizer state must serialize: %v", err))
	}

	return &Record{
		PolicyState: policyState,
		OptimState:  optimState,
		State:       &stateCopy,
		Config:      t.cfg,
	}
}

func (t *Trainer) shouldCheckpoint() bool {
	if t.cfg.NumCheckpoints <= 0 {
		return false
	}
	every := 1.0 / float64(t.cfg.NumCheckpoints)
	if t.state.LastCheckpointPercent+every < t.PercentDone() {
		t.state.LastCheckpointPercent = t.PercentDone()
		return true
	}
	return false
}

// requeue is the graceful preemption path: snapshot everything, close the
// environments and exit cleanly so the scheduler can relaunch the job.
func (t *Trainer) requeue() error {
	t.log.Infow("preemption signal received, saving resume state and requeueing")
	if t.rank0() {
		if err := t.ckpt.SaveResumeState(t.record()); err != nil {
			return err
		}
	}
	t.pool.Close()
	return nil
}
