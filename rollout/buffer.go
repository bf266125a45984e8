package rollout

import "fmt"

// Fields carries the writable subset of a transition. Pre-step fields
// (Actions, LogProbs, ValuePreds, NextHidden) are produced by the policy
// before the environments step; post-step fields (NextObs, Rewards,
// NextMasks) arrive once the step results are collected. Nil slices are
// skipped, so the two halves of a transition can be written separately.
type Fields struct {
	NextHidden [][]float64
	Actions    []int
	LogProbs   []float64
	ValuePreds []float64

	NextObs   [][]float64
	Rewards   []float64
	NextMasks []float64
}

// Buffer is the double-buffered, time-major rollout storage. It retains
// numSteps+1 time slots per environment: numSteps transitions plus the
// bootstrap entry at the final step. When double-buffered, the environment
// slots are partitioned evenly into two halves that advance independently
// through the rollout.
type Buffer struct {
	numSteps   int
	numEnvs    int
	numBuffers int
	obsSize    int
	hiddenSize int

	// all indexed [step][env]
	Obs         [][][]float64
	Hidden      [][][]float64
	PrevActions [][]int
	Masks       [][]float64
	Actions     [][]int
	LogProbs    [][]float64
	ValuePreds  [][]float64
	Rewards     [][]float64
	Returns     [][]float64

	stepIdx []int // current step index, one per buffer half
}

func New(numSteps, numEnvs, obsSize, hiddenSize int, doubleBuffered bool) *Buffer {
	numBuffers := 1
	if doubleBuffered {
		numBuffers = 2
	}
	if numEnvs%numBuffers != 0 {
		panic(fmt.Sprintf("rollout: %d environments cannot be split into %d buffers", numEnvs, numBuffers))
	}

	b := &Buffer{
		numSteps:   numSteps,
		numEnvs:    numEnvs,
		numBuffers: numBuffers,
		obsSize:    obsSize,
		hiddenSize: hiddenSize,
		stepIdx:    make([]int, numBuffers),
	}

	b.Obs = makeVecGrid(numSteps+1, numEnvs, obsSize)
	b.Hidden = makeVecGrid(numSteps+1, numEnvs, hiddenSize)
	b.PrevActions = makeIntGrid(numSteps+1, numEnvs)
	b.Masks = makeGrid(numSteps+1, numEnvs)
	b.Actions = makeIntGrid(numSteps+1, numEnvs)
	b.LogProbs = makeGrid(numSteps+1, numEnvs)
	b.ValuePreds = makeGrid(numSteps+1, numEnvs)
	b.Rewards = makeGrid(numSteps+1, numEnvs)
	b.Returns = makeGrid(numSteps+1, numEnvs)

	return b
}

func makeGrid(steps, envs int) [][]float64 {
	g := make([][]float64, steps)
	for i := range g {
		g[i] = make([]float64, envs)
	}
	return g
}

func makeIntGrid(steps, envs int) [][]int {
	g := make([][]int, steps)
	for i := range g {
		g[i] = make([]int, envs)
	}
	return g
}

func makeVecGrid(steps, envs, size int) [][][]float64 {
	g := make([][][]float64, steps)
	for i := range g {
		g[i] = make([][]float64, envs)
		for j := range g[i] {
			g[i][j] = make([]float64, size)
		}
	}
	return g
}

func (b *Buffer) NumSteps() int   { return b.numSteps }
func (b *Buffer) NumEnvs() int    { return b.numEnvs }
func (b *Buffer) NumBuffers() int { return b.numBuffers }

// EnvRange returns the half-open slot range [start, end) owned by the given
// buffer half. The two halves address disjoint ranges.
func (b *Buffer) EnvRange(bufferIndex int) (int, int) {
	start := bufferIndex * b.numEnvs / b.numBuffers
	end := (bufferIndex + 1) * b.numEnvs / b.numBuffers
	return start, end
}

func (b *Buffer) StepIdx(bufferIndex int) int {
	return b.stepIdx[bufferIndex]
}

// CurrentStepIdx returns the common step index across halves. The halves
// advance independently during collection but must agree by the time the
// rollout is consumed.
func (b *Buffer) CurrentStepIdx() int {
	idx := b.stepIdx[0]
	for _, s := range b.stepIdx {
		if s != idx {
			panic("rollout: buffer halves are not aligned")
		}
	}
	return idx
}

// SetFirstObservations seeds step 0 with the observation batch from the
// initial reset. Masks at step 0 stay zero: there is no previous episode to
// carry state from.
func (b *Buffer) SetFirstObservations(obs [][]float64) {
	if len(obs) != b.numEnvs {
		panic(fmt.Sprintf("rollout: seeding %d observations into %d slots", len(obs), b.numEnvs))
	}
	for i, o := range obs {
		copy(b.Obs[0][i], o)
	}
}

// Insert writes the given fields for the buffer half's slot range at its
// current step index. Pre-step fields land at the current step (the hidden
// state and previous action produced for the *next* step land at step+1, as
// do the post-step observation and mask). Rewards land at the current step.
// Insert does not advance the cursor; call AdvanceRollout once the step's
// transition is complete.
func (b *Buffer) Insert(bufferIndex int, f Fields) {
	start, end := b.EnvRange(bufferIndex)
	t := b.stepIdx[bufferIndex]
	n := end - start

	if f.Actions != nil {
		checkLen("actions", len(f.Actions), n)
		for i, a := range f.Actions {
			b.Actions[t][start+i] = a
			b.PrevActions[t+1][start+i] = a
		}
	}
	if f.LogProbs != nil {
		checkLen("log probs", len(f.LogProbs), n)
		copy(b.LogProbs[t][start:end], f.LogProbs)
	}
	if f.ValuePreds != nil {
		checkLen("value preds", len(f.ValuePreds), n)
		copy(b.ValuePreds[t][start:end], f.ValuePreds)
	}
	if f.NextHidden != nil {
		checkLen("hidden states", len(f.NextHidden), n)
		for i, h := range f.NextHidden {
			copy(b.Hidden[t+1][start+i], h)
		}
	}

	if f.NextObs != nil {
		checkLen("observations", len(f.NextObs), n)
		for i, o := range f.NextObs {
			copy(b.Obs[t+1][start+i], o)
		}
	}
	if f.Rewards != nil {
		checkLen("rewards", len(f.Rewards), n)
		copy(b.Rewards[t][start:end], f.Rewards)
	}
	if f.NextMasks != nil {
		checkLen("masks", len(f.NextMasks), n)
		copy(b.Masks[t+1][start:end], f.NextMasks)
	}
}

func checkLen(what string, got, want int) {
	if got != want {
		panic(fmt.Sprintf("rollout: inserting %d %s into a slot range of %d", got, what, want))
	}
}

// AdvanceRollout moves the half's step cursor forward by one. The other
// half is not touched.
func (b *Buffer) AdvanceRollout(bufferIndex int) {
	if b.stepIdx[bufferIndex] >= b.numSteps {
		panic("rollout: advancing past the end of the buffer")
	}
	b.stepIdx[bufferIndex]++
}

// ComputeReturns fills Returns for every collected (step, slot) cell,
// walking backward from the last collected step. Masks gate every term that
// crosses a step boundary so that no return or advantage leaks across an
// episode end.
func (b *Buffer) ComputeReturns(bootstrapValue []float64, useGAE bool, gamma, tau float64) {
	T := b.CurrentStepIdx()
	if len(bootstrapValue) != b.numEnvs {
		panic(fmt.Sprintf("rollout: %d bootstrap values for %d slots", len(bootstrapValue), b.numEnvs))
	}

	if useGAE {
		copy(b.ValuePreds[T], bootstrapValue)
		gae := make([]float64, b.numEnvs)
		for t := T - 1; t >= 0; t-- {
			for i := 0; i < b.numEnvs; i++ {
				delta := b.Rewards[t][i] + gamma*b.Masks[t+1][i]*b.ValuePreds[t+1][i] - b.ValuePreds[t][i]
				gae[i] = delta + gamma*tau*b.Masks[t+1][i]*gae[i]
				b.Returns[t][i] = gae[i] + b.ValuePreds[t][i]
			}
		}
		return
	}

	copy(b.Returns[T], bootstrapValue)
	for t := T - 1; t >= 0; t-- {
		for i := 0; i < b.numEnvs; i++ {
			b.Returns[t][i] = b.Rewards[t][i] + gamma*b.Masks[t+1][i]*b.Returns[t+1][i]
		}
	}
}

// AfterUpdate rotates the buffer for the next rollout: the last recorded
// observation, mask, hidden state and previous action become the step-0
// entry and the cursors reset. Nothing else is cleared; stale cells are
// overwritten by the next collection.
func (b *Buffer) AfterUpdate() {
	T := b.CurrentStepIdx()
	for i := 0; i < b.numEnvs; i++ {
		copy(b.Obs[0][i], b.Obs[T][i])
		copy(b.Hidden[0][i], b.Hidden[T][i])
		b.Masks[0][i] = b.Masks[T][i]
		b.PrevActions[0][i] = b.PrevActions[T][i]
	}
	for i := range b.stepIdx {
		b.stepIdx[i] = 0
	}
}

// StepBatch returns the policy inputs for the half's current step.
func (b *Buffer) StepBatch(bufferIndex int) (obs [][]float64, hidden [][]float64, prevActions []int, masks []float64) {
	start, end := b.EnvRange(bufferIndex)
	t := b.stepIdx[bufferIndex]
	return b.Obs[t][start:end], b.Hidden[t][start:end], b.PrevActions[t][start:end], b.Masks[t][start:end]
}

// LastStepBatch returns the policy inputs at the final collected step, used
// to compute the bootstrap value for the whole slot range.
func (b *Buffer) LastStepBatch() (obs [][]float64, hidden [][]float64, prevActions []int, masks []float64) {
	t := b.CurrentStepIdx()
	return b.Obs[t], b.Hidden[t], b.PrevActions[t], b.Masks[t]
}
