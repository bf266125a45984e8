package types

import "github.com/gobaselines/ppotrain/rollout"

// ActResult is one batched action-selection output.
type ActResult struct {
	Values     []float64
	Actions    []int
	LogProbs   []float64
	NextHidden [][]float64
}

// Policy is the opaque policy capability the trainer drives. How it maps
// observations to actions is its own business; the trainer only relies on
// the act / get-value / update contract and on the state blobs
// round-tripping losslessly through a checkpoint.
type Policy interface {
	Act(obs, hidden [][]float64, prevActions []int, masks []float64) ActResult
	GetValue(obs, hidden [][]float64, prevActions []int, masks []float64) []float64
	// Update consumes one collected rollout and returns its named losses
	Update(b *rollout.Buffer) map[string]float64

	// decay schedules are pushed in from the trainer, derived from
	// percent-done rather than persisted
	SetLR(lr float64)
	SetClipParam(clip float64)

	StateDict() ([]byte, error)
	LoadStateDict(data []byte) error
	OptimState() ([]byte, error)
	LoadOptimState(data []byte) error
}

// PolicyFactory builds a policy for the given spaces.
type PolicyFactory func(cfg *Config, obsSize, numActions int) (Policy, error)
