package policy

import (
	"encoding/json"
	"math"
	"math/rand"

	"github.com/gobaselines/ppotrain/rollout"
	"github.com/gobaselines/ppotrain/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// decay of the recurrent feature trace carried between steps
const hiddenDecay = 0.9

// Softmax is a linear actor-critic: a softmax head over linear action
// logits and a linear value head, both over the concatenation of the
// observation, the recurrent feature trace and a bias term. The trace is a
// leaky accumulation of recent observations, gated to zero by the mask at
// episode boundaries. Updates run a clipped-surrogate policy gradient with
// SGD and momentum.
type Softmax struct {
	obsSize    int
	hiddenSize int
	numActions int
	featSize   int

	actor  [][]float64 // [numActions][featSize]
	critic []float64   // [featSize]

	actorMom  [][]float64
	criticMom []float64

	lr          float64
	clip        float64
	epochs      int
	entropyCoef float64
	valueCoef   float64
	gamma       float64

	rng *rand.Rand
}

var _ types.Policy = &Softmax{}

func NewSoftmax(cfg *types.Config, obsSize, numActions int) (types.Policy, error) {
	featSize := obsSize + cfg.HiddenSize + 1
	p := &Softmax{
		obsSize:     obsSize,
		hiddenSize:  cfg.HiddenSize,
		numActions:  numActions,
		featSize:    featSize,
		actor:       make([][]float64, numActions),
		actorMom:    make([][]float64, numActions),
		critic:      make([]float64, featSize),
		criticMom:   make([]float64, featSize),
		lr:          cfg.LR,
		clip:        cfg.ClipParam,
		epochs:      cfg.Epochs,
		entropyCoef: cfg.EntropyCoef,
		valueCoef:   cfg.ValueLossCoef,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
	}
	for a := 0; a < numActions; a++ {
		p.actor[a] = make([]float64, featSize)
		p.actorMom[a] = make([]float64, featSize)
		for i := range p.actor[a] {
			p.actor[a][i] = p.rng.NormFloat64() * 0.01
		}
	}
	return p, nil
}

func (p *Softmax) SetLR(lr float64)       { p.lr = lr }
func (p *Softmax) SetClipParam(c float64) { p.clip = c }

// features concatenates observation, mask-gated recurrent trace and bias.
// The mask is zero exactly when an episode terminated entering this step,
// so the old episode's trace never leaks into the new one.
func (p *Softmax) features(obs, hidden []float64, mask float64) []float64 {
	f := make([]float64, p.featSize)
	copy(f, obs)
	for k, h := range hidden {
		f[p.obsSize+k] = h * mask
	}
	f[p.featSize-1] = 1
	return f
}

// nextHidden advances the leaky observation trace. The mask zeroes the
// carried trace exactly at episode boundaries.
func (p *Softmax) nextHidden(obs, hidden []float64, mask float64) []float64 {
	h := make([]float64, p.hiddenSize)
	for k := range h {
		h[k] = hiddenDecay*mask*hidden[k] + (1-hiddenDecay)*obs[k%len(obs)]
	}
	return h
}

func (p *Softmax) logits(feat []float64) []float64 {
	ls := make([]float64, p.numActions)
	for a := range ls {
		ls[a] = floats.Dot(p.actor[a], feat)
	}
	return ls
}

func softmaxProbs(logits []float64) []float64 {
	m := floats.Max(logits)
	probs := make([]float64, len(logits))
	for i, l := range logits {
		probs[i] = math.Exp(l - m)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs
}

func (p *Softmax) Act(obs, hidden [][]float64, prevActions []int, masks []float64) types.ActResult {
	n := len(obs)
	res := types.ActResult{
		Values:     make([]float64, n),
		Actions:    make([]int, n),
		LogProbs:   make([]float64, n),
		NextHidden: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		feat := p.features(obs[i], hidden[i], masks[i])
		probs := softmaxProbs(p.logits(feat))

		a, ok := sampleuv.NewWeighted(probs, nil).Take()
		if !ok {
			// degenerate distribution, fall back to uniform
			a = p.rng.Intn(p.numActions)
		}

		res.Values[i] = floats.Dot(p.critic, feat)
		res.Actions[i] = a
		res.LogProbs[i] = math.Log(probs[a])
		res.NextHidden[i] = p.nextHidden(obs[i], hidden[i], masks[i])
	}
	return res
}

func (p *Softmax) GetValue(obs, hidden [][]float64, prevActions []int, masks []float64) []float64 {
	values := make([]float64, len(obs))
	for i := range obs {
		values[i] = floats.Dot(p.critic, p.features(obs[i], hidden[i], masks[i]))
	}
	return values
}

// Update runs the clipped-surrogate update over the collected rollout and
// returns the named losses averaged over epochs and cells.
func (p *Softmax) Update(b *rollout.Buffer) map[string]float64 {
	T := b.CurrentStepIdx()
	N := b.NumEnvs()

	// advantages, normalized over the whole rollout
	adv := make([][]float64, T)
	flat := make([]float64, 0, T*N)
	for t := 0; t < T; t++ {
		adv[t] = make([]float64, N)
		for i := 0; i < N; i++ {
			adv[t][i] = b.Returns[t][i] - b.ValuePreds[t][i]
			flat = append(flat, adv[t][i])
		}
	}
	mean := floats.Sum(flat) / float64(len(flat))
	variance := 0.0
	for _, v := range flat {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance/float64(len(flat))) + 1e-8
	for t := range adv {
		for i := range adv[t] {
			adv[t][i] = (adv[t][i] - mean) / std
		}
	}

	var actionLoss, valueLoss, entropy float64
	cells := float64(p.epochs * T * N)

	for epoch := 0; epoch < p.epochs; epoch++ {
		actorGrad := make([][]float64, p.numActions)
		for a := range actorGrad {
			actorGrad[a] = make([]float64, p.featSize)
		}
		criticGrad := make([]float64, p.featSize)

		for t := 0; t < T; t++ {
			for i := 0; i < N; i++ {
				feat := p.features(b.Obs[t][i], b.Hidden[t][i], b.Masks[t][i])
				probs := softmaxProbs(p.logits(feat))
				a := b.Actions[t][i]

				logProb := math.Log(probs[a])
				ratio := math.Exp(logProb - b.LogProbs[t][i])
				advTI := adv[t][i]

				surr := ratio * advTI
				clipped := math.Min(math.Max(ratio, 1-p.clip), 1+p.clip) * advTI
				actionLoss += -math.Min(surr, clipped)

				// subgradient of the clipped surrogate: zero once the
				// ratio has left the trust region in the favored direction
				clippedOut := (advTI > 0 && ratio > 1+p.clip) || (advTI < 0 && ratio < 1-p.clip)

				h := 0.0
				for _, pr := range probs {
					if pr > 0 {
						h -= pr * math.Log(pr)
					}
				}
				entropy += h

				for k := 0; k < p.numActions; k++ {
					onehot := 0.0
					if k == a {
						onehot = 1
					}
					g := p.entropyCoef * probs[k] * (math.Log(probs[k]+1e-12) + h)
					if !clippedOut {
						g += -advTI * ratio * (onehot - probs[k])
					}
					floats.AddScaled(actorGrad[k], g, feat)
				}

				vPred := floats.Dot(p.critic, feat)
				vErr := vPred - b.Returns[t][i]
				valueLoss += 0.5 * vErr * vErr
				floats.AddScaled(criticGrad, p.valueCoef*vErr, feat)
			}
		}

		scale := 1 / float64(T*N)
		for a := 0; a < p.numActions; a++ {
			for k := 0; k < p.featSize; k++ {
				p.actorMom[a][k] = 0.9*p.actorMom[a][k] + actorGrad[a][k]*scale
				p.actor[a][k] -= p.lr * p.actorMom[a][k]
			}
		}
		for k := 0; k < p.featSize; k++ {
			p.criticMom[k] = 0.9*p.criticMom[k] + criticGrad[k]*scale
			p.critic[k] -= p.lr * p.criticMom[k]
		}
	}

	return map[string]float64{
		"action_loss":  actionLoss / cells,
		"value_loss":   valueLoss / cells,
		"dist_entropy": entropy / cells,
	}
}

type softmaxState struct {
	Actor  [][]float64 `json:"actor"`
	Critic []float64   `json:"critic"`
}

func (p *Softmax) StateDict() ([]byte, error) {
	return json.Marshal(softmaxState{Actor: p.actor, Critic: p.critic})
}

func (p *Softmax) LoadStateDict(data []byte) error {
	var s softmaxState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	p.actor = s.Actor
	p.critic = s.Critic
	return nil
}

func (p *Softmax) OptimState() ([]byte, error) {
	return json.Marshal(softmaxState{Actor: p.actorMom, Critic: p.criticMom})
}

func (p *Softmax) LoadOptimState(data []byte) error {
	var s softmaxState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	p.actorMom = s.Actor
	p.criticMom = s.Critic
	return nil
}
