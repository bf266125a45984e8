package envpool

import (
	"fmt"

	"github.com/gobaselines/ppotrain/types"
)

// slot holds one environment worker and the channel pair that carries its
// in-flight step. Request and result channels are buffered with capacity
// one: a submit never blocks the control thread and at most one step per
// slot is ever in flight.
type slot struct {
	env      types.Environment
	requests chan int
	results  chan types.StepResult
	inFlight bool
}

// Pool drives a fixed set of independent environments. Each slot gets its
// own worker goroutine, so all active slots step concurrently with each
// other and with whatever the control thread is doing. The pool itself is
// owned by a single control thread; only the channels cross goroutines.
type Pool struct {
	slots []*slot
}

// New constructs and starts a pool of n environments.
func New(factory types.EnvFactory, n int, seed int64) *Pool {
	p := &Pool{slots: make([]*slot, n)}
	for i := 0; i < n; i++ {
		s := &slot{
			env:      factory(seed+int64(i), i),
			requests: make(chan int, 1),
			results:  make(chan types.StepResult, 1),
		}
		p.slots[i] = s
		go s.run()
	}
	return p
}

func (s *slot) run() {
	for action := range s.requests {
		r := s.env.Step(action)
		if r.Done {
			// auto-reset: the returned observation is the first one of the
			// next episode, the reward/done/info still belong to the one
			// that ended
			r.Obs = s.env.Reset()
		}
		s.results <- r
	}
}

func (p *Pool) NumEnvs() int { return len(p.slots) }

// Reset synchronously resets every slot and returns the first observation
// batch. Must be called before the first rollout.
func (p *Pool) Reset() [][]float64 {
	obs := make([][]float64, len(p.slots))
	for i, s := range p.slots {
		obs[i] = s.env.Reset()
	}
	return obs
}

// AsyncStepAt submits an action for the slot without blocking. Submitting
// while a step is already in flight is a programming error.
func (p *Pool) AsyncStepAt(index int, action int) {
	s := p.slots[index]
	if s.inFlight {
		panic(fmt.Sprintf("envpool: slot %d already has a step in flight", index))
	}
	s.inFlight = true
	s.requests <- action
}

// WaitStepAt blocks until the slot's in-flight step completes. Calling it
// without a matching AsyncStepAt is an error.
func (p *Pool) WaitStepAt(index int) (types.StepResult, error) {
	s := p.slots[index]
	if !s.inFlight {
		return types.StepResult{}, fmt.Errorf("envpool: no step in flight for slot %d", index)
	}
	r := <-s.results
	s.inFlight = false
	return r, nil
}

// Step runs one synchronous step on every slot.
func (p *Pool) Step(actions []int) ([]types.StepResult, error) {
	if len(actions) != len(p.slots) {
		return nil, fmt.Errorf("envpool: %d actions for %d slots", len(actions), len(p.slots))
	}
	for i, a := range actions {
		p.AsyncStepAt(i, a)
	}
	results := make([]types.StepResult, len(p.slots))
	for i := range p.slots {
		r, err := p.WaitStepAt(i)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// CurrentEpisodes returns the episode identifier of every active slot.
func (p *Pool) CurrentEpisodes() []types.EpisodeID {
	ids := make([]types.EpisodeID, len(p.slots))
	for i, s := range p.slots {
		ids[i] = s.env.EpisodeID()
	}
	return ids
}

// Pause removes the given slots from the active pool and compacts the
// remainder, preserving their relative order. It returns the old indices of
// the retained slots so the caller can re-index per-slot auxiliary state
// (hidden states, previous actions, episode rewards) the same way. Pausing
// a slot with a step in flight is a programming error.
func (p *Pool) Pause(indices []int) []int {
	paused := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(p.slots) {
			panic(fmt.Sprintf("envpool: pausing slot %d of %d", i, len(p.slots)))
		}
		paused[i] = true
	}

	kept := make([]int, 0, len(p.slots)-len(paused))
	slots := make([]*slot, 0, len(p.slots)-len(paused))
	for i, s := range p.slots {
		if paused[i] {
			if s.inFlight {
				panic(fmt.Sprintf("envpool: pausing slot %d with a step in flight", i))
			}
			close(s.requests)
			s.env.Close()
			continue
		}
		kept = append(kept, i)
		slots = append(slots, s)
	}
	p.slots = slots
	return kept
}

// Close shuts every worker down. In-flight steps are drained first so no
// step is ever cancelled mid-flight.
func (p *Pool) Close() {
	for i, s := range p.slots {
		if s.inFlight {
			p.WaitStepAt(i)
		}
		close(s.requests)
		s.env.Close()
	}
	p.slots = nil
}

// Gather re-indexes a per-slot slice to match the compacted ordering
// returned by Pause.
func Gather[T any](xs []T, kept []int) []T {
	out := make([]T, len(kept))
	for i, k := range kept {
		out[i] = xs[k]
	}
	return out
}
