package trainer

// StatsWindow is a fixed-capacity sliding window of aggregated episode
// stat snapshots, oldest evicted first. Entries hold cumulative totals, so
// the smoothed value over the window is last minus first.
type StatsWindow struct {
	Capacity int                  `json:"capacity"`
	Entries  []map[string]float64 `json:"entries"`
}

func NewStatsWindow(capacity int) *StatsWindow {
	return &StatsWindow{Capacity: capacity}
}

func (w *StatsWindow) Push(entry map[string]float64) {
	w.Entries = append(w.Entries, entry)
	if len(w.Entries) > w.Capacity {
		w.Entries = w.Entries[1:]
	}
}

func (w *StatsWindow) Len() int { return len(w.Entries) }

// Deltas returns, per key, the change in the cumulative total across the
// window. With a single entry the total itself is returned, matching the
// behavior right after a fresh start.
func (w *StatsWindow) Deltas() map[string]float64 {
	out := make(map[string]float64)
	if len(w.Entries) == 0 {
		return out
	}
	last := w.Entries[len(w.Entries)-1]
	first := w.Entries[0]
	for k, v := range last {
		if len(w.Entries) > 1 {
			out[k] = v - first[k]
		} else {
			out[k] = v
		}
	}
	return out
}

// TrainingState is every mutable counter the training loop owns. One
// orchestrator mutates it; distributed peers keep independent copies merged
// only through the explicit post-update reduction. It round-trips through
// the checkpoint record.
type TrainingState struct {
	NumStepsDone   int `json:"num_steps_done"`
	NumUpdatesDone int `json:"num_updates_done"`

	// wall-clock seconds split by where they were spent; PrevTime carries
	// the elapsed time of prior segments across preemptions
	EnvTime     float64 `json:"env_time"`
	ComputeTime float64 `json:"compute_time"`
	PrevTime    float64 `json:"prev_time"`

	CountCheckpoints      int     `json:"count_checkpoints"`
	LastCheckpointPercent float64 `json:"last_checkpoint_percent"`

	// cumulative per-slot episode totals, keyed by stat name; "count" and
	// "reward" are always present
	RunningEpisodeStats map[string][]float64 `json:"running_episode_stats"`

	Window *StatsWindow `json:"window_episode_stats"`
}

func NewTrainingState(numEnvs, windowSize int) *TrainingState {
	return &TrainingState{
		LastCheckpointPercent: -1.0,
		RunningEpisodeStats: map[string][]float64{
			"count":  make([]float64, numEnvs),
			"reward": make([]float64, numEnvs),
		},
		Window: NewStatsWindow(windowSize),
	}
}

// StatSlots returns the per-slot accumulator for the named stat, creating
// it on first use.
func (s *TrainingState) StatSlots(name string, numEnvs int) []float64 {
	if _, ok := s.RunningEpisodeStats[name]; !ok {
		s.RunningEpisodeStats[name] = make([]float64, numEnvs)
	}
	return s.RunningEpisodeStats[name]
}
