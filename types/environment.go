package types

// EpisodeID identifies the episode a slot is currently running. Stable
// across steps of the same episode; used for evaluation de-duplication.
type EpisodeID struct {
	SceneID   string `json:"scene_id"`
	EpisodeID string `json:"episode_id"`
}

// StepResult is what one environment step produces. Info carries free-form
// per-step measures; numeric leaves are extracted for metrics.
type StepResult struct {
	Obs    []float64
	Reward float64
	Done   bool
	Info   map[string]any
}

// Environment is one simulated environment instance. Implementations are
// not safe for concurrent use; the pool gives each instance its own worker.
type Environment interface {
	// Reset starts a new episode and returns its first observation
	Reset() []float64
	// Step executes one action. When the episode ends the pool resets the
	// environment and substitutes the next episode's first observation.
	Step(action int) StepResult
	// EpisodeID of the episode currently running
	EpisodeID() EpisodeID
	ObservationSize() int
	NumActions() int
	Close() error
}

// EnvFactory constructs the environment for one pool slot. Seeds must
// differ per slot so parallel episodes do not mirror each other.
type EnvFactory func(seed int64, slot int) Environment
