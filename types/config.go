package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Config is the full experiment configuration. It round-trips through JSON
// and is embedded in every checkpoint so a resumed run sees exactly the
// configuration it started with.
type Config struct {
	// loop sizing
	NumEnvironments int `json:"num_environments"`
	NumSteps        int `json:"num_steps"`
	TotalNumSteps   int `json:"total_num_steps"`
	TotalUpdates    int `json:"total_updates"`

	// learner
	PolicyName         string  `json:"policy_name"`
	Gamma              float64 `json:"gamma"`
	Tau                float64 `json:"tau"`
	UseGAE             bool    `json:"use_gae"`
	LR                 float64 `json:"lr"`
	Epochs             int     `json:"epochs"`
	ClipParam          float64 `json:"clip_param"`
	EntropyCoef        float64 `json:"entropy_coef"`
	ValueLossCoef      float64 `json:"value_loss_coef"`
	UseLinearLRDecay   bool    `json:"use_linear_lr_decay"`
	UseLinearClipDecay bool    `json:"use_linear_clip_decay"`
	HiddenSize         int     `json:"hidden_size"`
	DoubleBuffered     bool    `json:"double_buffered"`

	// logging and checkpoints
	RewardWindowSize    int    `json:"reward_window_size"`
	LogInterval         int    `json:"log_interval"`
	NumCheckpoints      int    `json:"num_checkpoints"`
	ResumeStateInterval int    `json:"resume_state_interval"`
	CheckpointFolder    string `json:"checkpoint_folder"`
	MetricsDir          string `json:"metrics_dir"`
	StatusAddr          string `json:"status_addr"`

	// distributed
	WorldSize int     `json:"world_size"`
	Rank      int     `json:"rank"`
	RedisAddr string  `json:"redis_addr"`
	JobID     string  `json:"job_id"`
	SyncFrac  float64 `json:"sync_frac"`

	// evaluation
	TestEpisodeCount int    `json:"test_episode_count"`
	EvalsPerEp       int    `json:"evals_per_ep"`
	EvalCheckpoint   string `json:"eval_checkpoint"`

	// environment
	Seed           int64 `json:"seed"`
	SceneCount     int   `json:"scene_count"`
	GridHeight     int   `json:"grid_height"`
	GridWidth      int   `json:"grid_width"`
	EpisodeHorizon int   `json:"episode_horizon"`
}

func DefaultConfig() *Config {
	return &Config{
		NumEnvironments: 8,
		NumSteps:        128,
		TotalNumSteps:   1_000_000,
		TotalUpdates:    -1,

		PolicyName:         "softmax",
		Gamma:              0.99,
		Tau:                0.95,
		UseGAE:             true,
		LR:                 2.5e-4,
		Epochs:             2,
		ClipParam:          0.2,
		EntropyCoef:        0.01,
		ValueLossCoef:      0.5,
		UseLinearLRDecay:   true,
		UseLinearClipDecay: false,
		HiddenSize:         16,
		DoubleBuffered:     true,

		RewardWindowSize:    50,
		LogInterval:         10,
		NumCheckpoints:      10,
		ResumeStateInterval: 0,
		CheckpointFolder:    "checkpoints",
		MetricsDir:          "metrics",
		StatusAddr:          "",

		WorldSize: 1,
		Rank:      0,
		RedisAddr: "127.0.0.1:6379",
		JobID:     "ppotrain",
		SyncFrac:  0.8,

		TestEpisodeCount: 20,
		EvalsPerEp:       1,
		EvalCheckpoint:   "",

		Seed:           1,
		SceneCount:     4,
		GridHeight:     16,
		GridWidth:      16,
		EpisodeHorizon: 200,
	}
}

// Apply merges free-form key=value overrides into the config. Unknown keys
// and malformed values are configuration errors, reported eagerly.
func (c *Config) Apply(overrides []string) error {
	for _, o := range overrides {
		key, value, found := strings.Cut(o, "=")
		if !found {
			return fmt.Errorf("override %q is not of the form key=value", o)
		}
		if err := c.set(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "num_environments":
		c.NumEnvironments, err = strconv.Atoi(value)
	case "num_steps":
		c.NumSteps, err = strconv.Atoi(value)
	case "total_num_steps":
		c.TotalNumSteps, err = strconv.Atoi(value)
	case "total_updates":
		c.TotalUpdates, err = strconv.Atoi(value)
	case "policy_name":
		c.PolicyName = value
	case "gamma":
		c.Gamma, err = strconv.ParseFloat(value, 64)
	case "tau":
		c.Tau, err = strconv.ParseFloat(value, 64)
	case "use_gae":
		c.UseGAE, err = strconv.ParseBool(value)
	case "lr":
		c.LR, err = strconv.ParseFloat(value, 64)
	case "epochs":
		c.Epochs, err = strconv.Atoi(value)
	case "clip_param":
		c.ClipParam, err = strconv.ParseFloat(value, 64)
	case "entropy_coef":
		c.EntropyCoef, err = strconv.ParseFloat(value, 64)
	case "value_loss_coef":
		c.ValueLossCoef, err = strconv.ParseFloat(value, 64)
	case "use_linear_lr_decay":
		c.UseLinearLRDecay, err = strconv.ParseBool(value)
	case "use_linear_clip_decay":
		c.UseLinearClipDecay, err = strconv.ParseBool(value)
	case "hidden_size":
		c.HiddenSize, err = strconv.Atoi(value)
	case "double_buffered":
		c.DoubleBuffered, err = strconv.ParseBool(value)
	case "reward_window_size":
		c.RewardWindowSize, err = strconv.Atoi(value)
	case "log_interval":
		c.LogInterval, err = strconv.Atoi(value)
	case "num_checkpoints":
		c.NumCheckpoints, err = strconv.Atoi(value)
	case "resume_state_interval":
		c.ResumeStateInterval, err = strconv.Atoi(value)
	case "checkpoint_folder":
		c.CheckpointFolder = value
	case "metrics_dir":
		c.MetricsDir = value
	case "status_addr":
		c.StatusAddr = value
	case "world_size":
		c.WorldSize, err = strconv.Atoi(value)
	case "rank":
		c.Rank, err = strconv.Atoi(value)
	case "redis_addr":
		c.RedisAddr = value
	case "job_id":
		c.JobID = value
	case "sync_frac":
		c.SyncFrac, err = strconv.ParseFloat(value, 64)
	case "test_episode_count":
		c.TestEpisodeCount, err = strconv.Atoi(value)
	case "evals_per_ep":
		c.EvalsPerEp, err = strconv.Atoi(value)
	case "eval_checkpoint":
		c.EvalCheckpoint = value
	case "seed":
		c.Seed, err = strconv.ParseInt(value, 10, 64)
	case "scene_count":
		c.SceneCount, err = strconv.Atoi(value)
	case "grid_height":
		c.GridHeight, err = strconv.Atoi(value)
	case "grid_width":
		c.GridWidth, err = strconv.Atoi(value)
	case "episode_horizon":
		c.EpisodeHorizon, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	if err != nil {
		return fmt.Errorf("bad value %q for config key %q: %w", value, key, err)
	}
	return nil
}

// Validate checks the preconditions that make a run well-formed. These are
// configuration errors: fatal, raised before anything starts.
func (c *Config) Validate() error {
	if c.NumEnvironments <= 0 {
		return fmt.Errorf("num_environments must be positive, got %d", c.NumEnvironments)
	}
	if c.NumSteps <= 0 {
		return fmt.Errorf("num_steps must be positive, got %d", c.NumSteps)
	}
	if c.TotalNumSteps <= 0 && c.TotalUpdates <= 0 {
		return fmt.Errorf("one of total_num_steps and total_updates must be positive")
	}
	if c.DoubleBuffered && c.NumEnvironments%2 != 0 {
		return fmt.Errorf("double buffering needs an even number of environments, got %d", c.NumEnvironments)
	}
	if c.WorldSize < 1 {
		return fmt.Errorf("world_size must be at least 1, got %d", c.WorldSize)
	}
	if c.Rank < 0 || c.Rank >= c.WorldSize {
		return fmt.Errorf("rank %d out of range for world size %d", c.Rank, c.WorldSize)
	}
	if c.SyncFrac <= 0 || c.SyncFrac > 1 {
		return fmt.Errorf("sync_frac must be in (0, 1], got %f", c.SyncFrac)
	}
	return nil
}
