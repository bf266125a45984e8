// Package commands wires the command line surface: a run-mode subcommand
// per entry point, persistent flags for the common knobs, and free-form
// key=value overrides for everything else in the configuration.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/gobaselines/ppotrain/types"
)

var (
	numEnvs          int
	numSteps         int
	totalNumSteps    int
	checkpointFolder string
	metricsDir       string
	worldSize        int
	rank             int
	redisAddr        string
	jobID            string
	seed             int64
	overrides        []string
)

func GetRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "ppotrain",
		Short:         "actor-learner PPO training orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCommand.PersistentFlags().IntVarP(&numEnvs, "num-envs", "n", 8, "Number of parallel environments")
	rootCommand.PersistentFlags().IntVar(&numSteps, "num-steps", 128, "Rollout length per update")
	rootCommand.PersistentFlags().IntVar(&totalNumSteps, "total-steps", 1_000_000, "Total environment steps to train for")
	rootCommand.PersistentFlags().StringVarP(&checkpointFolder, "checkpoint-folder", "c", "checkpoints", "Folder for checkpoints and resume state")
	rootCommand.PersistentFlags().StringVar(&metricsDir, "metrics-dir", "metrics", "Folder for recorded scalars and plots")
	rootCommand.PersistentFlags().IntVar(&worldSize, "world-size", 1, "Number of distributed worker processes")
	rootCommand.PersistentFlags().IntVar(&rank, "rank", 0, "Rank of this worker process")
	rootCommand.PersistentFlags().StringVar(&redisAddr, "redis", "127.0.0.1:6379", "Redis address for the distributed rollout tracker")
	rootCommand.PersistentFlags().StringVar(&jobID, "job-id", "ppotrain", "Job identifier namespacing the tracker keys")
	rootCommand.PersistentFlags().Int64Var(&seed, "seed", 1, "Base random seed")
	rootCommand.PersistentFlags().StringArrayVar(&overrides, "set", nil, "Free-form config overrides, key=value")
	// adding the subcommands here
	rootCommand.AddCommand(TrainCommand())
	rootCommand.AddCommand(EvalCommand())
	return rootCommand
}

// buildConfig merges the flags and the free-form overrides into a config.
func buildConfig() (*types.Config, error) {
	cfg := types.DefaultConfig()
	cfg.NumEnvironments = numEnvs
	cfg.NumSteps = numSteps
	cfg.TotalNumSteps = totalNumSteps
	cfg.CheckpointFolder = checkpointFolder
	cfg.MetricsDir = metricsDir
	cfg.WorldSize = worldSize
	cfg.Rank = rank
	cfg.RedisAddr = redisAddr
	cfg.JobID = jobID
	cfg.Seed = seed

	if err := cfg.Apply(overrides); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
