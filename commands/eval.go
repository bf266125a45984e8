package commands

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gobaselines/ppotrain/gridnav"
	"github.com/gobaselines/ppotrain/tracker"
	"github.com/gobaselines/ppotrain/trainer"
)

func EvalCommand() *cobra.Command {
	var checkpoint string
	var episodes int

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			cfg.EvalCheckpoint = checkpoint
			if episodes > 0 {
				cfg.TestEpisodeCount = episodes
			}

			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()
			log := logger.Sugar()

			sink, err := newSink(cfg)
			if err != nil {
				return err
			}
			defer sink.Close()

			t, err := trainer.New(cfg, log, sink, tracker.NewLocalTracker(), gridnav.Factory(cfg))
			if err != nil {
				return err
			}
			return t.Eval(context.Background())
		},
	}
	cmd.PersistentFlags().StringVar(&checkpoint, "checkpoint", "", "Checkpoint file to evaluate (defaults to the latest alias)")
	cmd.PersistentFlags().IntVar(&episodes, "episodes", 0, "Number of distinct episodes to evaluate")
	return cmd
}
