package commands

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gobaselines/ppotrain/gridnav"
	"github.com/gobaselines/ppotrain/metrics"
	"github.com/gobaselines/ppotrain/tracker"
	"github.com/gobaselines/ppotrain/trainer"
	"github.com/gobaselines/ppotrain/types"
)

func TrainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Run the training loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}

			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()
			log := logger.Sugar()

			trk := newTracker(cfg)
			defer trk.Close()

			sink, err := newSink(cfg)
			if err != nil {
				return err
			}
			defer sink.Close()

			t, err := trainer.New(cfg, log, sink, trk, gridnav.Factory(cfg))
			if err != nil {
				return err
			}
			return t.Train(context.Background())
		},
	}
}

// newTracker picks the shared tracker for distributed runs, or the
// in-process one when there is nothing to share.
func newTracker(cfg *types.Config) tracker.Tracker {
	if cfg.WorldSize > 1 {
		return tracker.NewRedisTracker(cfg.RedisAddr, cfg.JobID)
	}
	return tracker.NewLocalTracker()
}

// newSink records scalars on rank 0 only; peer ranks contribute through
// the post-update reduction instead.
func newSink(cfg *types.Config) (metrics.Sink, error) {
	if cfg.Rank != 0 {
		return metrics.NopSink{}, nil
	}
	return metrics.NewJSONLSink(cfg.MetricsDir, "reward", "perf/fps")
}
