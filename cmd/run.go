package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/extract-runner/internal/config"
	"github.com/sells-group/extract-runner/internal/monitoring"
	"github.com/sells-group/extract-runner/internal/pipeline"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the extract, upload and archive cycle",
	Long: "Runs one cycle with --once or when loop.interval_seconds is 0, otherwise repeats the cycle every interval " +
		"until interrupted. A failed cycle in loop mode is logged and the loop continues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runOnce {
			cfg.Loop.IntervalSeconds = 0
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		checker := newChecker(cfg)
		r, err := pipeline.FromConfig(cfg, pipeline.WithObserver(checker))
		if err != nil {
			return eris.Wrap(err, "build pipeline")
		}

		if cfg.Loop.IntervalSeconds == 0 {
			return runSingle(ctx, cmd.OutOrStdout(), r)
		}
		return runLoop(ctx, cfg.Monitoring, r, checker)
	},
}

func newChecker(c *config.Config) *monitoring.Checker {
	return monitoring.NewChecker(monitoring.NewCollector(), monitoring.NewAlerter(c.Monitoring))
}

func runSingle(ctx context.Context, w io.Writer, r *pipeline.Runner) error {
	rep, err := r.RunOnce(ctx)
	if rep != nil {
		fmt.Fprint(w, pipeline.FormatReport(rep))
	}
	return err
}

// runLoop runs the pipeline loop and, when a metrics address is configured,
// the metrics server alongside it. Either member failing stops both.
func runLoop(ctx context.Context, mc config.MonitoringConfig, r *pipeline.Runner, checker *monitoring.Checker) error {
	g, gctx := errgroup.WithContext(ctx)

	if mc.MetricsAddr != "" {
		g.Go(func() error {
			return monitoring.Serve(gctx, mc.MetricsAddr, monitoring.NewRouter(checker.Collector()))
		})
	} else {
		zap.L().Debug("metrics server disabled")
	}

	g.Go(func() error {
		return r.Loop(gctx)
	})

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "run loop")
	}
	return nil
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle regardless of loop.interval_seconds")
	rootCmd.AddCommand(runCmd)
}
