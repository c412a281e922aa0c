package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/extract-runner/internal/pipeline"
)

var enrichLatestCmd = &cobra.Command{
	Use:   "enrich-latest",
	Short: "Enrich and post the newest existing file without running the extractor",
	Long: "Finds the newest file already in files.output_dir, waits for it to stop changing, enriches it through " +
		"the lookup service and posts the rows. Requires lookup.enabled and api.mode 'lookup_enrich'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(); err != nil {
			return err
		}

		r, err := pipeline.FromConfig(cfg, pipeline.WithObserver(newChecker(cfg)))
		if err != nil {
			return eris.Wrap(err, "build pipeline")
		}

		rep, err := r.EnrichLatest(ctx)
		if rep != nil {
			fmt.Fprint(cmd.OutOrStdout(), pipeline.FormatReport(rep))
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(enrichLatestCmd)
}
