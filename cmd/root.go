package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/config"
)

var (
	cfg        *config.Config
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "extract-runner",
	Short: "Runs the report extractor and ships its output",
	Long: "Runs the external report extractor, picks up the newest output file once it has stopped changing, " +
		"then either reshapes and uploads it or enriches it through the lookup service, and archives it.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyOverrides(c, cmd.Flags())
		if verbose {
			c.Log.Level = "debug"
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// addOverrideFlags registers the flags that take precedence over the config
// file and environment.
func addOverrideFlags(fs *pflag.FlagSet) {
	fs.String("endpoint", "", "upload endpoint URL (overrides api.endpoint)")
	fs.String("mode", "", "upload mode: multipart, json_base64 or lookup_enrich (overrides api.mode)")
	fs.String("output-dir", "", "extractor output directory (overrides files.output_dir)")
	fs.String("file-glob", "", "output file pattern (overrides files.file_glob)")
	fs.Int("loop-interval", 0, "seconds between runs, 0 runs once (overrides loop.interval_seconds)")
}

// applyOverrides copies every override flag that was set on the command line
// into c.
func applyOverrides(c *config.Config, fs *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	str("endpoint", &c.API.Endpoint)
	str("mode", &c.API.Mode)
	str("output-dir", &c.Files.OutputDir)
	str("file-glob", &c.Files.FileGlob)
	if fs.Changed("loop-interval") {
		c.Loop.IntervalSeconds, _ = fs.GetInt("loop-interval")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./"+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	addOverrideFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
