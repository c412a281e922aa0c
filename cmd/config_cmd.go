package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/extract-runner/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig(cmd.OutOrStdout(), cfg)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateConfig(cmd.OutOrStdout(), cfg)
	},
}

func showConfig(w io.Writer, c *config.Config) error {
	out, err := config.Render(c)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func validateConfig(w io.Writer, c *config.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(w, "configuration is valid")
	return nil
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
