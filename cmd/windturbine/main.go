package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/windturbine/cmd/windturbine/commands"
	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
)

var rootCmd = &cobra.Command{
	Use:   "windturbine",
	Short: "windturbine - sensor ingestion and temperature alert pipeline",
	Long: `windturbine - sensor ingestion and temperature alert pipeline.

Each run waits for a sensor artifact, stages its fields, appends them to the
destination table and mails an alert or a normal-temperature notice.

Available commands:
  run     - Execute one pipeline run and wait for it
  daemon  - Watch for artifacts and run the pipeline on each drop
  runs    - Inspect archived runs
  am      - Inspect configuration
  version - Show build information

Examples:
  windturbine run                      # One run against the configured artifact
  windturbine run --dry-run            # Record notifications instead of sending them
  windturbine daemon -v                # Watch the artifact directory
  windturbine runs ls                  # Recent runs
  windturbine am show --format yaml    # Effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Load configuration from this file only (env vars still apply)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		os.Exit(1)
	}
}
