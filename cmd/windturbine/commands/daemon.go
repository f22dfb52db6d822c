package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
	"github.com/teranos/windturbine/pulse/coordinator"
	"github.com/teranos/windturbine/trigger"
)

// DaemonCmd runs the pipeline every time the artifact is dropped
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch for artifacts and run the pipeline on each drop",
	Long: `Start the coordinator and watch the artifact directory. A run is submitted
whenever the artifact is created or written and no run is active.

Ctrl+C cancels active runs, lets in-flight steps finish and exits.`,
	RunE: runDaemon,
}

func init() {
	DaemonCmd.Flags().Bool("dry-run", false, "Use an in-memory destination and record notifications instead of sending")
}

// consoleObserver prints one line per finished run
type consoleObserver struct {
	coordinator.NopObserver
}

func (consoleObserver) RunFinished(_ context.Context, run *coordinator.RunResult) error {
	msg := pterm.Sprintf("Run %s %s in %s", run.RunID, statusLabel(run.Status, run.Cancelled),
		formatDuration(run.FinishedAt.Sub(run.StartedAt)))
	if run.Status == coordinator.StatusSuccess {
		pterm.Success.Println(msg)
		return nil
	}
	pterm.Error.Println(msg)
	for _, s := range run.Failures() {
		pterm.Printf("  %s [%s] %s\n", s.ID, s.Kind, truncate(s.Error, 100))
	}
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg, dryRun, consoleObserver{})
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.pipeline.Start()
	watcher, err := trigger.NewWatcher(cfg.Sensor.Path, rt.pipeline, logger.Logger.Named("trigger"))
	if err != nil {
		return errors.Wrap(err, "failed to start artifact watcher")
	}
	watcher.Start()

	pterm.Success.Println("windturbine daemon started")
	pterm.Printf("  Artifact: %s\n", cfg.Sensor.Path)
	pterm.Printf("  Workers: %d\n", cfg.Pulse.Workers)
	pterm.Printf("  Threshold: %.2f\n", cfg.Alert.Threshold)
	pterm.Printf("  Destination: %s table %s\n", cfg.Destination.Driver, cfg.Destination.Table)
	if dryRun {
		pterm.Warning.Println("DRY RUN MODE: notifications are recorded, not sent")
	}
	pterm.Info.Println("Press Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)

	pterm.Info.Println("Shutting down, in-flight steps will finish")
	if err := watcher.Stop(); err != nil {
		logger.Warnw("Watcher stop failed", logger.FieldError, err)
	}
	if rt.outbox != nil {
		printOutbox(rt.outbox)
	}
	return nil
}
