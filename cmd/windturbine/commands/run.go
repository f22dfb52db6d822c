package commands

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/windturbine/am"
	"github.com/teranos/windturbine/db"
	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
	"github.com/teranos/windturbine/notify"
	"github.com/teranos/windturbine/pipeline"
	"github.com/teranos/windturbine/pulse/coordinator"
	"github.com/teranos/windturbine/pulse/history"
)

// RunCmd executes one pipeline run in the foreground
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run and wait for it",
	Long: `Submit one run, wait for every reachable step to finish and print the
step outcomes. Exits non-zero when the run fails.

With --dry-run the reading is written to an in-memory database, notifications
are printed instead of sent, and nothing is archived.

Ctrl+C cancels the run: steps already executing finish, the rest are cancelled.`,
	RunE: runRun,
}

func init() {
	RunCmd.Flags().Bool("dry-run", false, "Use an in-memory destination and print notifications instead of sending")
}

// pipelineRuntime holds everything a pipeline needs, with a single close
type pipelineRuntime struct {
	pipeline *pipeline.Pipeline
	outbox   *notify.Outbox
	closers  []func() error
}

func (r *pipelineRuntime) Close() {
	r.pipeline.Stop()
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			logger.Warnw("Close failed", logger.FieldError, err)
		}
	}
}

func buildRuntime(cfg *am.Config, dryRun bool, extra ...coordinator.Observer) (*pipelineRuntime, error) {
	rt := &pipelineRuntime{}
	var (
		dest      *sql.DB
		sender    notify.Sender
		observers []coordinator.Observer
		err       error
	)

	if dryRun {
		dest, err = db.Open(":memory:", logger.Logger)
		if err != nil {
			return nil, err
		}
		dest.SetMaxOpenConns(1)
		rt.outbox = notify.NewOutbox()
		sender = rt.outbox
	} else {
		dest, err = openDestination(cfg)
		if err != nil {
			return nil, err
		}
		sender = notify.FromConfig(cfg.Notify, logger.Logger.Named("notify"))

		historyDB, err := openHistory(cfg)
		if err != nil {
			dest.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, historyDB.Close)
		observers = append(observers, history.NewStore(historyDB))
	}
	rt.closers = append(rt.closers, dest.Close)
	observers = append(observers, extra...)

	p, err := pipeline.New(pipeline.SettingsFromConfig(cfg), pipeline.Deps{
		Destination: dest,
		Sender:      sender,
		Observers:   observers,
	}, logger.Logger)
	if err != nil {
		for _, c := range rt.closers {
			c()
		}
		return nil, err
	}
	rt.pipeline = p
	return rt, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg, dryRun)
	if err != nil {
		return err
	}
	defer rt.Close()

	if dryRun {
		pterm.Warning.Println("DRY RUN MODE: notifications are recorded, not sent")
	}
	pterm.Info.Printf("Waiting for %s (poke every %s, timeout %s)\n",
		cfg.Sensor.Path, cfg.Sensor.PokeInterval(), cfg.Sensor.Timeout())

	rt.pipeline.Start()
	ctx := context.Background()
	handle, err := rt.pipeline.Launch(ctx, coordinator.Trigger{Source: "cli", At: time.Now()})
	if err != nil {
		return errors.Wrap(err, "failed to submit run")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		if _, ok := <-sigChan; ok {
			pterm.Warning.Println("Cancelling run, in-flight steps will finish")
			if err := handle.Cancel(); err != nil {
				logger.Debugw("Cancel after finish", logger.FieldRunID, handle.ID(), logger.FieldError, err)
			}
		}
	}()

	res, err := handle.Await(ctx)
	if err != nil {
		return err
	}

	pterm.Println()
	pterm.DefaultSection.Printf("Run %s: %s", res.RunID, statusLabel(res.Status, res.Cancelled))
	if err := renderSteps(res.Ordered()); err != nil {
		return err
	}

	if rt.outbox != nil {
		printOutbox(rt.outbox)
	}
	return res.Err()
}

func printOutbox(box *notify.Outbox) {
	sent := box.Sent()
	if len(sent) == 0 {
		pterm.Info.Println("No notifications recorded")
		return
	}
	pterm.Info.Printf("%d notification(s) recorded:\n", len(sent))
	for _, m := range sent {
		pterm.Printf("  To: %s\n  Subject: %s\n", m.To, m.Subject)
	}
}
