package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/pulse/history"
)

// RunsCmd groups the run-history commands
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect archived runs",
	Long: `List and inspect runs archived in the run-history database (database.path).

Examples:
  windturbine runs ls               # 20 most recent runs
  windturbine runs ls --limit 5
  windturbine runs show <run-id>    # Step outcomes of one run`,
}

var runsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List recent runs",
	RunE:    runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its step outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().Int("limit", history.DefaultListLimit, "Maximum number of runs to list")
	runsShowCmd.Flags().BoolP("json", "j", false, "Output the run as JSON")

	RunsCmd.AddCommand(runsListCmd)
	RunsCmd.AddCommand(runsShowCmd)
}

func openHistoryStore() (*history.Store, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := openHistory(cfg)
	if err != nil {
		return nil, nil, err
	}
	return history.NewStore(database), database.Close, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	store, closeDB, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := store.ListRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		pterm.Info.Println("No runs recorded")
		return nil
	}

	data := pterm.TableData{{"Run", "Trigger", "Status", "Started", "Duration"}}
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = formatDuration(r.FinishedAt.Sub(r.StartedAt))
		}
		data = append(data, []string{
			r.ID,
			r.Trigger,
			statusLabel(r.Status, r.Cancelled),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, closeDB, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.WithHint(err, "list recorded runs with: windturbine runs ls")
		}
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal run")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	pterm.DefaultSection.Printf("Run %s: %s", run.ID, statusLabel(run.Status, run.Cancelled))
	pterm.Printf("  Trigger: %s\n  Started: %s\n", run.Trigger, run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.Error != "" {
		pterm.Printf("  Error: %s\n", run.Error)
	}
	pterm.Println()
	return renderSteps(run.Steps)
}
