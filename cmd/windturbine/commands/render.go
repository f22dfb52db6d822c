package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/windturbine/pulse/coordinator"
)

func renderSteps(steps []coordinator.StepResult) error {
	data := pterm.TableData{{"Step", "State", "Attempts", "Branch", "Duration", "Error"}}
	for _, s := range steps {
		attempts := fmt.Sprintf("%d", s.Attempts)
		if s.Pokes > 0 {
			attempts = fmt.Sprintf("%d (%d pokes)", s.Attempts, s.Pokes)
		}
		errText := ""
		if s.Error != "" {
			errText = fmt.Sprintf("[%s] %s", s.Kind, truncate(s.Error, 80))
		}
		data = append(data, []string{
			string(s.ID),
			stateLabel(s.State),
			attempts,
			string(s.Branch),
			formatDuration(s.Duration()),
			errText,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func stateLabel(s coordinator.State) string {
	switch s {
	case coordinator.StateSuccess:
		return pterm.FgGreen.Sprint(s)
	case coordinator.StateFailed, coordinator.StateUpstreamFailed:
		return pterm.FgRed.Sprint(s)
	case coordinator.StateSkipped, coordinator.StateCancelled:
		return pterm.FgGray.Sprint(s)
	default:
		return string(s)
	}
}

func statusLabel(status coordinator.Status, cancelled bool) string {
	switch {
	case cancelled:
		return pterm.FgYellow.Sprint("cancelled")
	case status == coordinator.StatusSuccess:
		return pterm.FgGreen.Sprint(status)
	case status == coordinator.StatusFailed:
		return pterm.FgRed.Sprint(status)
	default:
		return string(status)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
