package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/windturbine/logger"
	"github.com/teranos/windturbine/notify"
	"github.com/teranos/windturbine/pulse/coordinator"
)

// FailureNotifier mails a failure notice when a run ends failed.
// Cancelled runs are not reported. Send errors are returned to the
// coordinator, which logs them; the run status is never changed.
type FailureNotifier struct {
	coordinator.NopObserver

	Sender    notify.Sender
	Templates notify.Templates
	Log       *zap.SugaredLogger
}

var _ coordinator.Observer = (*FailureNotifier)(nil)

// RunFinished sends the notice for failed runs
func (f *FailureNotifier) RunFinished(ctx context.Context, run *coordinator.RunResult) error {
	if run.Status != coordinator.StatusFailed || run.Cancelled {
		return nil
	}

	failures := run.Failures()
	lines := make([]string, 0, len(failures))
	for _, s := range failures {
		lines = append(lines, fmt.Sprintf("%s (%s): %s", s.ID, s.Kind, s.Error))
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), NotifyTimeout)
	defer cancel()
	if err := f.Sender.Send(sendCtx, f.Templates.Failure(run.RunID, lines)); err != nil {
		return err
	}
	if f.Log != nil {
		f.Log.Infow("Failure notice sent", logger.FieldRunID, run.RunID, "failed_steps", len(failures))
	}
	return nil
}
