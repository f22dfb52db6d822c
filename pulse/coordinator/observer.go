package coordinator

import (
	"context"

	"github.com/teranos/windturbine/pulse/dag"
)

// Observer receives run lifecycle events.
// Calls come from the run's own loop, in order, so an observer sees
// RunStarted, then each StepFinished, then RunFinished. Returned errors are
// logged and never change the run's outcome.
type Observer interface {
	RunStarted(ctx context.Context, run *RunResult) error
	StepFinished(ctx context.Context, runID string, step StepResult) error
	RunFinished(ctx context.Context, run *RunResult) error
}

// NopObserver implements Observer with no-ops; embed it to handle a subset of events
type NopObserver struct{}

func (NopObserver) RunStarted(context.Context, *RunResult) error           { return nil }
func (NopObserver) StepFinished(context.Context, string, StepResult) error { return nil }
func (NopObserver) RunFinished(context.Context, *RunResult) error          { return nil }

var _ Observer = NopObserver{}

// StepFinishedFunc adapts a function to an Observer that only sees step outcomes
type StepFinishedFunc func(runID string, id dag.StepID, step StepResult)

func (f StepFinishedFunc) RunStarted(context.Context, *RunResult) error { return nil }

func (f StepFinishedFunc) StepFinished(_ context.Context, runID string, step StepResult) error {
	f(runID, step.ID, step)
	return nil
}

func (f StepFinishedFunc) RunFinished(context.Context, *RunResult) error { return nil }
