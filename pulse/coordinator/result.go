package coordinator

import (
	"strings"
	"time"

	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/pulse/dag"
)

// State represents the lifecycle of a step within one run
type State string

const (
	StatePending        State = "pending"         // Waiting on upstream steps
	StateQueued         State = "queued"          // Handed to the worker pool
	StateRunning        State = "running"         // A worker is executing it
	StateWaiting        State = "waiting"         // Between pokes or retries
	StateSuccess        State = "success"         // Completed
	StateFailed         State = "failed"          // Retries exhausted
	StateSkipped        State = "skipped"         // Branch not selected, or upstream skipped
	StateUpstreamFailed State = "upstream_failed" // A dependency did not succeed
	StateCancelled      State = "cancelled"       // Run cancelled before the step ran
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateSkipped, StateUpstreamFailed, StateCancelled:
		return true
	}
	return false
}

// Status is the overall outcome of a run
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Trigger describes what started a run
type Trigger struct {
	Source string    `json:"source"` // cli, watcher, test, ...
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// StepResult is the recorded outcome of one step
type StepResult struct {
	ID         dag.StepID  `json:"id"`
	State      State       `json:"state"`
	Attempts   int         `json:"attempts"`
	Pokes      int         `json:"pokes,omitempty"`
	Branch     dag.StepID  `json:"branch,omitempty"`
	Kind       errors.Kind `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	Err        error       `json:"-"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

// Duration returns how long the step spent between first start and finish
func (s StepResult) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// RunResult is the terminal record of a run
type RunResult struct {
	RunID      string                    `json:"run_id"`
	Trigger    Trigger                   `json:"trigger"`
	Status     Status                    `json:"status"`
	Cancelled  bool                      `json:"cancelled"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at,omitempty"`
	Order      []dag.StepID              `json:"order"`
	Steps      map[dag.StepID]StepResult `json:"steps"`
}

// Step returns the result for one step
func (r *RunResult) Step(id dag.StepID) (StepResult, bool) {
	s, ok := r.Steps[id]
	return s, ok
}

// Ordered returns step results in graph order
func (r *RunResult) Ordered() []StepResult {
	out := make([]StepResult, 0, len(r.Order))
	for _, id := range r.Order {
		out = append(out, r.Steps[id])
	}
	return out
}

// Failures returns failed and upstream-failed steps in graph order
func (r *RunResult) Failures() []StepResult {
	var out []StepResult
	for _, s := range r.Ordered() {
		if s.State == StateFailed || s.State == StateUpstreamFailed {
			out = append(out, s)
		}
	}
	return out
}

// Err summarizes a failed run as an error; nil on success.
// The error carries the kind of every failed step, plus ErrCancelled for
// cancelled runs; the first failure's cause is attached as secondary error.
func (r *RunResult) Err() error {
	if r.Status == StatusSuccess {
		return nil
	}
	failures := r.Failures()
	parts := make([]string, 0, len(failures))
	var first error
	var causes []error
	for _, f := range failures {
		parts = append(parts, string(f.ID)+" ("+string(f.Kind)+")")
		if f.State != StateFailed || f.Err == nil {
			continue
		}
		if first == nil {
			first = f.Err
		}
		causes = append(causes, f.Err)
	}

	var err error
	if len(parts) == 0 {
		err = errors.Newf("run %s did not succeed", r.RunID)
	} else {
		err = errors.Newf("run %s failed: %s", r.RunID, strings.Join(parts, ", "))
	}
	if r.Cancelled {
		err = errors.Mark(err, errors.ErrCancelled)
	}
	if first != nil {
		err = errors.WithSecondaryError(err, first)
	}
	for _, k := range []error{errors.ErrTimeout, errors.ErrNotFound, errors.ErrMalformedInput, errors.ErrPersistence, errors.ErrDelivery} {
		for _, cause := range causes {
			if errors.Is(cause, k) {
				err = errors.Mark(err, k)
				break
			}
		}
	}
	return err
}

func (r *RunResult) clone() *RunResult {
	c := *r
	c.Order = append([]dag.StepID(nil), r.Order...)
	c.Steps = make(map[dag.StepID]StepResult, len(r.Steps))
	for k, v := range r.Steps {
		c.Steps[k] = v
	}
	return &c
}
