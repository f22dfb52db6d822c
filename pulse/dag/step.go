// Package dag defines pipeline steps and the static graph they form.
//
// A Graph is built once from a list of Steps and validated before any run
// starts: step IDs are unique, every dependency names a declared step, the
// graph is acyclic, and every conditional step names exactly two branch
// successors, each of which depends on it and nothing else branches from it.
package dag

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/windturbine/pulse/staging"
)

// StepID identifies a step within a graph
type StepID string

// RetryPolicy controls re-invocation of a failed step.
// Retries counts attempts after the first, so Retries=1 means at most two attempts.
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

// MaxAttempts returns the total number of attempts allowed
func (p RetryPolicy) MaxAttempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

func (p RetryPolicy) normalized() RetryPolicy {
	q := p
	if q.Retries < 0 {
		q.Retries = 0
	}
	if q.Delay < 0 {
		q.Delay = 0
	}
	return q
}

// PokePolicy makes a step a sensor: a Func returning errors.ErrNotReady is
// invoked again after Interval until Timeout has elapsed since its first poke.
type PokePolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Outcome is what a successful step reports back.
// Branch is set only by conditional steps and names the successor to activate.
type Outcome struct {
	Branch StepID
}

// Done is the outcome of a plain step
func Done() Outcome { return Outcome{} }

// Choose is the outcome of a conditional step selecting branch id
func Choose(id StepID) Outcome { return Outcome{Branch: id} }

// Env is handed to every step invocation
type Env struct {
	RunID   string
	Step    StepID
	Attempt int // 1-based; pokes of a sensor share one attempt
	Poke    int // 1-based poke count for sensors, 0 otherwise
	Stage   *staging.Store
	Log     *zap.SugaredLogger
}

// Func executes one attempt of a step
type Func func(ctx context.Context, env Env) (Outcome, error)

// Step is a node of the graph
type Step struct {
	ID       StepID
	Upstream []StepID
	Run      Func

	// Retry overrides the graph default when non-nil
	Retry *RetryPolicy
	// Poke marks a sensor step
	Poke *PokePolicy
	// Branches lists the two successors a conditional step chooses between
	Branches []StepID
	// Timeout bounds a single attempt; zero means unbounded
	Timeout time.Duration
}

// Conditional reports whether the step selects a branch
func (s *Step) Conditional() bool {
	return len(s.Branches) > 0
}

// HasBranch reports whether id is one of the step's declared branches
func (s *Step) HasBranch(id StepID) bool {
	for _, b := range s.Branches {
		if b == id {
			return true
		}
	}
	return false
}
