package dag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/windturbine/errors"
)

func noop(context.Context, Env) (Outcome, error) { return Done(), nil }

func step(id StepID, up ...StepID) Step {
	return Step{ID: id, Upstream: up, Run: noop}
}

// pipelineSteps mirrors the sensor pipeline shape
func pipelineSteps() []Step {
	cond := step("evaluate", "extract")
	cond.Branches = []StepID{"alert", "normal"}
	return []Step{
		step("wait"),
		step("extract", "wait"),
		step("schema", "extract"),
		step("row", "schema"),
		cond,
		step("alert", "evaluate"),
		step("normal", "evaluate"),
	}
}

func TestNew_ValidPipeline(t *testing.T) {
	g, err := New(RetryPolicy{Retries: 1, Delay: 10 * time.Second}, pipelineSteps()...)
	require.NoError(t, err)

	assert.Equal(t, 7, g.Len())
	assert.Equal(t, []StepID{"wait"}, g.Roots())
	assert.Equal(t, []StepID{"wait", "extract", "schema", "evaluate", "row", "alert", "normal"}, g.Order())
	assert.ElementsMatch(t, []StepID{"schema", "evaluate"}, g.Downstream("extract"))
	assert.Equal(t, []StepID{"evaluate"}, g.Upstream("alert"))

	var conditional []Edge
	for _, e := range g.Edges() {
		if e.Conditional {
			conditional = append(conditional, e)
		}
	}
	assert.ElementsMatch(t, []Edge{
		{From: "evaluate", To: "alert", Conditional: true},
		{From: "evaluate", To: "normal", Conditional: true},
	}, conditional)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		steps func() []Step
		msg   string
	}{
		{
			name:  "empty",
			steps: func() []Step { return nil },
			msg:   "no steps",
		},
		{
			name:  "duplicate id",
			steps: func() []Step { return []Step{step("a"), step("a")} },
			msg:   "duplicate step id",
		},
		{
			name:  "unknown dependency",
			steps: func() []Step { return []Step{step("a", "ghost")} },
			msg:   "unknown step ghost",
		},
		{
			name:  "self dependency",
			steps: func() []Step { return []Step{step("a", "a")} },
			msg:   "depends on itself",
		},
		{
			name:  "cycle",
			steps: func() []Step { return []Step{step("root"), step("a", "root", "b"), step("b", "a")} },
			msg:   "cycle",
		},
		{
			name: "missing func",
			steps: func() []Step {
				return []Step{{ID: "a"}}
			},
			msg: "no function",
		},
		{
			name: "conditional with one branch",
			steps: func() []Step {
				s := pipelineSteps()
				s[4].Branches = []StepID{"alert"}
				return s
			},
			msg: "exactly two",
		},
		{
			name: "conditional with same branch twice",
			steps: func() []Step {
				s := pipelineSteps()
				s[4].Branches = []StepID{"alert", "alert"}
				return s
			},
			msg: "exactly two",
		},
		{
			name: "branch not depending on conditional",
			steps: func() []Step {
				s := pipelineSteps()
				s[6].Upstream = []StepID{"extract"}
				return s
			},
			msg: "must depend on conditional step",
		},
		{
			name: "conditional with extra successor",
			steps: func() []Step {
				return append(pipelineSteps(), step("audit", "evaluate"))
			},
			msg: "non-branch successor audit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(RetryPolicy{}, tt.steps()...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidGraph))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRetryFor(t *testing.T) {
	own := RetryPolicy{Retries: 3, Delay: time.Millisecond}
	steps := []Step{step("a"), step("b", "a")}
	steps[1].Retry = &own

	g, err := New(RetryPolicy{Retries: -2, Delay: -time.Second}, steps...)
	require.NoError(t, err)

	assert.Equal(t, RetryPolicy{}, g.RetryFor("a"), "negative defaults normalize to zero")
	assert.Equal(t, 1, g.RetryFor("a").MaxAttempts())
	assert.Equal(t, own, g.RetryFor("b"))
	assert.Equal(t, 4, g.RetryFor("b").MaxAttempts())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, StepID(""), Done().Branch)
	assert.Equal(t, StepID("alert"), Choose("alert").Branch)

	s := Step{Branches: []StepID{"x", "y"}}
	assert.True(t, s.Conditional())
	assert.True(t, s.HasBranch("y"))
	assert.False(t, s.HasBranch("z"))
}

func TestNew_CopiesInput(t *testing.T) {
	steps := []Step{step("a"), step("b", "a")}
	g, err := New(RetryPolicy{}, steps...)
	require.NoError(t, err)

	steps[1].Upstream[0] = "mutated"
	assert.Equal(t, []StepID{"a"}, g.Upstream("b"))
}
