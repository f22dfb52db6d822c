package dag

import (
	"sort"

	"github.com/teranos/windturbine/errors"
)

// ErrInvalidGraph marks every graph validation failure
var ErrInvalidGraph = errors.New("invalid graph")

// Edge is an ordered dependency between two steps.
// Conditional is set when From is a conditional step and To one of its branches.
type Edge struct {
	From        StepID
	To          StepID
	Conditional bool
}

// Graph is an immutable validated DAG of steps
type Graph struct {
	steps        map[StepID]*Step
	declared     []StepID
	order        []StepID
	downstream   map[StepID][]StepID
	defaultRetry RetryPolicy
}

// New validates steps and builds the graph.
// defaultRetry applies to every step whose Retry is nil.
func New(defaultRetry RetryPolicy, steps ...Step) (*Graph, error) {
	g := &Graph{
		steps:        make(map[StepID]*Step, len(steps)),
		downstream:   make(map[StepID][]StepID, len(steps)),
		defaultRetry: defaultRetry.normalized(),
	}
	if len(steps) == 0 {
		return nil, invalid("graph has no steps")
	}

	for i := range steps {
		s := steps[i]
		if s.ID == "" {
			return nil, invalid("step %d has an empty id", i)
		}
		if s.Run == nil {
			return nil, invalid("step %s has no function", s.ID)
		}
		if _, dup := g.steps[s.ID]; dup {
			return nil, invalid("duplicate step id %s", s.ID)
		}
		if s.Poke != nil && (s.Poke.Interval < 0 || s.Poke.Timeout < 0) {
			return nil, invalid("step %s has a negative poke policy", s.ID)
		}
		s.Upstream = append([]StepID(nil), s.Upstream...)
		s.Branches = append([]StepID(nil), s.Branches...)
		g.steps[s.ID] = &s
		g.declared = append(g.declared, s.ID)
	}

	for _, id := range g.declared {
		s := g.steps[id]
		seen := make(map[StepID]bool, len(s.Upstream))
		for _, up := range s.Upstream {
			if _, ok := g.steps[up]; !ok {
				return nil, invalid("step %s depends on unknown step %s", id, up)
			}
			if up == id {
				return nil, invalid("step %s depends on itself", id)
			}
			if seen[up] {
				return nil, invalid("step %s lists %s twice", id, up)
			}
			seen[up] = true
			g.downstream[up] = append(g.downstream[up], id)
		}
	}

	if err := g.validateBranches(); err != nil {
		return nil, err
	}

	order, err := g.topo()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidGraph)
}

// validateBranches checks that every conditional step has exactly two
// distinct branch successors, that each branch depends on it, and that it
// has no other outgoing edges.
func (g *Graph) validateBranches() error {
	for _, id := range g.declared {
		s := g.steps[id]
		if !s.Conditional() {
			continue
		}
		if len(s.Branches) != 2 || s.Branches[0] == s.Branches[1] {
			return invalid("conditional step %s must name exactly two distinct branches, got %v", id, s.Branches)
		}
		for _, b := range s.Branches {
			bs, ok := g.steps[b]
			if !ok {
				return invalid("conditional step %s names unknown branch %s", id, b)
			}
			if !contains(bs.Upstream, id) {
				return invalid("branch %s must depend on conditional step %s", b, id)
			}
		}
		for _, down := range g.downstream[id] {
			if !s.HasBranch(down) {
				return invalid("conditional step %s has non-branch successor %s", id, down)
			}
		}
	}
	return nil
}

// topo orders steps with Kahn's algorithm, breaking ties by declaration order
func (g *Graph) topo() ([]StepID, error) {
	rank := make(map[StepID]int, len(g.declared))
	indeg := make(map[StepID]int, len(g.declared))
	for i, id := range g.declared {
		rank[id] = i
		indeg[id] = len(g.steps[id].Upstream)
	}

	var q []StepID
	for _, id := range g.declared {
		if indeg[id] == 0 {
			q = append(q, id)
		}
	}

	order := make([]StepID, 0, len(g.declared))
	for len(q) > 0 {
		v := q[0]
		q = q[1:]
		order = append(order, v)
		var ready []StepID
		for _, u := range g.downstream[v] {
			indeg[u]--
			if indeg[u] == 0 {
				ready = append(ready, u)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return rank[ready[i]] < rank[ready[j]] })
		q = append(q, ready...)
	}

	if len(order) != len(g.declared) {
		var cyclic []StepID
		for _, id := range g.declared {
			if indeg[id] > 0 {
				cyclic = append(cyclic, id)
			}
		}
		return nil, invalid("graph has a cycle through %v", cyclic)
	}
	return order, nil
}

// Len returns the number of steps
func (g *Graph) Len() int { return len(g.declared) }

// Step returns the step with the given id
func (g *Graph) Step(id StepID) (*Step, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Order returns step ids in a topological order
func (g *Graph) Order() []StepID {
	return append([]StepID(nil), g.order...)
}

// Roots returns steps without dependencies, in declaration order
func (g *Graph) Roots() []StepID {
	var roots []StepID
	for _, id := range g.declared {
		if len(g.steps[id].Upstream) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Upstream returns the direct dependencies of id
func (g *Graph) Upstream(id StepID) []StepID {
	if s, ok := g.steps[id]; ok {
		return append([]StepID(nil), s.Upstream...)
	}
	return nil
}

// Downstream returns the direct dependents of id
func (g *Graph) Downstream(id StepID) []StepID {
	return append([]StepID(nil), g.downstream[id]...)
}

// Edges returns every dependency edge in topological order of From
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, from := range g.order {
		s := g.steps[from]
		for _, to := range g.downstream[from] {
			edges = append(edges, Edge{From: from, To: to, Conditional: s.HasBranch(to)})
		}
	}
	return edges
}

// RetryFor returns the effective retry policy of a step
func (g *Graph) RetryFor(id StepID) RetryPolicy {
	if s, ok := g.steps[id]; ok && s.Retry != nil {
		return s.Retry.normalized()
	}
	return g.defaultRetry
}

// DefaultRetry returns the policy applied to steps without their own
func (g *Graph) DefaultRetry() RetryPolicy { return g.defaultRetry }

func contains(ids []StepID, id StepID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
