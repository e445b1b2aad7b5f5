// Package graph builds the per-scope dependency DAG the scheduler runs on:
// explicit depends_on edges merged with implicit edges discovered from
// template references, cycle detection with the offending path, and a
// topological layer assignment.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
)

// DAG is the dependency graph of one step scope. Nodes keeps declaration
// order; Layers groups ids so every step's dependencies live in an earlier
// layer.
type DAG struct {
	Nodes  []string
	Deps   map[string][]string
	Layers [][]string
}

// Build merges depends_on edges with implicit template-reference edges and
// returns the scope's DAG. Unknown dependencies and cycles are validation
// errors; cycles report their path as [a → b → … → a].
func Build(steps []model.Step, implicit map[string][]string) (*DAG, error) {
	d := &DAG{Deps: map[string][]string{}}
	exists := map[string]bool{}
	for _, s := range steps {
		d.Nodes = append(d.Nodes, s.ID)
		exists[s.ID] = true
	}
	for _, s := range steps {
		seen := map[string]bool{}
		var deps []string
		for _, dep := range s.DependsOn {
			if !exists[dep] {
				return nil, errors.Validation("step %q depends on unknown step %q", s.ID, dep)
			}
			if dep != s.ID && !seen[dep] {
				seen[dep] = true
				deps = append(deps, dep)
			}
		}
		for _, dep := range implicit[s.ID] {
			if exists[dep] && dep != s.ID && !seen[dep] {
				seen[dep] = true
				deps = append(deps, dep)
			}
		}
		sort.Strings(deps)
		d.Deps[s.ID] = deps
	}
	if cycle := d.findCycle(); cycle != nil {
		return nil, errors.Validation("circular dependency detected: %s", formatCycle(cycle))
	}
	d.Layers = d.layer()
	return d, nil
}

// DependenciesOf returns the merged dependency list of a step id.
func (d *DAG) DependenciesOf(id string) []string {
	return d.Deps[id]
}

// findCycle runs a DFS over the dependency edges and returns the first
// cycle's path, nil when the graph is acyclic.
func (d *DAG) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		stack = append(stack, n)
		for _, dep := range d.Deps[n] {
			switch color[dep] {
			case gray:
				// Slice the stack from the first occurrence of dep.
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for _, n := range d.Nodes {
		if color[n] == white && visit(n) {
			return cycle
		}
	}
	return nil
}

func formatCycle(cycle []string) string {
	return "[" + strings.Join(cycle, " → ") + "]"
}

// layer assigns each node the earliest layer after all its dependencies,
// preserving declaration order within a layer. Assumes an acyclic graph.
func (d *DAG) layer() [][]string {
	indeg := map[string]int{}
	dependents := map[string][]string{}
	for n, deps := range d.Deps {
		indeg[n] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], n)
		}
	}
	done := map[string]bool{}
	var layers [][]string
	for len(done) < len(d.Nodes) {
		var layer []string
		for _, n := range d.Nodes {
			if !done[n] && indeg[n] == 0 {
				layer = append(layer, n)
			}
		}
		if len(layer) == 0 {
			// Unreachable after findCycle, kept so a bug cannot spin.
			break
		}
		for _, n := range layer {
			done[n] = true
			for _, m := range dependents[n] {
				indeg[m]--
			}
		}
		layers = append(layers, layer)
	}
	return layers
}

// Mermaid renders the flow's dependency structure as a Mermaid flowchart.
// Scopes are keyed by path: "" for the top level, the container step id
// (joined with /) for nested scopes; container steps render as subgraphs.
func Mermaid(flow *model.Flow, scopes map[string]*DAG) string {
	if flow == nil || len(flow.Steps) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	renderScope(&sb, flow.Steps, "", scopes, "  ")
	return sb.String()
}

func renderScope(sb *strings.Builder, steps []model.Step, path string, scopes map[string]*DAG, indent string) {
	for _, s := range steps {
		children := s.Children()
		if len(children) > 0 {
			label := string(s.Shape())
			fmt.Fprintf(sb, "%ssubgraph %s[%s %s]\n", indent, s.ID, s.ID, label)
			renderScope(sb, children, childPath(path, s.ID), scopes, indent+"  ")
			fmt.Fprintf(sb, "%send\n", indent)
			continue
		}
		fmt.Fprintf(sb, "%s%s[%s]\n", indent, s.ID, s.ID)
	}
	if d := scopes[path]; d != nil {
		for _, n := range d.Nodes {
			for _, dep := range d.Deps[n] {
				fmt.Fprintf(sb, "%s%s --> %s\n", indent, dep, n)
			}
		}
	}
}

func childPath(parent, id string) string {
	if parent == "" {
		return id
	}
	return parent + "/" + id
}
