package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
)

func steps(ids ...string) []model.Step {
	out := make([]model.Step, len(ids))
	for i, id := range ids {
		out[i] = model.Step{ID: id, Use: "core.echo"}
	}
	return out
}

func TestBuildLayers(t *testing.T) {
	ss := steps("a", "b", "c", "d")
	ss[1].DependsOn = []string{"a"}
	ss[2].DependsOn = []string{"a"}
	ss[3].DependsOn = []string{"b", "c"}

	d, err := Build(ss, nil)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, d.Layers)
	require.Equal(t, []string{"b", "c"}, d.DependenciesOf("d"))
}

func TestBuildIndependentStepsShareALayer(t *testing.T) {
	d, err := Build(steps("a", "b", "c"), nil)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a", "b", "c"}}, d.Layers)
}

func TestImplicitEdgesMerge(t *testing.T) {
	ss := steps("fetch", "format", "post")
	// format references {{ outputs.fetch }} somewhere in its params.
	implicit := map[string][]string{
		"format": {"fetch"},
		"post":   {"format", "fetch"},
	}
	d, err := Build(ss, implicit)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"fetch"}, {"format"}, {"post"}}, d.Layers)
}

func TestImplicitEdgesIgnoreForeignIds(t *testing.T) {
	// References to steps outside this scope resolve at runtime and do not
	// become edges.
	d, err := Build(steps("a"), map[string][]string{"a": {"elsewhere"}})
	require.NoError(t, err)
	require.Empty(t, d.DependenciesOf("a"))
}

func TestUnknownDependency(t *testing.T) {
	ss := steps("a")
	ss[0].DependsOn = []string{"ghost"}
	_, err := Build(ss, nil)
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.KindValidation))
	require.Contains(t, err.Error(), "ghost")
}

func TestCyclePathReport(t *testing.T) {
	ss := steps("a", "b", "c")
	ss[0].DependsOn = []string{"c"}
	ss[1].DependsOn = []string{"a"}
	ss[2].DependsOn = []string{"b"}

	_, err := Build(ss, nil)
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.KindValidation))
	msg := err.Error()
	require.Contains(t, msg, "→")
	if !strings.Contains(msg, "[a → c → b → a]") &&
		!strings.Contains(msg, "[b → a → c → b]") &&
		!strings.Contains(msg, "[c → b → a → c]") {
		t.Errorf("cycle path not reported: %s", msg)
	}
}

func TestSelfCycleViaImplicit(t *testing.T) {
	ss := steps("a", "b")
	implicit := map[string][]string{"a": {"b"}, "b": {"a"}}
	_, err := Build(ss, implicit)
	require.Error(t, err)
	require.Contains(t, err.Error(), "circular dependency")
}

func TestMermaid(t *testing.T) {
	flow := &model.Flow{
		Name: "pipeline",
		Steps: []model.Step{
			{ID: "fetch", Use: "http"},
			{ID: "fan", Parallel: true, Steps: []model.Step{
				{ID: "left", Use: "core.echo"},
				{ID: "right", Use: "core.echo"},
			}},
			{ID: "post", Use: "core.echo", DependsOn: []string{"fan"}},
		},
	}
	root, err := Build(flow.Steps, nil)
	require.NoError(t, err)
	fan, err := Build(flow.Steps[1].Steps, nil)
	require.NoError(t, err)

	out := Mermaid(flow, map[string]*DAG{"": root, "fan": fan})
	require.Contains(t, out, "graph TD")
	require.Contains(t, out, "subgraph fan")
	require.Contains(t, out, "left[left]")
	require.Contains(t, out, "fan --> post")

	require.Equal(t, "", Mermaid(&model.Flow{Name: "empty"}, nil))
}
