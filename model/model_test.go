package model

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleFlow = `
name: order_pipeline
description: end to end order handling
version: "1.2.0"
on:
  - event:orders.created
  - cli.manual
vars:
  region: us-east
steps:
  - id: fetch
    use: http
    with:
      url: https://api.example.com/orders
  - id: fan
    parallel: true
    steps:
      - id: enrich
        use: core.echo
        with: { text: "{{ outputs.fetch.body }}" }
      - id: audit
        use: core.log
        with: { message: "order seen" }
  - id: per_item
    foreach: "{{ vars.items }}"
    as: item
    do:
      - id: handle
        use: core.echo
        with: { text: "{{ item }}" }
  - id: gate
    await_event:
      source: approvals
      match: { order_id: "{{ outputs.fetch.body.id }}" }
      timeout: 1h
  - id: cool_off
    wait:
      seconds: 3
    retry:
      attempts: 2
      delay_sec: 1
catch:
  - id: report
    use: core.log
    with: { message: "failed" }
mcpServers:
  files:
    command: mcp-files
    args: ["--root", "/tmp"]
`

func TestFlowUnmarshalYAML(t *testing.T) {
	var flow Flow
	require.NoError(t, yaml.Unmarshal([]byte(sampleFlow), &flow))

	require.Equal(t, "order_pipeline", flow.Name)
	require.Equal(t, "1.2.0", flow.Version)
	require.Len(t, flow.Steps, 5)
	require.Len(t, flow.Catch, 1)
	require.Contains(t, flow.MCPServers, "files")

	shapes := []Shape{ShapeTool, ShapeParallel, ShapeForeach, ShapeAwait, ShapeWait}
	for i, want := range shapes {
		if got := flow.Steps[i].Shape(); got != want {
			t.Errorf("step %d shape = %q, want %q", i, got, want)
		}
	}

	gate := flow.Steps[3]
	require.NotNil(t, gate.AwaitEvent)
	require.Equal(t, "approvals", gate.AwaitEvent.Source)
	require.Equal(t, "1h", gate.AwaitEvent.Timeout)

	cool := flow.Steps[4]
	require.NotNil(t, cool.Retry)
	require.Equal(t, 2, cool.Retry.Attempts)
	require.Equal(t, 3, cool.Wait.Seconds)
}

func TestTriggersNormalization(t *testing.T) {
	var flow Flow
	require.NoError(t, yaml.Unmarshal([]byte(sampleFlow), &flow))
	require.Equal(t, []string{"event:orders.created", "cli.manual"}, flow.Triggers())
	require.True(t, flow.HasTrigger(TriggerManual))
	require.False(t, flow.HasTrigger(TriggerCron))

	single := Flow{On: "cli.manual"}
	require.Equal(t, []string{"cli.manual"}, single.Triggers())
}

func TestShapesDetectsConflicts(t *testing.T) {
	s := Step{ID: "bad", Use: "core.echo", Foreach: "{{ vars.xs }}", As: "x"}
	require.Len(t, s.Shapes(), 2)
	require.Equal(t, Shape(""), s.Shape())
}

func TestChildren(t *testing.T) {
	par := Step{ID: "p", Parallel: true, Steps: []Step{{ID: "a"}, {ID: "b"}}}
	require.Len(t, par.Children(), 2)

	fe := Step{ID: "f", Foreach: "{{ vars.xs }}", As: "x", Do: []Step{{ID: "c", Use: "core.echo"}}}
	require.Len(t, fe.Children(), 1)

	tool := Step{ID: "t", Use: "core.echo"}
	require.Nil(t, tool.Children())
}

func TestStatusPredicates(t *testing.T) {
	if !RunSucceeded.Terminal() || !RunFailed.Terminal() {
		t.Error("succeeded and failed are terminal")
	}
	if RunPaused.Terminal() || RunCatching.Terminal() {
		t.Error("paused and catching are not terminal")
	}
	if !StepSucceeded.Satisfied() || !StepSkipped.Satisfied() {
		t.Error("succeeded and skipped satisfy dependents")
	}
	if StepFailed.Satisfied() || StepRunning.Satisfied() {
		t.Error("failed and running do not satisfy dependents")
	}
}

func TestPausedRunRoundTrip(t *testing.T) {
	var flow Flow
	require.NoError(t, yaml.Unmarshal([]byte(sampleFlow), &flow))

	pr := PausedRun{
		RunID:    uuid.New(),
		FlowName: flow.Name,
		Flow:     &flow,
		Token:    "tok-1",
		Kind:     WaitEvent,
		StepKey:  "gate",
		Source:   "approvals",
		Match:    map[string]any{"order_id": "42"},
		Event:    map[string]any{"id": "42"},
		Vars:     map[string]any{"region": "us-east"},
		Outputs:  map[string]any{"fetch": map[string]any{"body": "ok"}},
		Done:     map[string]StepStatus{"fetch": StepSucceeded},
	}

	data, err := json.Marshal(pr)
	require.NoError(t, err)

	var back PausedRun
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, pr.RunID, back.RunID)
	require.Equal(t, pr.Token, back.Token)
	require.Equal(t, StepSucceeded, back.Done["fetch"])
	require.Equal(t, "order_pipeline", back.Flow.Name)
	require.Len(t, back.Flow.Steps, 5)
}
