package dsl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const echoFlow = `
name: echo_demo
on: cli.manual
vars:
  greeting: hi
steps:
  - id: greet
    use: core.echo
    with:
      text: "{{ vars.greeting }}"
`

func TestParseYAML(t *testing.T) {
	flow, err := ParseString(echoFlow)
	require.NoError(t, err)
	require.Equal(t, "echo_demo", flow.Name)
	require.Len(t, flow.Steps, 1)
	require.Equal(t, "core.echo", flow.Steps[0].Use)
}

func TestParseJSON(t *testing.T) {
	flow, err := ParseString(`{"name":"j","on":"cli.manual","steps":[{"id":"a","use":"core.echo","with":{"text":"hi"}}]}`)
	require.NoError(t, err)
	require.Equal(t, "j", flow.Name)
	require.Equal(t, "a", flow.Steps[0].ID)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := ParseString("steps: [:::")
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(echoFlow), 0o644))
	ef, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "echo_demo", ef.Flow.Name)
	require.NotNil(t, ef.ScopeDAG(""))
}
