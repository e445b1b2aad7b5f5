package adapter

import (
	"context"
	"strings"

	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/registry"
)

// MCPAdapter routes mcp://server/tool use names to the configured MCP
// invoker. A single instance serves every MCP reference; the server and
// tool are recovered from the __use input at execution time.
type MCPAdapter struct {
	Invoker MCPInvoker
}

func (a *MCPAdapter) ID() string { return "mcp" }

func (a *MCPAdapter) Manifest() *registry.ToolManifest {
	return &registry.ToolManifest{
		Name:        a.ID(),
		Description: "Invoke a tool on an MCP server",
	}
}

func (a *MCPAdapter) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	use, _ := inputs[UseKey].(string)
	server, tool, err := SplitMCPUse(use)
	if err != nil {
		return nil, err
	}
	return a.Invoker.Invoke(ctx, server, tool, stripReserved(inputs))
}

// SplitMCPUse parses an mcp://server/tool reference. The tool part may
// itself contain slashes.
func SplitMCPUse(use string) (server, tool string, err error) {
	rest, ok := strings.CutPrefix(use, "mcp://")
	if !ok {
		return "", "", errors.Validation("not an mcp:// reference: %s", use)
	}
	server, tool, ok = strings.Cut(rest, "/")
	if !ok || server == "" || tool == "" {
		return "", "", errors.Validation("invalid mcp reference %s: want mcp://server/tool", use)
	}
	return server, tool, nil
}
