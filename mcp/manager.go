// Package mcp manages clients for MCP servers referenced by flows through
// mcp://server/tool names. Servers run as child processes speaking the MCP
// stdio transport; clients are started lazily on first invocation and reused.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	mcpclient "github.com/metoro-io/mcp-golang"
	mcpstdio "github.com/metoro-io/mcp-golang/transport/stdio"

	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/utils"
)

// Manager launches MCP server processes and routes tool calls to them.
// Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	servers map[string]model.MCPServerConfig
	conns   map[string]*conn
}

type conn struct {
	client *mcpclient.Client
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func NewManager(servers map[string]model.MCPServerConfig) *Manager {
	m := &Manager{
		servers: map[string]model.MCPServerConfig{},
		conns:   map[string]*conn{},
	}
	for name, cfg := range servers {
		m.servers[name] = cfg
	}
	return m
}

// AddServers merges per-flow mcpServers declarations. Existing names are not
// overwritten; the runtime config wins over the flow document.
func (m *Manager) AddServers(servers map[string]model.MCPServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cfg := range servers {
		if _, ok := m.servers[name]; !ok {
			m.servers[name] = cfg
		}
	}
}

// Invoke calls tool on the named server, starting the server if needed.
func (m *Manager) Invoke(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	c, err := m.connect(ctx, server)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.CallTool(ctx, tool, args)
	if err != nil {
		return nil, errors.Adapter("mcp %s/%s: %v", server, tool, err)
	}
	if resp != nil && len(resp.Content) > 0 && resp.Content[0].TextContent != nil {
		text := resp.Content[0].TextContent.Text
		// Tool results are often JSON in a text block.
		var decoded map[string]any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			return decoded, nil
		}
		return map[string]any{"text": text}, nil
	}
	raw, _ := json.Marshal(resp)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out, nil
}

func (m *Manager) connect(ctx context.Context, server string) (*conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[server]; ok {
		return c, nil
	}
	cfg, ok := m.servers[server]
	if !ok {
		return nil, errors.Validation("mcp server %q is not declared in config or the flow's mcpServers", server)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Adapter("mcp %s stdin: %v", server, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Adapter("mcp %s stdout: %v", server, err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Adapter("start mcp server %s: %v", server, err)
	}
	transport := mcpstdio.NewStdioServerTransportWithIO(stdout, stdin)
	client := mcpclient.NewClient(transport)
	if _, err := client.Initialize(ctx); err != nil {
		_ = cmd.Process.Kill()
		return nil, errors.Adapter("initialize mcp server %s: %v", server, err)
	}
	utils.Debug("mcp server %s started (pid %d)", server, cmd.Process.Pid)
	c := &conn{client: client, cmd: cmd, stdin: stdin, stdout: stdout}
	m.conns[server] = c
	return c, nil
}

// Close terminates every running server process.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, c := range m.conns {
		_ = c.stdin.Close()
		if c.cmd.Process != nil {
			if err := c.cmd.Process.Kill(); err != nil && firstErr == nil {
				firstErr = err
			}
			_ = c.cmd.Wait()
		}
		delete(m.conns, name)
	}
	return firstErr
}
