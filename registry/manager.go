package registry

import "context"

// Manager merges multiple indexes. Order matters: the first index holding a
// name wins, so callers list user-level sources before the embedded default.
type Manager struct {
	indexes []Index
}

func NewManager(indexes ...Index) *Manager {
	return &Manager{indexes: indexes}
}

// List returns the merged entries, earlier indexes shadowing later ones.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	seen := map[string]bool{}
	var out []Entry
	for _, idx := range m.indexes {
		entries, err := idx.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !seen[e.Name] {
				seen[e.Name] = true
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// Get returns the highest-precedence entry with the given name, nil when no
// index holds it.
func (m *Manager) Get(ctx context.Context, name string) (*Entry, error) {
	for _, idx := range m.indexes {
		entry, err := idx.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

// Tools returns the merged tool entries only.
func (m *Manager) Tools(ctx context.Context) ([]Entry, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	var tools []Entry
	for _, e := range entries {
		if e.Type == EntryTool {
			tools = append(tools, e)
		}
	}
	return tools, nil
}

// MCPServers returns the merged MCP server declarations.
func (m *Manager) MCPServers(ctx context.Context) ([]Entry, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	var servers []Entry
	for _, e := range entries {
		if e.Type == EntryMCPServer {
			servers = append(servers, e)
		}
	}
	return servers, nil
}
