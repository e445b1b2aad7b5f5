// Package adapter executes tools on behalf of the engine. The Registry
// resolves a step's use name to an Adapter with the documented precedence:
// core adapters, registry manifest entries, mcp://server/tool references,
// and finally the generic http adapter.
package adapter

import (
	"context"
	"strings"
	"sync"

	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/registry"
)

// Reserved input keys injected by the engine and stripped before the tool
// sees its parameters.
const (
	// UseKey carries the raw use name, needed by the MCP adapter to split
	// mcp://server/tool.
	UseKey = "__use"
	// ContextKey carries the manifest template context (vars, env, secrets,
	// event; no outputs).
	ContextKey = "__context"
)

// Adapter executes one named tool.
type Adapter interface {
	ID() string
	Manifest() *registry.ToolManifest
	Execute(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Closable is an optional interface for adapters holding resources.
type Closable interface {
	Adapter
	Close() error
}

// MCPInvoker routes a tool call to a named MCP server. Implemented by
// mcp.Manager; an interface here so the adapter package stays decoupled from
// process management.
type MCPInvoker interface {
	Invoke(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error)
}

// Registry resolves tool names to adapters. Thread-safe for concurrent
// reads; manifest-backed adapters are cached after first resolution.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	manifests *registry.Manager
	mcp       *MCPAdapter
}

// NewRegistry builds a registry with the core adapters and the generic http
// adapter pre-registered. manifests may be nil when no manifest indexes are
// configured; invoker may be nil when MCP is disabled.
func NewRegistry(manifests *registry.Manager, invoker MCPInvoker) *Registry {
	r := &Registry{
		adapters:  map[string]Adapter{},
		manifests: manifests,
	}
	r.Register(&EchoAdapter{})
	r.Register(&WaitAdapter{})
	r.Register(&LogAdapter{})
	r.Register(&HTTPFetchAdapter{})
	if invoker != nil {
		r.mcp = &MCPAdapter{Invoker: invoker}
	}
	return r
}

// Register adds or replaces an adapter under its ID.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Get returns a registered adapter by exact ID.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Resolve maps a use name to an adapter: registered (core and cached)
// adapters first, then mcp:// references, then manifest indexes, with the
// generic http adapter serving the bare "http" name only when no manifest
// claims it. Unknown names are validation errors.
func (r *Registry) Resolve(ctx context.Context, use string) (Adapter, error) {
	// The pre-registered http adapter is a fallback; a manifest entry
	// named "http" outranks it.
	if a, ok := r.Get(use); ok && use != "http" {
		return a, nil
	}
	if strings.HasPrefix(use, "mcp://") {
		if r.mcp == nil {
			return nil, errors.Validation("mcp tools are not configured (no MCP invoker)")
		}
		return r.mcp, nil
	}
	if r.manifests != nil {
		entry, err := r.manifests.Get(ctx, use)
		if err != nil {
			return nil, err
		}
		if entry != nil && entry.Type == registry.EntryTool {
			a := &HTTPAdapter{AdapterID: use, ToolManifest: entry.Manifest()}
			r.Register(a)
			return a, nil
		}
	}
	if a, ok := r.Get(use); ok {
		return a, nil
	}
	return nil, errors.Validation("unknown tool: %s", use)
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// CloseAll closes every adapter that supports it.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, a := range r.adapters {
		if c, ok := a.(Closable); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
