// Package registry resolves tool names to invocation manifests. Manifests
// come from JSON indexes: the embedded default, user-level local files, and
// remote HTTP endpoints, merged with earlier sources taking precedence.
package registry

import (
	"context"
	"encoding/json"
	"os"

	"github.com/awantoch/beemflow/pkg/errors"
)

// Entry is one record in a registry index: a tool manifest or an MCP server
// declaration, distinguished by Type.
type Entry struct {
	Registry    string            `json:"registry,omitempty"`
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Parameters  map[string]any    `json:"parameters,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        map[string]any    `json:"body,omitempty"`
	// MCP server fields
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

const (
	EntryTool      = "tool"
	EntryMCPServer = "mcp_server"
)

// ToolManifest describes how to invoke a registry tool: JSON-Schema
// parameters plus an HTTP endpoint template. Endpoint, headers, and body
// values may carry {{ ... }} templates and $env:NAME substitutions.
type ToolManifest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Parameters  map[string]any    `json:"parameters,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        map[string]any    `json:"body,omitempty"`
}

// Manifest converts a tool entry into its manifest form.
func (e *Entry) Manifest() *ToolManifest {
	return &ToolManifest{
		Name:        e.Name,
		Description: e.Description,
		Kind:        e.Kind,
		Parameters:  e.Parameters,
		Endpoint:    e.Endpoint,
		Method:      e.Method,
		Headers:     e.Headers,
		Body:        e.Body,
	}
}

// Index is one source of registry entries.
type Index interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, name string) (*Entry, error)
}

// LocalIndex reads entries from a JSON file on disk. A missing file is an
// empty index, so a fresh checkout works without any user-level registry.
type LocalIndex struct {
	Path string
}

func NewLocalIndex(path string) *LocalIndex {
	return &LocalIndex{Path: path}
}

func (l *LocalIndex) List(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Validation("read registry %s: %v", l.Path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Validation("parse registry %s: %v", l.Path, err)
	}
	for i := range entries {
		entries[i].Registry = "local"
	}
	return entries, nil
}

func (l *LocalIndex) Get(ctx context.Context, name string) (*Entry, error) {
	return find(ctx, l, name)
}

func find(ctx context.Context, idx Index, name string) (*Entry, error) {
	entries, err := idx.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i], nil
		}
	}
	return nil, nil
}
