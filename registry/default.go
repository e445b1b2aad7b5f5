package registry

import (
	"context"
	_ "embed"
	"encoding/json"
)

//go:embed default.json
var defaultIndexData []byte

// DefaultIndex serves the curated tool entries embedded in the binary. It is
// the lowest-precedence source so local and remote registries override it.
type DefaultIndex struct{}

func NewDefaultIndex() *DefaultIndex {
	return &DefaultIndex{}
}

func (d *DefaultIndex) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(defaultIndexData, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Registry = "default"
	}
	return entries, nil
}

func (d *DefaultIndex) Get(ctx context.Context, name string) (*Entry, error) {
	return find(ctx, d, name)
}
