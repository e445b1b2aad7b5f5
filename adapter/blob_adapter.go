package adapter

import (
	"context"
	"encoding/base64"

	"github.com/awantoch/beemflow/blob"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/registry"
)

// BlobPutAdapter stores content through the configured blob store and
// returns its URL.
type BlobPutAdapter struct {
	Store blob.Store
}

func (a *BlobPutAdapter) ID() string { return "core.blob.put" }

func (a *BlobPutAdapter) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	content, ok := inputs["content"].(string)
	if !ok {
		return nil, errors.Validation("content must be a string")
	}
	data := []byte(content)
	if enc, _ := inputs["encoding"].(string); enc == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, errors.Validation("content is not valid base64: %v", err)
		}
		data = decoded
	}
	mime, _ := inputs["mime"].(string)
	filename, _ := inputs["filename"].(string)
	url, err := a.Store.Put(ctx, data, mime, filename)
	if err != nil {
		return nil, errors.Adapter("blob put: %v", err)
	}
	return map[string]any{"url": url}, nil
}

func (a *BlobPutAdapter) Manifest() *registry.ToolManifest {
	return &registry.ToolManifest{
		Name:        a.ID(),
		Description: "Store content in the blob store and return its URL",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"content"},
			"properties": map[string]any{
				"content":  map[string]any{"type": "string"},
				"encoding": map[string]any{"type": "string", "enum": []any{"utf8", "base64"}},
				"mime":     map[string]any{"type": "string"},
				"filename": map[string]any{"type": "string"},
			},
		},
	}
}

// BlobGetAdapter fetches content back from the blob store by URL.
type BlobGetAdapter struct {
	Store blob.Store
}

func (a *BlobGetAdapter) ID() string { return "core.blob.get" }

func (a *BlobGetAdapter) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	url, ok := inputs["url"].(string)
	if !ok || url == "" {
		return nil, errors.Validation("url must be a non-empty string")
	}
	data, err := a.Store.Get(ctx, url)
	if err != nil {
		return nil, errors.Adapter("blob get %s: %v", url, err)
	}
	return map[string]any{"content": string(data)}, nil
}

func (a *BlobGetAdapter) Manifest() *registry.ToolManifest {
	return &registry.ToolManifest{
		Name:        a.ID(),
		Description: "Fetch content from the blob store by URL",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"url"},
			"properties": map[string]any{
				"url": map[string]any{"type": "string"},
			},
		},
	}
}
