package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awantoch/beemflow/blob"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/registry"
)

func TestRegistryResolveCore(t *testing.T) {
	r := NewRegistry(nil, nil)
	for _, id := range []string{"core.echo", "core.wait", "core.log", "http"} {
		a, err := r.Resolve(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, a.ID())
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry(nil, nil)
	_, err := r.Resolve(context.Background(), "no.such.tool")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestRegistryResolveManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	entries := []registry.Entry{{
		Type:     registry.EntryTool,
		Name:     "acme.ping",
		Endpoint: "https://acme.example/ping",
		Method:   "POST",
	}}
	raw, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	mgr := registry.NewManager(registry.NewLocalIndex(path))
	r := NewRegistry(mgr, nil)

	a, err := r.Resolve(context.Background(), "acme.ping")
	require.NoError(t, err)
	httpA, ok := a.(*HTTPAdapter)
	require.True(t, ok)
	assert.Equal(t, "https://acme.example/ping", httpA.ToolManifest.Endpoint)

	// Second resolve hits the cache.
	again, err := r.Resolve(context.Background(), "acme.ping")
	require.NoError(t, err)
	assert.Same(t, a, again)
}

func TestRegistryManifestOutranksGenericHTTP(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	entries := []registry.Entry{{
		Type:     registry.EntryTool,
		Name:     "http",
		Endpoint: "https://proxy.example/fetch",
		Method:   "POST",
	}}
	raw, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	mgr := registry.NewManager(registry.NewLocalIndex(path))
	r := NewRegistry(mgr, nil)

	a, err := r.Resolve(context.Background(), "http")
	require.NoError(t, err)
	httpA, ok := a.(*HTTPAdapter)
	require.True(t, ok)
	assert.Equal(t, "https://proxy.example/fetch", httpA.ToolManifest.Endpoint)

	// Without a manifest claiming the name, the generic fetch adapter
	// still serves it.
	plain := NewRegistry(nil, nil)
	generic, err := plain.Resolve(context.Background(), "http")
	require.NoError(t, err)
	_, ok = generic.(*HTTPFetchAdapter)
	assert.True(t, ok)
}

type stubInvoker struct {
	server, tool string
	args         map[string]any
}

func (s *stubInvoker) Invoke(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	s.server, s.tool, s.args = server, tool, args
	return map[string]any{"ok": true}, nil
}

func TestRegistryResolveMCP(t *testing.T) {
	inv := &stubInvoker{}
	r := NewRegistry(nil, inv)
	a, err := r.Resolve(context.Background(), "mcp://files/read_file")
	require.NoError(t, err)

	out, err := a.Execute(context.Background(), map[string]any{
		UseKey: "mcp://files/read_file",
		"path": "/tmp/x",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
	assert.Equal(t, "files", inv.server)
	assert.Equal(t, "read_file", inv.tool)
	assert.Equal(t, map[string]any{"path": "/tmp/x"}, inv.args)
}

func TestRegistryResolveMCPDisabled(t *testing.T) {
	r := NewRegistry(nil, nil)
	_, err := r.Resolve(context.Background(), "mcp://files/read_file")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestSplitMCPUse(t *testing.T) {
	server, tool, err := SplitMCPUse("mcp://files/fs/read")
	require.NoError(t, err)
	assert.Equal(t, "files", server)
	assert.Equal(t, "fs/read", tool)

	_, _, err = SplitMCPUse("mcp://onlyserver")
	assert.Error(t, err)
	_, _, err = SplitMCPUse("http://not-mcp")
	assert.Error(t, err)
}

func TestValidateParams(t *testing.T) {
	m := &registry.ToolManifest{
		Name: "t",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
	}
	require.NoError(t, ValidateParams(m, map[string]any{"text": "hi", UseKey: "t"}))

	err := ValidateParams(m, map[string]any{"text": 42})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	err = ValidateParams(m, map[string]any{})
	require.Error(t, err)

	// No schema accepts anything.
	require.NoError(t, ValidateParams(&registry.ToolManifest{Name: "free"}, map[string]any{"x": 1}))
}

func TestEchoAdapter(t *testing.T) {
	a := &EchoAdapter{}
	out, err := a.Execute(context.Background(), map[string]any{
		"text":  "hello",
		UseKey:  "core.echo",
		"extra": 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out["text"])
	assert.Equal(t, 1, out["extra"])
	assert.NotContains(t, out, UseKey)
}

func TestWaitAdapterValidatesSeconds(t *testing.T) {
	a := &WaitAdapter{}
	_, err := a.Execute(context.Background(), map[string]any{"seconds": "soon"})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	out, err := a.Execute(context.Background(), map[string]any{"seconds": 0})
	require.NoError(t, err)
	assert.Equal(t, float64(0), out["seconds"])
}

func TestHTTPFetchAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	a := &HTTPFetchAdapter{}
	out, err := a.Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"query":   map[string]any{"id": 42},
		"headers": map[string]any{"X-Test": "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
}

func TestHTTPFetchAdapterNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := &HTTPFetchAdapter{}
	_, err := a.Execute(context.Background(), map[string]any{"url": srv.URL})
	require.Error(t, err)
	fe, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindAdapter, fe.Kind)
	assert.Equal(t, http.StatusInternalServerError, fe.Details["status"])
}

func TestHTTPFetchAdapterWrapsNonObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1, 2, 3]`))
	}))
	defer srv.Close()

	a := &HTTPFetchAdapter{}
	out, err := a.Execute(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, out["body"])
}

func TestHTTPAdapterManifestInvocation(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sekrit")
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"id": "msg-1"})
	}))
	defer srv.Close()

	a := &HTTPAdapter{
		AdapterID: "acme.send",
		ToolManifest: &registry.ToolManifest{
			Name:     "acme.send",
			Endpoint: srv.URL + "/send",
			Method:   "POST",
			Headers:  map[string]string{"Authorization": "Bearer $env:TEST_API_KEY"},
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"channel": map[string]any{"type": "string", "default": "general"},
					"text":    map[string]any{"type": "string"},
				},
			},
		},
	}
	out, err := a.Execute(context.Background(), map[string]any{
		UseKey: "acme.send",
		"text": "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", out["id"])
	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, "hi", gotBody["text"])
	// Schema default injected for the missing field.
	assert.Equal(t, "general", gotBody["channel"])
}

func TestHTTPAdapterTemplatedEndpoint(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := &HTTPAdapter{
		AdapterID: "acme.item",
		ToolManifest: &registry.ToolManifest{
			Name:     "acme.item",
			Endpoint: srv.URL + "/items/{{ params.id }}",
			Method:   "GET",
		},
	}
	_, err := a.Execute(context.Background(), map[string]any{"id": "a1"})
	require.NoError(t, err)
	assert.Equal(t, "/items/a1", path)
}

func TestHTTPAdapterNoEndpointFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"via": "fetch"}`))
	}))
	defer srv.Close()

	a := &HTTPAdapter{
		AdapterID:    "http.get",
		ToolManifest: &registry.ToolManifest{Name: "http.get"},
	}
	out, err := a.Execute(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "fetch", out["via"])
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO_TOKEN", "abc")
	assert.Equal(t, "Bearer abc", expandEnv("Bearer $env:FOO_TOKEN"))
	assert.Equal(t, "abc/abc", expandEnv("$env:FOO_TOKEN/$env:FOO_TOKEN"))
	assert.Equal(t, "plain", expandEnv("plain"))
	assert.Equal(t, "", expandEnv("$env:UNSET_VAR_XYZ"))
}

func TestBlobAdapters(t *testing.T) {
	store, err := blob.NewStore(context.Background(), &blob.Config{Driver: "fs", Dir: t.TempDir()})
	require.NoError(t, err)

	put := &BlobPutAdapter{Store: store}
	out, err := put.Execute(context.Background(), map[string]any{
		"content":  "hello blob",
		"filename": "greeting.txt",
	})
	require.NoError(t, err)
	url, _ := out["url"].(string)
	require.NotEmpty(t, url)

	get := &BlobGetAdapter{Store: store}
	got, err := get.Execute(context.Background(), map[string]any{"url": url})
	require.NoError(t, err)
	assert.Equal(t, "hello blob", got["content"])
}

func TestBlobPutBase64(t *testing.T) {
	store, err := blob.NewStore(context.Background(), &blob.Config{Driver: "fs", Dir: t.TempDir()})
	require.NoError(t, err)

	put := &BlobPutAdapter{Store: store}
	encoded := base64.StdEncoding.EncodeToString([]byte("binary!"))
	out, err := put.Execute(context.Background(), map[string]any{
		"content":  encoded,
		"encoding": "base64",
	})
	require.NoError(t, err)

	get := &BlobGetAdapter{Store: store}
	got, err := get.Execute(context.Background(), map[string]any{"url": out["url"]})
	require.NoError(t, err)
	assert.Equal(t, "binary!", got["content"])
}
