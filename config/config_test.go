package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Event.Driver)
	assert.Equal(t, "fs", cfg.Blob.Driver)
	assert.Equal(t, DefaultBlobDir, cfg.Blob.Dir)
	assert.Equal(t, 10, cfg.Engine.InlineWaitMaxSec)
	assert.Equal(t, 1000, cfg.Engine.TickMs)
	assert.Equal(t, 0, cfg.Engine.MaxParallel)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.config.json")
	doc := `{
		"storage": {"driver": "sqlite"},
		"event": {"driver": "nats", "url": "nats://localhost:4222", "cluster_id": "flows"},
		"registries": [{"type": "local", "path": "reg.json"}, {"type": "remote", "url": "https://hub.example/index.json"}],
		"engine": {"max_parallel": 4, "tick_ms": 250},
		"mcpServers": {"files": {"command": "npx", "args": ["server-filesystem"]}},
		"tracing": {"exporter": "stdout"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, DefaultSQLiteDSN, cfg.Storage.DSN)
	assert.Equal(t, "nats", cfg.Event.Driver)
	assert.Equal(t, "flows", cfg.Event.ClusterID)
	require.Len(t, cfg.Registries, 2)
	assert.Equal(t, "local", cfg.Registries[0].Type)
	assert.Equal(t, 4, cfg.Engine.MaxParallel)
	assert.Equal(t, 250, cfg.Engine.TickMs)
	assert.Equal(t, 10, cfg.Engine.InlineWaitMaxSec)
	assert.Equal(t, "npx", cfg.MCPServers["files"].Command)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BEEMFLOW_STORAGE_DRIVER", "sqlite")
	t.Setenv("BEEMFLOW_STORAGE_DSN", "/tmp/custom.db")
	t.Setenv("BEEMFLOW_MAX_PARALLEL", "8")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/custom.db", cfg.Storage.DSN)
	assert.Equal(t, 8, cfg.Engine.MaxParallel)
}
