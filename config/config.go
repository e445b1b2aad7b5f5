// Package config loads the flow.config.json file and fills in defaults and
// environment fallbacks. All sections are optional; a missing file yields a
// fully working in-memory configuration.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/awantoch/beemflow/blob"
	"github.com/awantoch/beemflow/event"
	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/storage"
)

// Default paths for beemflow artifacts.
const (
	DefaultConfigFile        = "flow.config.json"
	DefaultConfigDir         = ".beemflow"
	DefaultBlobDir           = DefaultConfigDir + "/files"
	DefaultLocalRegistryPath = DefaultConfigDir + "/registry.json"
	DefaultSQLiteDSN         = DefaultConfigDir + "/flow.db"
)

type Config struct {
	Storage    *storage.Config                  `json:"storage,omitempty"`
	Event      *event.Config                    `json:"event,omitempty"`
	Blob       *blob.Config                     `json:"blob,omitempty"`
	Registries []RegistrySource                 `json:"registries,omitempty"`
	Log        LogConfig                        `json:"log,omitempty"`
	Engine     EngineConfig                     `json:"engine,omitempty"`
	MCPServers map[string]model.MCPServerConfig `json:"mcpServers,omitempty"`
	Tracing    TracingConfig                    `json:"tracing,omitempty"`
}

// RegistrySource names one tool manifest index.
type RegistrySource struct {
	Type string `json:"type"` // local | remote
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

type LogConfig struct {
	Level string `json:"level,omitempty"` // debug | info
}

// EngineConfig bounds the orchestrator.
type EngineConfig struct {
	// MaxParallel caps concurrently running steps per scope; 0 means
	// unbounded.
	MaxParallel int `json:"max_parallel,omitempty"`
	// InlineWaitMaxSec is the longest wait served by an in-memory timer
	// before the run is persisted and suspended instead.
	InlineWaitMaxSec int `json:"inline_wait_max_sec,omitempty"`
	// TickMs is the timer scanner poll interval.
	TickMs int `json:"tick_ms,omitempty"`
}

type TracingConfig struct {
	Exporter    string `json:"exporter,omitempty"` // none | stdout | otlp
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// Load reads the config file at path (default flow.config.json). A missing
// file is not an error; defaults and env fallbacks still apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Validation("parse config %s: %v", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Validation("read config %s: %v", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BEEMFLOW_STORAGE_DRIVER"); v != "" {
		c.ensureStorage().Driver = v
	}
	if v := os.Getenv("BEEMFLOW_STORAGE_DSN"); v != "" {
		c.ensureStorage().DSN = v
	}
	if v := os.Getenv("BEEMFLOW_EVENT_DRIVER"); v != "" {
		c.ensureEvent().Driver = v
	}
	if v := os.Getenv("BEEMFLOW_NATS_URL"); v != "" {
		c.ensureEvent().URL = v
	}
	if v := os.Getenv("BEEMFLOW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BEEMFLOW_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxParallel = n
		}
	}
}

func (c *Config) applyDefaults() {
	s := c.ensureStorage()
	if s.Driver == "" {
		s.Driver = "memory"
	}
	if s.Driver == "sqlite" && s.DSN == "" {
		s.DSN = DefaultSQLiteDSN
	}
	e := c.ensureEvent()
	if e.Driver == "" {
		e.Driver = "memory"
	}
	b := c.ensureBlob()
	if b.Driver == "" {
		b.Driver = "fs"
	}
	if b.Driver == "fs" && b.Dir == "" {
		b.Dir = DefaultBlobDir
	}
	if c.Engine.InlineWaitMaxSec == 0 {
		c.Engine.InlineWaitMaxSec = 10
	}
	if c.Engine.TickMs == 0 {
		c.Engine.TickMs = 1000
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "beemflow"
	}
}

func (c *Config) ensureStorage() *storage.Config {
	if c.Storage == nil {
		c.Storage = &storage.Config{}
	}
	return c.Storage
}

func (c *Config) ensureEvent() *event.Config {
	if c.Event == nil {
		c.Event = &event.Config{}
	}
	return c.Event
}

func (c *Config) ensureBlob() *blob.Config {
	if c.Blob == nil {
		c.Blob = &blob.Config{}
	}
	return c.Blob
}
