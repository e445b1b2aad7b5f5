package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/awantoch/beemflow/adapter"
	"github.com/awantoch/beemflow/blob"
	"github.com/awantoch/beemflow/config"
	"github.com/awantoch/beemflow/engine"
	"github.com/awantoch/beemflow/event"
	"github.com/awantoch/beemflow/mcp"
	"github.com/awantoch/beemflow/registry"
	"github.com/awantoch/beemflow/storage"
	"github.com/awantoch/beemflow/telemetry"
	"github.com/awantoch/beemflow/utils"
)

var (
	exit       = os.Exit
	configPath string
	debug      bool
)

// NewRootCmd creates the root 'flow' command with persistent flags and
// subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "flow",
		Short:        "BeemFlow workflow engine",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "Path to flow config JSON")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logs")

	rootCmd.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newGraphCmd(),
		newFlowsCmd(),
		newRunsCmd(),
		newEventsCmd(),
	)
	return rootCmd
}

// runtime holds the wired service graph a command operates on.
type runtime struct {
	cfg      *config.Config
	store    storage.Storage
	bus      event.Bus
	blobs    blob.Store
	mcp      *mcp.Manager
	eng      *engine.Engine
	shutdown func(context.Context) error
}

// newRuntime loads config and wires storage, event bus, blob store, tool
// registries, MCP, and the engine.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	utils.SetLevel(cfg.Log.Level)

	shutdown, err := telemetry.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, err
	}
	bus, err := event.NewBus(cfg.Event)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.NewStore(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}

	var indexes []registry.Index
	for _, src := range cfg.Registries {
		switch src.Type {
		case "remote":
			indexes = append(indexes, registry.NewRemoteIndex(src.URL))
		default:
			indexes = append(indexes, registry.NewLocalIndex(src.Path))
		}
	}
	if len(indexes) == 0 {
		if _, err := os.Stat(config.DefaultLocalRegistryPath); err == nil {
			indexes = append(indexes, registry.NewLocalIndex(config.DefaultLocalRegistryPath))
		}
	}
	// The embedded index is always last so configured sources shadow it.
	indexes = append(indexes, registry.NewDefaultIndex())
	manifests := registry.NewManager(indexes...)

	mgr := mcp.NewManager(cfg.MCPServers)
	adapters := adapter.NewRegistry(manifests, mgr)
	adapters.Register(&adapter.BlobPutAdapter{Store: blobs})
	adapters.Register(&adapter.BlobGetAdapter{Store: blobs})

	eng := engine.New(adapters, bus, store, cfg.Engine)
	eng.MCP = mgr

	return &runtime{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		blobs:    blobs,
		mcp:      mgr,
		eng:      eng,
		shutdown: shutdown,
	}, nil
}

func (rt *runtime) close(ctx context.Context) {
	if err := rt.eng.Close(); err != nil {
		utils.Warn("engine close: %v", err)
	}
	if err := rt.mcp.Close(); err != nil {
		utils.Warn("mcp close: %v", err)
	}
	if err := rt.bus.Close(); err != nil {
		utils.Warn("event bus close: %v", err)
	}
	if err := rt.store.Close(); err != nil {
		utils.Warn("storage close: %v", err)
	}
	if err := rt.shutdown(ctx); err != nil {
		utils.Warn("tracing shutdown: %v", err)
	}
}
