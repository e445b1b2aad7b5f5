// Package storage persists runs, step executions, paused continuations,
// wake-ups, and the flow registry. Three drivers share the interface: an
// in-memory store for tests and ephemeral use, SQLite for single-node
// deployments, and Postgres for shared ones.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
)

// Storage is the persistence gateway. All implementations are safe for
// concurrent use. Lookups that can legitimately miss (GetLatestRun,
// ClaimPausedRun) return nil, nil; lookups by a key the caller holds
// (GetRun, LoadFlow) treat absence as a StorageError.
type Storage interface {
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status model.RunStatus, endedAt *int64) error
	GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error)
	ListRuns(ctx context.Context) ([]*model.Run, error)
	GetLatestRun(ctx context.Context, flowName string) (*model.Run, error)

	CreateStep(ctx context.Context, step *model.StepExecution) error
	UpdateStep(ctx context.Context, step *model.StepExecution) error
	GetSteps(ctx context.Context, runID uuid.UUID) ([]*model.StepExecution, error)

	SavePausedRun(ctx context.Context, paused *model.PausedRun) error
	LoadPausedRun(ctx context.Context, token string) (*model.PausedRun, error)
	// ClaimPausedRun atomically loads and deletes the continuation so
	// concurrent wakes resume a run at most once.
	ClaimPausedRun(ctx context.Context, token string) (*model.PausedRun, error)
	DeletePausedRun(ctx context.Context, token string) error
	ListPausedRuns(ctx context.Context) ([]*model.PausedRun, error)

	SaveWait(ctx context.Context, token string, wakeAt int64) error
	ListWaitsDue(ctx context.Context, now int64) ([]string, error)
	DeleteWait(ctx context.Context, token string) error

	SaveFlow(ctx context.Context, name string, content []byte) error
	LoadFlow(ctx context.Context, name string) ([]byte, error)
	ListFlows(ctx context.Context) ([]string, error)
	SaveFlowVersion(ctx context.Context, v *model.FlowVersion) error
	ListFlowVersions(ctx context.Context, name string) ([]*model.FlowVersion, error)
	SetDeployedVersion(ctx context.Context, name, version string) error
	GetDeployed(ctx context.Context, name string) ([]byte, error)

	Close() error
}

// Config selects and parameterizes a driver.
type Config struct {
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

// New builds a store from config. Driver defaults to memory; sqlite and
// postgres require a DSN.
func New(cfg *Config) (Storage, error) {
	driver := ""
	if cfg != nil {
		driver = cfg.Driver
	}
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		if cfg.DSN == "" {
			return nil, errors.Validation("sqlite storage requires a dsn")
		}
		return NewSQLite(cfg.DSN)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.Validation("postgres storage requires a dsn")
		}
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.Validation("unknown storage driver: %s", driver)
	}
}
