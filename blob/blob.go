// Package blob provides the artifact store behind the core.blob.* tools:
// a filesystem driver for local use and an S3 driver for deployments.
package blob

import (
	"context"

	"github.com/awantoch/beemflow/pkg/errors"
)

// Store is the interface for pluggable blob storage backends. Put returns a
// URL whose scheme identifies the driver (file:// or s3://).
type Store interface {
	Put(ctx context.Context, data []byte, mime, filename string) (url string, err error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// Config selects and parameterizes a blob driver.
type Config struct {
	Driver string `json:"driver"`
	Dir    string `json:"dir,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Region string `json:"region,omitempty"`
}

// DefaultDir is where the filesystem driver writes when no dir is configured.
const DefaultDir = ".beemflow/files"

// NewStore builds a Store from config. Nil or empty config means the
// filesystem driver in the default directory.
func NewStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil || cfg.Driver == "" || cfg.Driver == "fs" || cfg.Driver == "filesystem" {
		dir := DefaultDir
		if cfg != nil && cfg.Dir != "" {
			dir = cfg.Dir
		}
		return NewFilesystemStore(dir)
	}
	if cfg.Driver == "s3" {
		return NewS3Store(ctx, cfg.Bucket, cfg.Region)
	}
	return nil, errors.Validation("unsupported blob driver: %s", cfg.Driver)
}
