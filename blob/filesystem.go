package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/awantoch/beemflow/pkg/errors"
)

// FilesystemStore implements Store on the local filesystem. This is the
// default driver for local and dev use.
type FilesystemStore struct {
	dir string
}

// NewFilesystemStore creates the directory if needed.
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FilesystemStore{dir: dir}, nil
}

// Put writes the blob atomically and returns a file:// URL.
func (f *FilesystemStore) Put(ctx context.Context, data []byte, mime, filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("blob-%d", time.Now().UnixNano())
	}
	filename = filepath.Base(filename)
	path := filepath.Join(f.dir, filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return "file://" + path, nil
}

// Get reads the blob back from a file:// URL.
func (f *FilesystemStore) Get(ctx context.Context, url string) ([]byte, error) {
	const prefix = "file://"
	if !strings.HasPrefix(url, prefix) {
		return nil, errors.Validation("invalid file URL: %s", url)
	}
	return os.ReadFile(strings.TrimPrefix(url, prefix))
}
