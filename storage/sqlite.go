package storage

import (
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/awantoch/beemflow/pkg/errors"
)

// NewSQLite opens (and migrates) a SQLite-backed store. The parent directory
// is created so a default path like .beemflow/flow.db works on first run.
func NewSQLite(dsn string) (Storage, error) {
	if dir := sqliteDir(dsn); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Storage("create sqlite dir %s: %v", dir, err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Storage("open sqlite %s: %v", dsn, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, false)
}

func sqliteDir(dsn string) string {
	path := dsn
	if strings.HasPrefix(path, "file:") {
		if u, err := url.Parse(path); err == nil {
			path = u.Opaque
			if path == "" {
				path = u.Path
			}
		}
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return ""
	}
	return filepath.Dir(path)
}
