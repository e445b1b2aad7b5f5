package storage

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/awantoch/beemflow/pkg/errors"
)

// NewPostgres opens (and migrates) a Postgres-backed store.
func NewPostgres(dsn string) (Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Storage("open postgres: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Storage("connect postgres: %v", err)
	}
	return newSQLStore(db, true)
}
