// Package sqlite provides a SQLite-backed persistent store built on the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/sqlstate"
	"labcore/pkg/domain"
)

const defaultPath = "labcore.db"

// Store persists state to a single SQLite file.
type Store struct {
	*sqlstate.Store
	path string
}

// Dialect returns the SQLite statements used by the store.
func Dialect() sqlstate.Dialect {
	return sqlstate.Dialect{
		Name: "sqlite",
		Schema: []string{
			`PRAGMA busy_timeout = 5000`,
			`CREATE TABLE IF NOT EXISTS state (
				bucket TEXT PRIMARY KEY,
				payload BLOB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS state_version (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				version INTEGER NOT NULL
			)`,
			`INSERT OR IGNORE INTO state_version(id, version) VALUES (1, 0)`,
			`CREATE TABLE IF NOT EXISTS equipment_usage_keys (
				equipment_id TEXT NOT NULL,
				parameter_id TEXT NOT NULL,
				usage_type TEXT NOT NULL,
				start_at TEXT NOT NULL,
				log_id TEXT NOT NULL,
				PRIMARY KEY (equipment_id, parameter_id, usage_type, start_at)
			)`,
		},
		SelectVersion:     `SELECT version FROM state_version WHERE id = 1`,
		BumpVersion:       `UPDATE state_version SET version = version + 1 WHERE id = 1 AND version = ?`,
		SelectState:       `SELECT bucket, payload FROM state`,
		UpsertBucket:      `INSERT INTO state(bucket, payload) VALUES(?, ?) ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`,
		InsertKey:         `INSERT INTO equipment_usage_keys(equipment_id, parameter_id, usage_type, start_at, log_id) VALUES(?, ?, ?, ?, ?)`,
		DeleteKey:         `DELETE FROM equipment_usage_keys WHERE equipment_id = ? AND parameter_id = ? AND usage_type = ? AND start_at = ?`,
		IsUniqueViolation: isUniqueViolation,
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// NewStore opens (creating if needed) the database at path and hydrates the
// in-memory state from it.
func NewStore(ctx context.Context, path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	inner, err := sqlstate.Open(ctx, db, Dialect(), engine, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.DB().Close() }
