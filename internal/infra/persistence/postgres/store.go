// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/sqlstate"
	"labcore/pkg/domain"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/labcore?sslmode=disable"

	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres.
type Store struct {
	*sqlstate.Store
}

// Dialect returns the Postgres statements used by the store.
func Dialect() sqlstate.Dialect {
	return sqlstate.Dialect{
		Name: "postgres",
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS state (
				bucket TEXT PRIMARY KEY,
				payload JSONB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS state_version (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				version BIGINT NOT NULL
			)`,
			`INSERT INTO state_version(id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
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
		BumpVersion:       `UPDATE state_version SET version = version + 1 WHERE id = 1 AND version = $1`,
		SelectState:       `SELECT bucket, payload FROM state`,
		UpsertBucket:      `INSERT INTO state(bucket, payload) VALUES($1, $2) ON CONFLICT(bucket) DO UPDATE SET payload = EXCLUDED.payload`,
		InsertKey:         `INSERT INTO equipment_usage_keys(equipment_id, parameter_id, usage_type, start_at, log_id) VALUES($1, $2, $3, $4, $5)`,
		DeleteKey:         `DELETE FROM equipment_usage_keys WHERE equipment_id = $1 AND parameter_id = $2 AND usage_type = $3 AND start_at = $4`,
		IsUniqueViolation: isUniqueViolation,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN), ensures the schema exists and hydrates from the stored state.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstate.Open(ctx, db, Dialect(), engine, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB().Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
