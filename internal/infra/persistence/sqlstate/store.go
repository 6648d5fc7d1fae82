// Package sqlstate persists the in-memory store to a SQL database as one JSON
// document per bucket, guarded by an optimistic version row and a relational
// equipment usage key table. The sqlite and postgres packages supply dialects.
package sqlstate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// Dialect carries the statements and error classification a database needs.
type Dialect struct {
	Name string
	// Schema runs once at open, in order.
	Schema        []string
	SelectVersion string
	// BumpVersion takes the expected version and must affect exactly one row.
	BumpVersion  string
	SelectState  string
	UpsertBucket string
	// InsertKey takes equipment, parameter, usage type, start and log id.
	InsertKey string
	// DeleteKey takes equipment, parameter, usage type and start.
	DeleteKey         string
	IsUniqueViolation func(error) bool
}

// Store wraps memory.Store and writes every commit through to the database
// inside the memory store's commit hook, so a failed write leaves the
// in-memory state untouched.
type Store struct {
	*memory.Store
	db      *sql.DB
	dialect Dialect

	reloadMu sync.Mutex
	mu       sync.Mutex
	version  int64
	stale    bool
}

// Open applies the dialect schema and hydrates a store from db.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s schema: %w", dialect.Name, err)
		}
	}
	s := &Store{db: db, dialect: dialect}
	s.Store = memory.NewStore(engine, append(opts, memory.WithCommitHook(s.persist))...)
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// RunInTransaction delegates to the memory store. When the write failed
// because another process advanced the database first, the store reloads so
// the caller's retry sees the fresh state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err == nil {
		return res, nil
	}
	s.mu.Lock()
	stale := s.stale
	s.mu.Unlock()
	if stale {
		if reloadErr := s.Reload(ctx); reloadErr != nil {
			return res, fmt.Errorf("%w (reload: %v)", err, reloadErr)
		}
	}
	return res, err
}

// Reload replaces the in-memory state with what the database holds.
func (s *Store) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	// Version first: a writer landing between the two reads only makes the
	// next persist conflict and reload again.
	var version int64
	if err := s.db.QueryRowContext(ctx, s.dialect.SelectVersion).Scan(&version); err != nil {
		return fmt.Errorf("select version: %w", err)
	}
	snapshot, err := s.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	// ImportState takes the memory lock, which persist holds while taking
	// s.mu, so s.mu must not be held here.
	s.Store.ImportState(snapshot)
	s.mu.Lock()
	s.version = version
	s.stale = false
	s.mu.Unlock()
	return nil
}

// Version reports the database state version this store last observed.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) loadSnapshot(ctx context.Context) (memory.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.SelectState)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return memory.Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context, commit memory.Commit) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.dialect.BumpVersion, s.version)
	if err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	if affected != 1 {
		s.stale = true
		return domain.ConcurrencyConflict("persist", "", "", domain.ErrVersionMismatch,
			"state advanced past version %d", s.version)
	}

	for _, bucket := range memory.Buckets() {
		data, err := commit.Snapshot.EncodeBucket(bucket)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.dialect.UpsertBucket, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}

	for _, op := range memory.UsageKeyOps(commit.Changes) {
		key := op.Key.Normalize()
		start := key.Start.Format(time.RFC3339)
		if op.Delete {
			if _, err := tx.ExecContext(ctx, s.dialect.DeleteKey, key.EquipmentID, key.ParameterID, string(key.UsageType), start); err != nil {
				return fmt.Errorf("delete usage key: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, s.dialect.InsertKey, key.EquipmentID, key.ParameterID, string(key.UsageType), start, op.LogID); err != nil {
			if s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err) {
				return domain.ConcurrencyConflict("persist", domain.EntityUsageLog, op.LogID, domain.ErrDuplicateUsage,
					"equipment %s already logged %s at %s", key.EquipmentID, key.UsageType, start)
			}
			return fmt.Errorf("insert usage key: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.version++
	return nil
}
