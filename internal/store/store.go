package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/objidx/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added (object_id, checkpoint) index on objects_history for snapshot rebuilds
// 2 - Absent owners and object types stored as '' instead of NULL
const currentSchemaVersion = 2

// ProtocolConfigProvider returns the protocol configs and feature flags to
// persist for a chain. It is called once, by the first writer of the chain
// identifier.
type ProtocolConfigProvider func(chainID []byte) ([]ProtocolConfig, []FeatureFlag, error)

// Option configures a Store.
type Option func(*Store)

// WithProtocolConfigs sets the provider used by
// PersistProtocolConfigsAndFeatureFlags. Without one only the chain
// identifier is stored.
func WithProtocolConfigs(p ProtocolConfigProvider) Option {
	return func(s *Store) {
		s.protocolConfigs = p
	}
}

// Store is the SQLite implementation of IndexerStore.
// Uses WAL mode so readers never block the single writer.
type Store struct {
	db              *sql.DB
	planner         *querysql.Planner
	protocolConfigs ProtocolConfigProvider
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - case-sensitive LIKE, since object types are matched by prefix
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time. Pragmas are per connection, so
	// the single connection is also kept alive indefinitely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:      db,
		planner: querysql.NewPlanner(querysql.SQLite),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// dbtx is the subset of *sql.DB and *sql.Tx used by the write paths, so the
// same code runs standalone or inside CommitCheckpointBatch.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction and classifies any failure under op.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA case_sensitive_like = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the index used to pick the newest row per object inside a
// checkpoint window.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_objects_history_object_checkpoint
		ON objects_history(object_id, checkpoint)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 rewrites NULL owner and type columns to ''. NOT (NULL) is
// NULL, so NULLs there made negated filters drop unrelated rows.
func migrateToV2(db *sql.DB) error {
	for _, table := range []string{"objects", "objects_history", "objects_snapshot"} {
		_, err := db.Exec(fmt.Sprintf(`
			UPDATE %s SET
				owner_type = COALESCE(owner_type, ''),
				owner_address = COALESCE(owner_address, ''),
				old_owner_type = COALESCE(old_owner_type, ''),
				old_owner_address = COALESCE(old_owner_address, ''),
				object_type = COALESCE(object_type, '')
			WHERE owner_type IS NULL OR owner_address IS NULL
				OR old_owner_type IS NULL OR old_owner_address IS NULL
				OR object_type IS NULL
		`, table))
		if err != nil {
			return fmt.Errorf("migrate %s to v2: %w", table, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
