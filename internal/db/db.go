// Package db provides the shared database connection and schema for ruled.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Reconcile ledger - append-only history of reconciliation outcomes
	// per rule, for auditing and invocation dedupe
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reconcile_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			invocation_id TEXT,
			rule TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_rule_ts ON reconcile_ledger(rule, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_invocation ON reconcile_ledger(invocation_id, event_type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create reconcile_ledger table: %w", err)
	}

	// Unique partial index for invocation dedupe: only one completion per
	// invocation id, "first writer wins"
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_invocation_completed
		ON reconcile_ledger(invocation_id)
		WHERE invocation_id IS NOT NULL AND invocation_id != '' AND event_type = 'reconcile_completed';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_ledger_invocation_completed index: %w", err)
	}

	// Resource state - converged rule properties keyed by (kind, id),
	// version incremented on every convergence
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS resource_state (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS idx_resource_state_kind ON resource_state(kind);
	`)
	if err != nil {
		return fmt.Errorf("failed to create resource_state table: %w", err)
	}

	// KV store - in-flight session snapshots and other TTL-bounded blobs
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			expires_at INTEGER,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (bucket, key)
		);
		CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv_store(expires_at) WHERE expires_at IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to create kv_store table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
