package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	working_directory TEXT NOT NULL,
	environment       TEXT,
	is_active         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS blocks (
	id                TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	timestamp         TEXT NOT NULL,
	command           TEXT NOT NULL,
	output            TEXT NOT NULL DEFAULT '',
	exit_code         INTEGER,
	state             TEXT NOT NULL,
	working_directory TEXT NOT NULL,
	environment       TEXT,
	started_at        TEXT,
	completed_at      TEXT,
	duration_ms       INTEGER,
	is_collapsed      INTEGER NOT NULL DEFAULT 0,
	block_order       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blocks_session_order ON blocks(session_id, block_order);
CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(is_active);
`

// Database wraps the SQLite connection holding session history.
type Database struct {
	db *sql.DB
}

// NewDatabase opens (creating if needed) the database at dbPath and runs
// migrations. The parent directory is created when missing.
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pragmas are per-connection; pin the pool to one so they stick. SQLite
	// is single-writer anyway.
	db.SetMaxOpenConns(1)

	// WAL for concurrent reader (auto-save task) friendliness.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Database{db: db}, nil
}

// DB exposes the underlying handle.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}
