package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the journal database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := CheckLocalFilesystem(path); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the supervisor is serial anyway.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invocation_log (
  id             TEXT PRIMARY KEY,
  function_name  TEXT NOT NULL,
  request_id     TEXT,
  outcome        TEXT NOT NULL,
  worker_pid     INTEGER,
  worker_spawned INTEGER NOT NULL DEFAULT 0,
  exit_code      INTEGER,
  event_digest   TEXT,
  event          JSON,
  output         TEXT,
  has_data       INTEGER NOT NULL DEFAULT 0,
  diagnostic     TEXT,
  started_at     TEXT NOT NULL,
  deadline_at    TEXT NOT NULL,
  completed_at   TEXT NOT NULL,
  duration_ms    INTEGER NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS notification_log (
  id            TEXT PRIMARY KEY,
  invocation_id TEXT NOT NULL,
  kind          TEXT NOT NULL,
  subject       TEXT NOT NULL,
  dedupe_key    TEXT,
  delivered     INTEGER NOT NULL,
  error         TEXT,
  created_at    TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_started_at_idx ON invocation_log(started_at);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_outcome_idx ON invocation_log(outcome, started_at);`,
		`CREATE INDEX IF NOT EXISTS notification_log_invocation_idx ON notification_log(invocation_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
