package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const maxErrorLen = 512

// timeLayout is the on-disk timestamp format; it sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000"

// SQLiteAuditor implements Auditor using a local SQLite database.
type SQLiteAuditor struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT    NOT NULL,
    timestamp   TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f','now')),
    config_path TEXT    NOT NULL DEFAULT '',
    table_count INTEGER NOT NULL,
    outcome     TEXT    NOT NULL,
    reason      TEXT    NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL,
    dry_run     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS table_results (
    id                        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id                    INTEGER NOT NULL REFERENCES sync_runs(id),
    entry_index               INTEGER NOT NULL,
    table_ref                 TEXT    NOT NULL,
    source                    TEXT    NOT NULL,
    outcome                   TEXT    NOT NULL,
    stage                     TEXT    NOT NULL DEFAULT '',
    changed_columns           INTEGER NOT NULL DEFAULT 0,
    table_description_changed INTEGER NOT NULL DEFAULT 0,
    duration_ms               INTEGER NOT NULL,
    error                     TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_run_ts ON sync_runs(timestamp);
CREATE INDEX IF NOT EXISTS idx_table_run ON table_results(run_id);
CREATE INDEX IF NOT EXISTS idx_table_ref ON table_results(table_ref);

CREATE TABLE IF NOT EXISTS rotations (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT    NOT NULL,
    cutoff    TEXT    NOT NULL,
    archive   TEXT    NOT NULL DEFAULT '',
    runs      INTEGER NOT NULL DEFAULT 0
);
`

// migrations upgrade databases created by older releases. Entry i moves
// user_version from i to i+1. A fresh database is created at the current
// schema and stamped with len(migrations).
var migrations []func(*sql.Tx) error

// DefaultDBPath returns the default audit database path.
// It checks $SCHEMADOC_AUDIT_DB, then $XDG_DATA_HOME/schemadoc/audit.db,
// then falls back to ~/.local/share/schemadoc/audit.db.
func DefaultDBPath() string {
	if p := os.Getenv("SCHEMADOC_AUDIT_DB"); p != "" {
		return p
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "schemadoc", "audit.db")
}

// Open opens (or creates) a SQLite audit database at the given path.
// It runs the schema migration and configures WAL mode with a 5-second busy timeout.
func Open(dbPath string) (*SQLiteAuditor, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory %q: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open database %q: %w", dbPath, err)
	}

	setup := []struct {
		what string
		fn   func(*sql.DB) error
	}{
		{"set WAL mode", func(db *sql.DB) error { _, err := db.Exec("PRAGMA journal_mode=WAL"); return err }},
		{"set busy_timeout", func(db *sql.DB) error { _, err := db.Exec("PRAGMA busy_timeout=5000"); return err }},
		{"create schema", func(db *sql.DB) error { _, err := db.Exec(schema); return err }},
		{"migrate", migrate},
	}
	for _, step := range setup {
		if err := step.fn(db); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("audit: %s: %w (also failed to close: %v)", step.what, err, closeErr)
			}
			return nil, fmt.Errorf("audit: %s: %w", step.what, err)
		}
	}

	return &SQLiteAuditor{db: db}, nil
}

// migrate applies pending migrations, one transaction per version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", version, len(migrations))
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		if err := migrations[v](tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set user_version to %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}
	return nil
}

// DB returns the underlying *sql.DB for use with query helpers.
// Returns nil if the receiver is nil.
func (a *SQLiteAuditor) DB() *sql.DB {
	if a == nil {
		return nil
	}
	return a.db
}

// RecordRun inserts a sync run and its table results in a single transaction.
// Nil receiver is a no-op.
func (a *SQLiteAuditor) RecordRun(run SyncRun) error {
	if a == nil {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("audit: begin transaction: %w", err)
	}
	defer func() {
		// Rollback is a no-op if the transaction was already committed.
		_ = tx.Rollback()
	}()

	ts := run.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	result, err := tx.Exec(
		`INSERT INTO sync_runs (run_id, timestamp, config_path, table_count, outcome, reason, duration_ms, dry_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		ts.UTC().Format(timeLayout),
		run.ConfigPath,
		run.TableCount,
		run.Outcome,
		run.Reason,
		run.DurationMs,
		boolToInt(run.DryRun),
	)
	if err != nil {
		return fmt.Errorf("audit: insert sync_run: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("audit: get last insert id: %w", err)
	}

	for _, t := range run.Tables {
		_, err := tx.Exec(
			`INSERT INTO table_results (run_id, entry_index, table_ref, source, outcome, stage, changed_columns, table_description_changed, duration_ms, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID,
			t.EntryIndex,
			t.TableRef,
			t.Source,
			t.Outcome,
			t.Stage,
			t.ChangedColumns,
			boolToInt(t.TableDescriptionChanged),
			t.DurationMs,
			TruncateError(t.Error, maxErrorLen),
		)
		if err != nil {
			return fmt.Errorf("audit: insert table_result for %q: %w", t.TableRef, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit transaction: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
// Nil receiver is a no-op.
func (a *SQLiteAuditor) Close() error {
	if a == nil {
		return nil
	}
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("audit: close database: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
