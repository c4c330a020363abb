package audit

import (
	"database/sql"
	"fmt"
	"time"
)

const runColumns = "id, run_id, timestamp, config_path, table_count, outcome, reason, duration_ms, dry_run"

const tableColumns = "id, run_id, entry_index, table_ref, source, outcome, stage, changed_columns, table_description_changed, duration_ms, error"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (SyncRun, error) {
	var r SyncRun
	var tsStr string
	var dryRun int
	if err := s.Scan(&r.ID, &r.RunID, &tsStr, &r.ConfigPath, &r.TableCount, &r.Outcome, &r.Reason, &r.DurationMs, &dryRun); err != nil {
		return SyncRun{}, err
	}
	ts, err := time.Parse(timeLayout, tsStr)
	if err != nil {
		return SyncRun{}, fmt.Errorf("parse timestamp %q: %w", tsStr, err)
	}
	r.Timestamp = ts
	r.DryRun = dryRun != 0
	return r, nil
}

func scanTableResult(s scanner, extra ...any) (TableResult, error) {
	var t TableResult
	var descChanged int
	dest := []any{&t.ID, &t.RunID, &t.EntryIndex, &t.TableRef, &t.Source, &t.Outcome, &t.Stage, &t.ChangedColumns, &descChanged, &t.DurationMs, &t.Error}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return TableResult{}, err
	}
	t.TableDescriptionChanged = descChanged != 0
	return t, nil
}

// ListRuns returns sync runs with optional filtering by outcome.
// Results are ordered by timestamp descending (newest first).
func ListRuns(db *sql.DB, limit, offset int, filterOutcome string) ([]SyncRun, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: ListRuns called with nil db")
	}

	query := "SELECT " + runColumns + " FROM sync_runs WHERE 1=1"
	var args []any

	if filterOutcome != "" {
		query += " AND outcome = ?"
		args = append(args, filterOutcome)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 {
		query += " LIMIT -1"
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate run rows: %w", err)
	}

	return runs, nil
}

// GetRun returns a single sync run by ID, including its table results.
func GetRun(db *sql.DB, id int64) (*SyncRun, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: GetRun called with nil db")
	}

	r, err := scanRun(db.QueryRow("SELECT "+runColumns+" FROM sync_runs WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("audit: get run %d: %w", id, err)
	}

	rows, err := db.Query(
		"SELECT "+tableColumns+" FROM table_results WHERE run_id = ? ORDER BY entry_index",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: get table results for run %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTableResult(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan table result: %w", err)
		}
		r.Tables = append(r.Tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate table results: %w", err)
	}

	return &r, nil
}

// Tail returns the last n sync runs ordered by timestamp descending (newest first).
func Tail(db *sql.DB, n int) ([]SyncRun, error) {
	return ListRuns(db, n, 0, "")
}

// TableHistory returns the most recent results for one table, newest first.
func TableHistory(db *sql.DB, tableRef string, limit int) ([]TableResult, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: TableHistory called with nil db")
	}

	query := `SELECT t.id, t.run_id, t.entry_index, t.table_ref, t.source, t.outcome, t.stage,
	                 t.changed_columns, t.table_description_changed, t.duration_ms, t.error, r.timestamp
	          FROM table_results t JOIN sync_runs r ON r.id = t.run_id
	          WHERE t.table_ref = ?
	          ORDER BY r.timestamp DESC, t.id DESC`
	args := []any{tableRef}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: table history %s: %w", tableRef, err)
	}
	defer rows.Close()

	var results []TableResult
	for rows.Next() {
		var tsStr string
		t, err := scanTableResult(rows, &tsStr)
		if err != nil {
			return nil, fmt.Errorf("audit: scan table history: %w", err)
		}
		ts, err := time.Parse(timeLayout, tsStr)
		if err != nil {
			return nil, fmt.Errorf("audit: parse timestamp %q: %w", tsStr, err)
		}
		t.RunTimestamp = ts
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate table history: %w", err)
	}

	return results, nil
}

// Prune deletes sync runs (and their table results) older than the given duration.
// Returns the number of sync runs deleted.
func Prune(db *sql.DB, olderThan time.Duration) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("audit: Prune called with nil db")
	}
	return PruneBefore(db, time.Now().UTC().Add(-olderThan))
}

// PruneBefore deletes sync runs (and their table results) recorded before cutoff.
func PruneBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("audit: PruneBefore called with nil db")
	}

	cutoffStr := cutoff.UTC().Format(timeLayout)

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("audit: begin prune transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Delete table results for old runs first (foreign key reference).
	_, err = tx.Exec(
		"DELETE FROM table_results WHERE run_id IN (SELECT id FROM sync_runs WHERE timestamp < ?)",
		cutoffStr,
	)
	if err != nil {
		return 0, fmt.Errorf("audit: prune table results: %w", err)
	}

	result, err := tx.Exec("DELETE FROM sync_runs WHERE timestamp < ?", cutoffStr)
	if err != nil {
		return 0, fmt.Errorf("audit: prune sync runs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit: prune rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("audit: commit prune: %w", err)
	}

	return count, nil
}

// Stats returns aggregate statistics from the audit database.
func Stats(db *sql.DB) (*AuditStats, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: Stats called with nil db")
	}

	stats := &AuditStats{
		CountByOutcome: make(map[string]int64),
		TablesByResult: make(map[string]int64),
	}

	// Total count and average duration.
	err := db.QueryRow("SELECT COALESCE(COUNT(*), 0), COALESCE(AVG(duration_ms), 0) FROM sync_runs").
		Scan(&stats.TotalRuns, &stats.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("audit: stats totals: %w", err)
	}

	if stats.TotalRuns == 0 {
		return stats, nil
	}

	// Oldest and newest entries.
	var oldestStr, newestStr string
	err = db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM sync_runs").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("audit: stats min/max timestamp: %w", err)
	}

	oldest, err := time.Parse(timeLayout, oldestStr)
	if err != nil {
		return nil, fmt.Errorf("audit: parse oldest timestamp %q: %w", oldestStr, err)
	}
	stats.OldestEntry = oldest

	newest, err := time.Parse(timeLayout, newestStr)
	if err != nil {
		return nil, fmt.Errorf("audit: parse newest timestamp %q: %w", newestStr, err)
	}
	stats.NewestEntry = newest

	if err := countInto(db, "SELECT outcome, COUNT(*) FROM sync_runs GROUP BY outcome", stats.CountByOutcome); err != nil {
		return nil, fmt.Errorf("audit: stats by outcome: %w", err)
	}
	if err := countInto(db, "SELECT outcome, COUNT(*) FROM table_results GROUP BY outcome", stats.TablesByResult); err != nil {
		return nil, fmt.Errorf("audit: stats by table outcome: %w", err)
	}

	return stats, nil
}

func countInto(db *sql.DB, query string, into map[string]int64) error {
	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}
