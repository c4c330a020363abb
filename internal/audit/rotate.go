package audit

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Archive layout. Every archive is a zip holding:
//
//	manifest.json                      Manifest
//	runs.json                          []SyncRun without Tables
//	tables/<project.dataset.table>.json []TableResult for that table, newest first
//
// Per-table entries let table history be read back without decoding every run.
const (
	manifestEntry = "manifest.json"
	runsEntry     = "runs.json"
	tablesDir     = "tables/"

	rotateEvery = time.Hour
)

// RotationConfig controls archiving of old sync runs.
type RotationConfig struct {
	Retention  time.Duration // runs older than this are archived
	ArchiveDir string
	Now        func() time.Time // nil means time.Now
}

func (c RotationConfig) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// Manifest summarizes one archive.
type Manifest struct {
	CreatedAt time.Time `json:"created_at"`
	Cutoff    time.Time `json:"cutoff"`
	Runs      int       `json:"runs"`
	Tables    []string  `json:"tables"`
}

// ArchiveInfo describes a single archive file.
type ArchiveInfo struct {
	Path     string
	Name     string
	Size     int64
	ModTime  time.Time
	Manifest Manifest
}

// Rotation is one row of the rotations table. Archive is empty when there
// was nothing old enough to archive.
type Rotation struct {
	ID        int64
	Timestamp time.Time
	Cutoff    time.Time
	Archive   string
	Runs      int
}

// MaybeRotate calls Rotate unless a rotation was recorded in the last hour.
// Errors are logged, never returned, so rotation cannot change a sync result.
func MaybeRotate(db *sql.DB, cfg RotationConfig, logger *slog.Logger) {
	if db == nil || cfg.Retention <= 0 {
		return
	}

	last, err := LastRotation(db)
	if err != nil {
		logger.Warn("rotation: read last rotation", "err", err)
		return
	}
	if last != nil && cfg.now().Sub(last.Timestamp) < rotateEvery {
		logger.Debug("rotation throttled", "last", last.Timestamp)
		return
	}

	rot, err := Rotate(db, cfg)
	if err != nil {
		logger.Warn("rotation failed", "err", err)
		return
	}
	if rot.Runs == 0 {
		logger.Debug("rotation: no runs to archive", "cutoff", rot.Cutoff)
		return
	}
	logger.Info("rotation complete", "archived", rot.Runs, "archive", rot.Archive)
}

// Rotate moves runs older than cfg.Retention into a new archive in
// cfg.ArchiveDir and records the rotation. The archive is fully written
// before any row is deleted.
func Rotate(db *sql.DB, cfg RotationConfig) (Rotation, error) {
	if db == nil {
		return Rotation{}, fmt.Errorf("audit: Rotate called with nil db")
	}

	now := cfg.now()
	rot := Rotation{Timestamp: now, Cutoff: now.Add(-cfg.Retention)}

	runs, err := runsBefore(db, rot.Cutoff)
	if err != nil {
		return Rotation{}, err
	}

	if len(runs) > 0 {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			return Rotation{}, fmt.Errorf("audit: create archive dir: %w", err)
		}
		name := fmt.Sprintf("runs-before-%s.zip", rot.Cutoff.Format("20060102T150405Z"))
		rot.Archive = filepath.Join(cfg.ArchiveDir, name)
		manifest := Manifest{CreatedAt: now, Cutoff: rot.Cutoff, Runs: len(runs)}
		if err := writeArchive(rot.Archive, manifest, runs); err != nil {
			return Rotation{}, err
		}
		if _, err := PruneBefore(db, rot.Cutoff); err != nil {
			return Rotation{}, fmt.Errorf("audit: prune after archiving to %s: %w", rot.Archive, err)
		}
		rot.Runs = len(runs)
	}

	res, err := db.Exec(
		"INSERT INTO rotations (timestamp, cutoff, archive, runs) VALUES (?, ?, ?, ?)",
		rot.Timestamp.Format(timeLayout), rot.Cutoff.Format(timeLayout), rot.Archive, rot.Runs,
	)
	if err != nil {
		return Rotation{}, fmt.Errorf("audit: record rotation: %w", err)
	}
	rot.ID, _ = res.LastInsertId()
	return rot, nil
}

// LastRotation returns the most recent rotation, or nil if none was recorded.
func LastRotation(db *sql.DB) (*Rotation, error) {
	var r Rotation
	var ts, cutoff string
	err := db.QueryRow(
		"SELECT id, timestamp, cutoff, archive, runs FROM rotations ORDER BY id DESC LIMIT 1",
	).Scan(&r.ID, &ts, &cutoff, &r.Archive, &r.Runs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: last rotation: %w", err)
	}
	if r.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
		return nil, fmt.Errorf("audit: parse rotation timestamp %q: %w", ts, err)
	}
	if r.Cutoff, err = time.Parse(timeLayout, cutoff); err != nil {
		return nil, fmt.Errorf("audit: parse rotation cutoff %q: %w", cutoff, err)
	}
	return &r, nil
}

// runsBefore loads runs recorded before cutoff with their table results,
// oldest first, in two queries.
func runsBefore(db *sql.DB, cutoff time.Time) ([]SyncRun, error) {
	cutoffStr := cutoff.UTC().Format(timeLayout)

	rows, err := db.Query(
		"SELECT "+runColumns+" FROM sync_runs WHERE timestamp < ? ORDER BY timestamp ASC, id ASC",
		cutoffStr,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query old runs: %w", err)
	}
	var runs []SyncRun
	index := make(map[int64]int)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("audit: scan old run: %w", err)
		}
		index[r.ID] = len(runs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("audit: iterate old runs: %w", err)
	}
	_ = rows.Close()
	if len(runs) == 0 {
		return nil, nil
	}

	trows, err := db.Query(
		"SELECT "+tableColumns+" FROM table_results WHERE run_id IN (SELECT id FROM sync_runs WHERE timestamp < ?) ORDER BY run_id, entry_index",
		cutoffStr,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query old table results: %w", err)
	}
	defer func() { _ = trows.Close() }()
	for trows.Next() {
		t, err := scanTableResult(trows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan old table result: %w", err)
		}
		i, ok := index[t.RunID]
		if !ok {
			continue
		}
		runs[i].Tables = append(runs[i].Tables, t)
	}
	if err := trows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate old table results: %w", err)
	}
	return runs, nil
}

// writeArchive writes manifest, runs and per-table history to path via a
// temp file and rename.
func writeArchive(path string, manifest Manifest, runs []SyncRun) (err error) {
	headers := make([]SyncRun, len(runs))
	byTable := make(map[string][]TableResult)
	for i, r := range runs {
		for _, t := range r.Tables {
			t.RunTimestamp = r.Timestamp
			byTable[t.TableRef] = append(byTable[t.TableRef], t)
		}
		r.Tables = nil
		headers[i] = r
	}
	for ref, hist := range byTable {
		manifest.Tables = append(manifest.Tables, ref)
		slices.Reverse(hist) // runs are oldest first
		byTable[ref] = hist
	}
	slices.Sort(manifest.Tables)

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("audit: create archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(f)
	put := func(name string, v any) error {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("audit: archive entry %s: %w", name, err)
		}
		if err := json.NewEncoder(w).Encode(v); err != nil {
			return fmt.Errorf("audit: encode %s: %w", name, err)
		}
		return nil
	}

	if err := put(manifestEntry, manifest); err != nil {
		return err
	}
	if err := put(runsEntry, headers); err != nil {
		return err
	}
	for _, ref := range manifest.Tables {
		if err := put(tablesDir+ref+".json", byTable[ref]); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("audit: close archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audit: close archive file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("audit: rename archive: %w", err)
	}
	return nil
}

// ReadArchive decodes an archive back into runs with their table results,
// oldest first.
func ReadArchive(path string) (Manifest, []SyncRun, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("audit: open archive %s: %w", path, err)
	}
	defer func() { _ = zr.Close() }()

	var manifest Manifest
	if err := readEntry(&zr.Reader, manifestEntry, &manifest); err != nil {
		return Manifest{}, nil, err
	}
	var runs []SyncRun
	if err := readEntry(&zr.Reader, runsEntry, &runs); err != nil {
		return Manifest{}, nil, err
	}

	index := make(map[int64]int, len(runs))
	for i, r := range runs {
		index[r.ID] = i
	}
	for _, ref := range manifest.Tables {
		var hist []TableResult
		if err := readEntry(&zr.Reader, tablesDir+ref+".json", &hist); err != nil {
			return Manifest{}, nil, err
		}
		for _, t := range hist {
			i, ok := index[t.RunID]
			if !ok {
				continue
			}
			t.RunTimestamp = time.Time{}
			runs[i].Tables = append(runs[i].Tables, t)
		}
	}
	for i := range runs {
		slices.SortFunc(runs[i].Tables, func(a, b TableResult) int { return a.EntryIndex - b.EntryIndex })
	}
	return manifest, runs, nil
}

// ArchivedTableHistory returns one table's results from every archive in
// archiveDir, newest first.
func ArchivedTableHistory(archiveDir, tableRef string) ([]TableResult, error) {
	archives, err := ListArchives(archiveDir)
	if err != nil {
		return nil, err
	}

	var out []TableResult
	for _, a := range archives {
		if !slices.Contains(a.Manifest.Tables, tableRef) {
			continue
		}
		zr, err := zip.OpenReader(a.Path)
		if err != nil {
			return nil, fmt.Errorf("audit: open archive %s: %w", a.Path, err)
		}
		var hist []TableResult
		err = readEntry(&zr.Reader, tablesDir+tableRef+".json", &hist)
		_ = zr.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, hist...)
	}
	slices.SortStableFunc(out, func(a, b TableResult) int { return b.RunTimestamp.Compare(a.RunTimestamp) })
	return out, nil
}

func readEntry(zr *zip.Reader, name string, v any) error {
	rc, err := zr.Open(name)
	if err != nil {
		return fmt.Errorf("audit: archive entry %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("audit: decode %s: %w", name, err)
	}
	return nil
}

// ListArchives returns the archives in archiveDir, newest cutoff first.
// A missing directory yields no archives. Zip files without a readable
// manifest are listed with a zero Manifest.
func ListArchives(archiveDir string) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(archiveDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read archive dir: %w", err)
	}

	var archives []ArchiveInfo
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".zip") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		a := ArchiveInfo{
			Path:    filepath.Join(archiveDir, de.Name()),
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if zr, err := zip.OpenReader(a.Path); err == nil {
			_ = readEntry(&zr.Reader, manifestEntry, &a.Manifest)
			_ = zr.Close()
		}
		archives = append(archives, a)
	}

	slices.SortFunc(archives, func(a, b ArchiveInfo) int {
		if c := b.Manifest.Cutoff.Compare(a.Manifest.Cutoff); c != 0 {
			return c
		}
		return b.ModTime.Compare(a.ModTime)
	})
	return archives, nil
}
