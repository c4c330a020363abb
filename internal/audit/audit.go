package audit

import "time"

// Outcome constants for SyncRun.
const (
	OutcomeOK      = "ok"      // every table updated, unchanged or skipped
	OutcomePartial = "partial" // some tables failed
	OutcomeFailed  = "failed"  // every table failed
)

// TableOutcome constants for TableResult.
const (
	TableOutcomeUpdated   = "updated"
	TableOutcomeUnchanged = "unchanged"
	TableOutcomeSkipped   = "skipped"
	TableOutcomeFailed    = "failed"
)

// Auditor records sync run audit trails.
type Auditor interface {
	RecordRun(run SyncRun) error
	Close() error
}

// SyncRun represents one pipeline.Run invocation.
type SyncRun struct {
	ID         int64
	RunID      string
	Timestamp  time.Time
	ConfigPath string
	TableCount int
	Outcome    string // ok|partial|failed
	Reason     string
	DurationMs int64
	DryRun     bool
	Tables     []TableResult
}

// TableResult represents one table entry within a run.
type TableResult struct {
	ID                      int64
	RunID                   int64
	EntryIndex              int
	TableRef                string
	Source                  string
	Outcome                 string // updated|unchanged|skipped|failed
	Stage                   string // fetch|parse|get|update, empty on success
	ChangedColumns          int
	TableDescriptionChanged bool
	DurationMs              int64
	Error                   string // truncated to maxErrorLen bytes

	// RunTimestamp is only populated by TableHistory.
	RunTimestamp time.Time `json:",omitzero"`
}

// AuditStats holds aggregate statistics from the audit database.
type AuditStats struct {
	TotalRuns      int64
	CountByOutcome map[string]int64
	TablesByResult map[string]int64
	AvgDurationMs  float64
	OldestEntry    time.Time
	NewestEntry    time.Time
}

// TruncateError truncates s to max bytes, appending "..." if truncated.
func TruncateError(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
