package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Fuabioo/schemadoc/internal/audit"
	"github.com/Fuabioo/schemadoc/internal/config"
	"github.com/Fuabioo/schemadoc/internal/runner"
)

// maxErrorLen caps error text stored in the audit log.
const maxErrorLen = 512

// Options controls a batch run.
type Options struct {
	Workers    int    // <= 0 runs one entry at a time
	DryRun     bool   // recorded in the audit log only; the runner decides what to write
	ConfigPath string // recorded in the audit log
}

// Summary is the outcome of a batch run. Results are in config order.
type Summary struct {
	RunID    string
	Results  []runner.Result
	Duration time.Duration
}

// Counts returns the number of results per outcome.
func (s Summary) Counts() map[runner.Outcome]int {
	counts := make(map[runner.Outcome]int, 4)
	for _, r := range s.Results {
		counts[r.Outcome]++
	}
	return counts
}

// Outcome classifies the whole run: failed when every entry failed, partial
// when some did, ok otherwise. An empty run is ok.
func (s Summary) Outcome() string {
	failed := s.Counts()[runner.OutcomeFailed]
	switch {
	case failed == 0:
		return audit.OutcomeOK
	case failed == len(s.Results):
		return audit.OutcomeFailed
	default:
		return audit.OutcomePartial
	}
}

// ExitCode is 1 when any entry failed, else 0.
func (s Summary) ExitCode() int {
	if s.Counts()[runner.OutcomeFailed] > 0 {
		return 1
	}
	return 0
}

// Run syncs every entry with r, at most opts.Workers at a time. A failing
// entry never stops the batch. The run is recorded to auditor when it is
// non-nil; audit errors are logged and otherwise ignored.
func Run(ctx context.Context, entries []config.TableEntry, r runner.Runner, opts Options, auditor audit.Auditor, logger *slog.Logger) Summary {
	start := time.Now()
	sum := Summary{
		RunID:   uuid.NewString(),
		Results: make([]runner.Result, len(entries)),
	}
	logger = logger.With("run_id", sum.RunID)

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	logger.Debug("starting sync", "tables", len(entries), "workers", workers)

	var g errgroup.Group
	g.SetLimit(workers)
	for i, entry := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				sum.Results[i] = runner.Result{
					Entry:   entry,
					Outcome: runner.OutcomeFailed,
					Stage:   runner.StageFetch,
					Err:     fmt.Errorf("pipeline: not started: %w", err),
				}
				return nil
			}
			res := runEntry(ctx, r, entry, logger)
			res.Entry = entry
			sum.Results[i] = res
			logResult(logger, i, res)
			return nil
		})
	}
	// Workers never return errors; every failure lives in its Result.
	_ = g.Wait()

	sum.Duration = time.Since(start)
	recordAudit(auditor, sum, opts, start, logger)
	return sum
}

// runEntry calls r.Run, turning a panic into a failed result.
func runEntry(ctx context.Context, r runner.Runner, entry config.TableEntry, logger *slog.Logger) (res runner.Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("table run panicked", "table", entry.Ref().String(), "panic", p, "stack", string(debug.Stack()))
			res = runner.Result{
				Entry:    entry,
				Outcome:  runner.OutcomeFailed,
				Err:      fmt.Errorf("pipeline: panic: %v", p),
				Duration: time.Since(start),
			}
		}
	}()
	return r.Run(ctx, entry)
}

func logResult(logger *slog.Logger, index int, res runner.Result) {
	attrs := []any{
		"index", index,
		"table", res.Entry.Ref().String(),
		"outcome", string(res.Outcome),
		"duration", res.Duration,
	}
	switch res.Outcome {
	case runner.OutcomeFailed:
		logger.Warn("table failed", append(attrs, "stage", string(res.Stage), "err", res.Err)...)
	case runner.OutcomeSkipped:
		logger.Info("table skipped", append(attrs, "stage", string(res.Stage), "err", res.Err)...)
	default:
		logger.Debug("table done", append(attrs, "changes", len(res.Changes))...)
	}
}

// recordAudit writes the run to the auditor. It is fail-open.
func recordAudit(auditor audit.Auditor, sum Summary, opts Options, start time.Time, logger *slog.Logger) {
	if auditor == nil {
		return
	}

	tables := make([]audit.TableResult, 0, len(sum.Results))
	for i, res := range sum.Results {
		tr := audit.TableResult{
			EntryIndex:              i,
			TableRef:                res.Entry.Ref().String(),
			Source:                  res.Entry.EffectiveSource(),
			Outcome:                 string(res.Outcome),
			Stage:                   string(res.Stage),
			ChangedColumns:          len(res.Changes),
			TableDescriptionChanged: res.TableDescriptionChanged,
			DurationMs:              res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			tr.Error = audit.TruncateError(res.Err.Error(), maxErrorLen)
		}
		tables = append(tables, tr)
	}

	outcome := sum.Outcome()
	var reason string
	if outcome != audit.OutcomeOK {
		reason = fmt.Sprintf("%d of %d tables failed", sum.Counts()[runner.OutcomeFailed], len(sum.Results))
	}

	run := audit.SyncRun{
		RunID:      sum.RunID,
		Timestamp:  start,
		ConfigPath: opts.ConfigPath,
		TableCount: len(sum.Results),
		Outcome:    outcome,
		Reason:     reason,
		DurationMs: sum.Duration.Milliseconds(),
		DryRun:     opts.DryRun,
		Tables:     tables,
	}
	if err := auditor.RecordRun(run); err != nil {
		logger.Warn("failed to record audit entry", "err", err)
	}
}
