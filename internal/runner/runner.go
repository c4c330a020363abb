package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Fuabioo/schemadoc/internal/blob"
	"github.com/Fuabioo/schemadoc/internal/catalog"
	"github.com/Fuabioo/schemadoc/internal/config"
	"github.com/Fuabioo/schemadoc/internal/schema"
)

// Outcome is the final state of one table entry.
type Outcome string

const (
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Stage names the step an entry stopped at.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageParse  Stage = "parse"
	StageGet    Stage = "get"
	StageUpdate Stage = "update"
)

// Result holds the outcome of syncing one table entry. Err is set for
// skipped and failed entries.
type Result struct {
	Entry                   config.TableEntry
	Outcome                 Outcome
	Stage                   Stage
	Err                     error
	Changes                 []schema.Change
	TableDescriptionChanged bool
	TableDescription        string // description after the merge
	DryRun                  bool
	Duration                time.Duration
}

// Runner syncs a single table entry.
type Runner interface {
	Run(ctx context.Context, entry config.TableEntry) Result
}

// TableRunner downloads an entry's update document to a temp file, merges
// it into the catalog schema and writes the result back.
type TableRunner struct {
	Blobs   blob.Fetcher
	Catalog catalog.Catalog
	TempDir string        // "" uses the OS default
	Timeout time.Duration // 0 means no per-entry timeout
	DryRun  bool
	Logger  *slog.Logger
}

// Run implements Runner. It never panics on bad input and always releases
// the temp file before returning.
func (tr TableRunner) Run(ctx context.Context, entry config.TableEntry) Result {
	start := time.Now()
	res := tr.run(ctx, entry)
	res.Entry = entry
	res.DryRun = tr.DryRun
	res.Duration = time.Since(start)
	return res
}

func (tr TableRunner) run(ctx context.Context, entry config.TableEntry) Result {
	logger := tr.logger().With("table", entry.Ref().String())

	if tr.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tr.Timeout)
		defer cancel()
	}

	loc, err := blob.ParseLocation(entry.EffectiveSource())
	if err != nil {
		return failed(StageFetch, err)
	}

	spec, err := tr.download(ctx, loc, logger)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return skipped(StageFetch, err)
		}
		if errors.Is(err, schema.ErrInvalidDocument) {
			return failed(StageParse, err)
		}
		return failed(StageFetch, err)
	}

	tbl, err := tr.Catalog.GetTable(ctx, entry.Ref())
	if err != nil {
		if errors.Is(err, catalog.ErrTableNotFound) {
			return skipped(StageGet, err)
		}
		return failed(StageGet, err)
	}

	merged := schema.Merge(tbl.Fields, spec.Fields)
	desc := schema.TableDescription(tbl.Description, spec)

	res := Result{
		Changes:                 schema.Diff(tbl.Fields, merged),
		TableDescriptionChanged: desc != tbl.Description,
		TableDescription:        desc,
	}
	if len(res.Changes) == 0 && !res.TableDescriptionChanged {
		logger.Debug("descriptions already up to date")
		res.Outcome = OutcomeUnchanged
		return res
	}

	if tr.DryRun {
		logger.Debug("dry run, not writing", "changes", len(res.Changes))
		res.Outcome = OutcomeUpdated
		return res
	}

	err = tr.Catalog.UpdateTable(ctx, catalog.Table{
		Ref:         tbl.Ref,
		Description: desc,
		Fields:      merged,
		ETag:        tbl.ETag,
	})
	if err != nil {
		res.Stage = StageUpdate
		res.Err = err
		res.Outcome = OutcomeFailed
		if errors.Is(err, catalog.ErrTableNotFound) {
			res.Outcome = OutcomeSkipped
		}
		return res
	}

	logger.Debug("updated descriptions", "changes", len(res.Changes), "table_description", res.TableDescriptionChanged)
	res.Outcome = OutcomeUpdated
	return res
}

// download fetches loc into a temp file and decodes it. The temp file is
// removed on every return path.
func (tr TableRunner) download(ctx context.Context, loc blob.Location, logger *slog.Logger) (schema.UpdateSpec, error) {
	tmp, err := os.CreateTemp(tr.TempDir, "schemadoc-*.json")
	if err != nil {
		return schema.UpdateSpec{}, fmt.Errorf("runner: create temp file: %w", err)
	}
	defer func() {
		if err := tmp.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Warn("close temp file", "path", tmp.Name(), "err", err)
		}
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove temp file", "path", tmp.Name(), "err", err)
		}
	}()

	logger.Debug("fetching document", "source", loc.String(), "tmp", tmp.Name())
	if err := tr.Blobs.Fetch(ctx, loc, tmp); err != nil {
		return schema.UpdateSpec{}, err
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return schema.UpdateSpec{}, fmt.Errorf("runner: rewind temp file: %w", err)
	}
	spec, err := schema.DecodeUpdateSpec(tmp)
	if err != nil {
		return schema.UpdateSpec{}, fmt.Errorf("runner: %s: %w", loc, err)
	}
	return spec, nil
}

func (tr TableRunner) logger() *slog.Logger {
	if tr.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return tr.Logger
}

func skipped(stage Stage, err error) Result {
	return Result{Outcome: OutcomeSkipped, Stage: stage, Err: err}
}

func failed(stage Stage, err error) Result {
	return Result{Outcome: OutcomeFailed, Stage: stage, Err: err}
}
