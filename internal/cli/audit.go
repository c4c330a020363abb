package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Fuabioo/schemadoc/internal/audit"
	_ "modernc.org/sqlite"
)

// resolveDBPath returns the audit database path from the --db flag or the default.
func resolveDBPath(cmd *cobra.Command) string {
	dbPath, err := cmd.Flags().GetString("db")
	if err != nil || dbPath == "" {
		dbPath = audit.DefaultDBPath()
	}
	return dbPath
}

// openAuditDBReadOnly opens an existing audit DB for read-only queries.
// Returns a clear error if the DB doesn't exist.
func openAuditDBReadOnly(cmd *cobra.Command) (*sql.DB, error) {
	dbPath := resolveDBPath(cmd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("audit database not found at %s (is auditing enabled?)", dbPath)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db %q: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on audit db %q: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect audit db %q: %w", dbPath, err)
	}
	return db, nil
}

// openAuditDBWrite opens (or creates) the audit DB for write operations.
// It returns the underlying *sql.DB, a cleanup function, and any error.
func openAuditDBWrite(cmd *cobra.Command) (*sql.DB, func(), error) {
	dbPath := resolveDBPath(cmd)
	a, err := audit.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return a.DB(), func() { _ = a.Close() }, nil
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the sync audit log",
	}
	cmd.PersistentFlags().String("db", "", "path to audit database (default: auto-detected)")
	cmd.AddCommand(
		newAuditListCmd(),
		newAuditShowCmd(),
		newAuditTailCmd(),
		newAuditTableCmd(),
		newAuditPruneCmd(),
		newAuditStatsCmd(),
		newAuditDBPathCmd(),
		newAuditArchivesCmd(),
	)
	return cmd
}

func newAuditListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync runs",
		Args:  cobra.NoArgs,
		RunE:  runAuditList,
	}
	cmd.Flags().Int("limit", 20, "maximum number of entries")
	cmd.Flags().Int("offset", 0, "skip N entries")
	cmd.Flags().String("outcome", "", "filter by outcome (ok, partial, failed)")
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditList(cmd *cobra.Command, _ []string) error {
	db, err := openAuditDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("invalid --limit: %w", err)
	}
	offset, err := cmd.Flags().GetInt("offset")
	if err != nil {
		return fmt.Errorf("invalid --offset: %w", err)
	}
	outcome, err := cmd.Flags().GetString("outcome")
	if err != nil {
		return fmt.Errorf("invalid --outcome: %w", err)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	runs, err := audit.ListRuns(db, limit, offset, outcome)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if asJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	printRunTable(cmd.OutOrStdout(), cmd.ErrOrStderr(), runs, resolveDBPath(cmd))
	return nil
}

func newAuditShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show details of a sync run",
		Args:  cobra.ExactArgs(1),
		RunE:  runAuditShow,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	db, err := openAuditDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", args[0], err)
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	run, err := audit.GetRun(db, id)
	if err != nil {
		return fmt.Errorf("get run %d: %w", id, err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, run)
	}

	fmt.Fprintf(out, "Run #%d\n", run.ID)
	fmt.Fprintf(out, "  Run ID:     %s\n", run.RunID)
	fmt.Fprintf(out, "  Timestamp:  %s (%s)\n", run.Timestamp.Format(time.RFC3339), humanize.Time(run.Timestamp))
	fmt.Fprintf(out, "  Config:     %s\n", run.ConfigPath)
	fmt.Fprintf(out, "  Tables:     %d\n", run.TableCount)
	fmt.Fprintf(out, "  Outcome:    %s\n", run.Outcome)
	if run.Reason != "" {
		fmt.Fprintf(out, "  Reason:     %s\n", run.Reason)
	}
	fmt.Fprintf(out, "  Duration:   %dms\n", run.DurationMs)
	fmt.Fprintf(out, "  Dry run:    %v\n", run.DryRun)

	if len(run.Tables) > 0 {
		fmt.Fprintf(out, "\n  Table Results:\n")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  IDX\tTABLE\tOUTCOME\tSTAGE\tCOLUMNS\tDURATION\tERROR")
		for _, t := range run.Tables {
			_, _ = fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%d\t%dms\t%s\n",
				t.EntryIndex, t.TableRef, t.Outcome, t.Stage, t.ChangedColumns, t.DurationMs, shorten(t.Error, 60))
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush tabwriter: %w", err)
		}
	}

	return nil
}

func newAuditTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show last N sync runs",
		Args:  cobra.NoArgs,
		RunE:  runAuditTail,
	}
	cmd.Flags().Int("n", 10, "number of entries")
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditTail(cmd *cobra.Command, _ []string) error {
	db, err := openAuditDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n, err := cmd.Flags().GetInt("n")
	if err != nil {
		return fmt.Errorf("invalid --n: %w", err)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	runs, err := audit.Tail(db, n)
	if err != nil {
		return fmt.Errorf("tail: %w", err)
	}

	if asJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	printRunTable(cmd.OutOrStdout(), cmd.ErrOrStderr(), runs, resolveDBPath(cmd))
	return nil
}

func newAuditTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table <project.dataset.table>",
		Short: "Show the sync history of one table",
		Args:  cobra.ExactArgs(1),
		RunE:  runAuditTable,
	}
	cmd.Flags().Int("limit", 20, "maximum number of entries")
	cmd.Flags().Bool("archived", false, "include runs moved to archives")
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditTable(cmd *cobra.Command, args []string) error {
	db, err := openAuditDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("invalid --limit: %w", err)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	archived, err := cmd.Flags().GetBool("archived")
	if err != nil {
		return fmt.Errorf("invalid --archived: %w", err)
	}

	history, err := audit.TableHistory(db, args[0], limit)
	if err != nil {
		return fmt.Errorf("table history: %w", err)
	}
	if archived && (limit <= 0 || len(history) < limit) {
		older, err := audit.ArchivedTableHistory(archiveDir(resolveDBPath(cmd)), args[0])
		if err != nil {
			return fmt.Errorf("archived table history: %w", err)
		}
		history = append(history, older...)
		if limit > 0 && len(history) > limit {
			history = history[:limit]
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, history)
	}
	if len(history) == 0 {
		fmt.Fprintf(out, "No history for table %s.\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tTIMESTAMP\tOUTCOME\tSTAGE\tCOLUMNS\tTABLE DESC\tERROR")
	for _, t := range history {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%v\t%s\n",
			t.RunID,
			t.RunTimestamp.Format(time.RFC3339),
			t.Outcome,
			t.Stage,
			t.ChangedColumns,
			t.TableDescriptionChanged,
			shorten(t.Error, 60),
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush tabwriter: %w", err)
	}
	return nil
}

func newAuditPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old audit entries",
		Args:  cobra.NoArgs,
		RunE:  runAuditPrune,
	}
	cmd.Flags().String("older-than", "", "delete entries older than duration (e.g., 7d, 24h, 30d)")
	if err := cmd.MarkFlagRequired("older-than"); err != nil {
		panic(fmt.Sprintf("mark --older-than required: %v", err))
	}
	return cmd
}

func runAuditPrune(cmd *cobra.Command, _ []string) error {
	db, cleanup, err := openAuditDBWrite(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	olderThanStr, err := cmd.Flags().GetString("older-than")
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}

	dur, err := parseDuration(olderThanStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", olderThanStr, err)
	}

	count, err := audit.Prune(db, dur)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d sync run(s).\n", count)
	return nil
}

func newAuditStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit statistics",
		Args:  cobra.NoArgs,
		RunE:  runAuditStats,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditStats(cmd *cobra.Command, _ []string) error {
	db, err := openAuditDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	stats, err := audit.Stats(db)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, stats)
	}

	fmt.Fprintf(out, "Total runs:     %s\n", humanize.Comma(stats.TotalRuns))
	fmt.Fprintf(out, "Avg duration:   %.1fms\n", stats.AvgDurationMs)

	if stats.TotalRuns > 0 {
		fmt.Fprintf(out, "Oldest entry:   %s (%s)\n", stats.OldestEntry.Format(time.RFC3339), humanize.Time(stats.OldestEntry))
		fmt.Fprintf(out, "Newest entry:   %s (%s)\n", stats.NewestEntry.Format(time.RFC3339), humanize.Time(stats.NewestEntry))
	}

	printCounts(out, "By outcome", stats.CountByOutcome)
	printCounts(out, "Tables by result", stats.TablesByResult)

	return nil
}

func printCounts(w io.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-10s %s\n", k, humanize.Comma(counts[k]))
	}
}

func newAuditDBPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-path",
		Short: "Print the audit database path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveDBPath(cmd))
		},
	}
}

func newAuditArchivesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List audit archive files",
		Args:  cobra.NoArgs,
		RunE:  runAuditArchives,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditArchives(cmd *cobra.Command, _ []string) error {
	dir := archiveDir(resolveDBPath(cmd))

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	archives, err := audit.ListArchives(dir)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(archives) == 0 {
		fmt.Fprintln(out, "No archives found.")
		return nil
	}

	if asJSON {
		return printJSON(out, archives)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSIZE\tRUNS\tTABLES\tBEFORE")
	for _, a := range archives {
		before := "-"
		if !a.Manifest.Cutoff.IsZero() {
			before = a.Manifest.Cutoff.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			a.Name,
			humanize.Bytes(uint64(max(a.Size, 0))),
			a.Manifest.Runs,
			len(a.Manifest.Tables),
			before,
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush tabwriter: %w", err)
	}
	return nil
}

// archiveDir is where rotation writes archives for the database at dbPath.
func archiveDir(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "archives")
}

// printRunTable outputs sync runs in a tabwriter table. When any run failed
// with a reason, a hint for drilling into it is printed to stderr.
func printRunTable(out, errOut io.Writer, runs []audit.SyncRun, dbPath string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTIMESTAMP\tTABLES\tOUTCOME\tDRY RUN\tREASON\tDURATION")

	hasFailures := false
	for _, r := range runs {
		if r.Outcome != audit.OutcomeOK {
			hasFailures = true
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%v\t%s\t%dms\n",
			r.ID,
			r.Timestamp.Format(time.RFC3339),
			r.TableCount,
			r.Outcome,
			r.DryRun,
			shorten(r.Reason, 40),
			r.DurationMs,
		)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(errOut, "schemadoc: flush table: %v\n", err)
	}

	if hasFailures {
		fmt.Fprintf(errOut,
			"\nTip: to see which tables failed, run:\n  schemadoc audit show <id> --db %s\n",
			dbPath,
		)
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// printJSON marshals v as indented JSON and writes it to w.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseDuration parses a duration string supporting "Nd" (days) and "Nh" (hours) formats,
// in addition to Go's standard time.Duration formats.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid days %q: %w", numStr, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	if numStr, ok := strings.CutSuffix(s, "h"); ok {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			// "1h30m" and friends.
			return time.ParseDuration(s)
		}
		return time.Duration(n) * time.Hour, nil
	}

	return time.ParseDuration(s)
}
