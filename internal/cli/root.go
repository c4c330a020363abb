package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Fuabioo/schemadoc/internal/audit"
	"github.com/Fuabioo/schemadoc/internal/blob"
	"github.com/Fuabioo/schemadoc/internal/catalog"
	"github.com/Fuabioo/schemadoc/internal/config"
	"github.com/Fuabioo/schemadoc/internal/pipeline"
	"github.com/Fuabioo/schemadoc/internal/runner"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// backends are the remote collaborators of a sync run.
type backends struct {
	catalog catalog.Catalog
	blobs   blob.Fetcher
	close   func()
}

// openBackends builds the catalog and blob clients for cfg. Tests replace it.
var openBackends = defaultBackends

func defaultBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (backends, error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close client", "err", err)
			}
		}
	}

	router := blob.Router{}
	for _, scheme := range cfg.Schemes() {
		switch scheme {
		case blob.SchemeGCS:
			gcs, err := blob.NewGCS(ctx)
			if err != nil {
				closeAll()
				return backends{}, err
			}
			closers = append(closers, gcs.Close)
			router[scheme] = gcs
		case blob.SchemeS3:
			s3, err := blob.NewS3(ctx, cfg.AWSRegion)
			if err != nil {
				closeAll()
				return backends{}, err
			}
			router[scheme] = s3
		case blob.SchemeFile:
			router[scheme] = blob.File{}
		}
	}

	bq, err := catalog.NewBigQuery(ctx, cfg.BillingProject)
	if err != nil {
		closeAll()
		return backends{}, err
	}
	closers = append(closers, bq.Close)

	return backends{catalog: bq, blobs: router, close: closeAll}, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose || os.Getenv("SCHEMADOC_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "schemadoc",
		Short:         "Sync column descriptions from JSON documents into catalog schemas",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, false)
		},
	}

	root.PersistentFlags().String("config", "", "path to config file (default: auto-detected)")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")
	root.Flags().Int("workers", 0, "number of tables synced at once (overrides config)")
	root.Flags().Bool("dry-run", false, "compute changes without writing them")

	root.AddCommand(newPlanCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newAuditCmd())

	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	loadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "schemadoc: %v\n", err)
		return 1
	}
	return 0
}

// loadDotEnv loads path into the environment when it exists. Variables
// already set win.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "schemadoc: load %s: %v\n", path, err)
	}
}

// loadConfig reads the config named by --config, or the auto-detected one.
// A .env beside the config file is loaded too.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid --config: %w", err)
	}
	var cfg config.Config
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Path != "" {
		loadDotEnv(filepath.Join(filepath.Dir(cfg.Path), ".env"))
	}
	return cfg, nil
}

func configError(w io.Writer, err error) error {
	fmt.Fprintf(w, "schemadoc: config error: %v\n", err)
	return &exitError{code: 2}
}

// runSync loads the config, runs the pipeline and prints one line per table.
// plan forces a dry run and prints per-column changes.
func runSync(cmd *cobra.Command, plan bool) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)
	stderr := cmd.ErrOrStderr()
	stdout := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return configError(stderr, err)
	}
	if cfg.Path == "" {
		return configError(stderr, errors.New("no config file found"))
	}
	if f := cmd.Flags().Lookup("workers"); f != nil && f.Changed {
		cfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if f := cmd.Flags().Lookup("dry-run"); f != nil && f.Changed {
		cfg.DryRun, _ = cmd.Flags().GetBool("dry-run")
	}
	if plan {
		cfg.DryRun = true
	}
	if issues := cfg.Validate(); len(issues) > 0 {
		for _, is := range issues {
			fmt.Fprintf(stderr, "schemadoc: config error: %s\n", is)
		}
		return &exitError{code: 2}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	be, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer be.close()

	auditor, closeAudit := openAuditor(cfg, logger)
	defer closeAudit()

	r := runner.TableRunner{
		Blobs:   be.blobs,
		Catalog: be.catalog,
		TempDir: cfg.EffectiveTempDir(),
		Timeout: cfg.EffectiveTimeout(),
		DryRun:  cfg.DryRun,
		Logger:  logger,
	}
	opts := pipeline.Options{
		Workers:    cfg.EffectiveWorkers(),
		DryRun:     cfg.DryRun,
		ConfigPath: cfg.Path,
	}
	sum := pipeline.Run(ctx, cfg.Tables, r, opts, auditor, logger)

	for _, res := range sum.Results {
		printResult(stdout, res, plan)
	}
	printSummary(stdout, sum)

	if code := sum.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// openAuditor opens the audit DB when enabled and runs retention. Audit is
// fail-open: errors are logged and the sync continues without it.
func openAuditor(cfg config.Config, logger *slog.Logger) (audit.Auditor, func()) {
	noop := func() {}
	if !cfg.AuditEnabled() || os.Getenv("SCHEMADOC_AUDIT") == "0" {
		return nil, noop
	}

	dbPath := audit.DefaultDBPath()
	if cfg.Audit != nil && cfg.Audit.DBPath != "" {
		dbPath = cfg.Audit.DBPath
	}
	a, err := audit.Open(dbPath)
	if err != nil {
		logger.Warn("failed to open audit db, continuing without audit", "err", err)
		return nil, noop
	}

	if cfg.Audit != nil && cfg.Audit.Retention != "" {
		retention, err := parseDuration(cfg.Audit.Retention)
		if err != nil {
			logger.Warn("invalid audit retention, skipping rotation", "retention", cfg.Audit.Retention, "err", err)
		} else {
			audit.MaybeRotate(a.DB(), audit.RotationConfig{
				Retention:  retention,
				ArchiveDir: archiveDir(dbPath),
			}, logger)
		}
	}

	return a, func() {
		if err := a.Close(); err != nil {
			logger.Warn("close audit db", "err", err)
		}
	}
}

func printResult(w io.Writer, res runner.Result, plan bool) {
	ref := res.Entry.Ref()
	switch res.Outcome {
	case runner.OutcomeUpdated:
		if res.DryRun {
			fmt.Fprintf(w, "Would update descriptions for table %s (%d column(s))\n", ref, len(res.Changes))
		} else {
			fmt.Fprintf(w, "Updated descriptions for table %s\n", ref)
		}
		if plan {
			if res.TableDescriptionChanged {
				fmt.Fprintf(w, "  (table): %q\n", res.TableDescription)
			}
			for _, c := range res.Changes {
				fmt.Fprintf(w, "  %s: %q -> %q\n", c.Path, c.Before, c.After)
			}
		}
	case runner.OutcomeUnchanged:
		fmt.Fprintf(w, "Descriptions for table %s already up to date\n", ref)
	case runner.OutcomeSkipped:
		if res.Stage == runner.StageFetch {
			fmt.Fprintf(w, "Document %s for table %s not found. Skipping.\n", res.Entry.EffectiveSource(), ref)
		} else {
			fmt.Fprintf(w, "Table %s not found. Skipping.\n", ref)
		}
	default:
		fmt.Fprintf(w, "Failed to update table %s: %v\n", ref, res.Err)
	}
}

func printSummary(w io.Writer, sum pipeline.Summary) {
	c := sum.Counts()
	fmt.Fprintf(w, "\n%d table(s): %d updated, %d unchanged, %d skipped, %d failed (%s)\n",
		len(sum.Results),
		c[runner.OutcomeUpdated],
		c[runner.OutcomeUnchanged],
		c[runner.OutcomeSkipped],
		c[runner.OutcomeFailed],
		sum.Duration.Round(time.Millisecond),
	)
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the description changes a sync would make",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, true)
		},
	}
	cmd.Flags().Int("workers", 0, "number of tables checked at once (overrides config)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "schemadoc %s (%s)\n", Version, Commit)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "schemadoc: config error: %v\n", err)
		return &exitError{code: 1}
	}

	if cfg.Path == "" {
		fmt.Fprintln(out, "No config file found.")
		return nil
	}
	fmt.Fprintf(out, "Config: %s\n", cfg.Path)
	fmt.Fprintf(out, "Workers: %d  Timeout: %s  Temp dir: %s  Dry run: %v\n",
		cfg.EffectiveWorkers(), cfg.EffectiveTimeout(), cfg.EffectiveTempDir(), cfg.DryRun)

	if len(cfg.Tables) == 0 {
		fmt.Fprintln(out, "No tables configured.")
	}
	for i, e := range cfg.Tables {
		fmt.Fprintf(out, "Table %d: %s <- %s\n", i+1, e.Ref(), e.EffectiveSource())
	}

	issues := cfg.Validate()
	if len(issues) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nIssues:")
	for _, is := range issues {
		fmt.Fprintf(out, "  %s\n", is)
	}
	return &exitError{code: 1}
}
