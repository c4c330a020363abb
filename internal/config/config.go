package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Fuabioo/schemadoc/internal/blob"
	"github.com/Fuabioo/schemadoc/internal/catalog"
	"github.com/Fuabioo/schemadoc/internal/pathutil"
)

const (
	defaultWorkers = 1
	defaultTimeout = 2 * time.Minute

	// localConfigName is looked up in the working directory.
	localConfigName = "table_configs.yaml"
)

// Config is the top-level schemadoc configuration.
type Config struct {
	Tables         []TableEntry  `yaml:"tables"`
	Workers        int           `yaml:"workers,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"` // per table
	TempDir        string        `yaml:"temp_dir,omitempty"`
	DryRun         bool          `yaml:"dry_run,omitempty"`
	BillingProject string        `yaml:"billing_project,omitempty"`
	AWSRegion      string        `yaml:"aws_region,omitempty"`
	Audit          *AuditConfig  `yaml:"audit,omitempty"`

	// Path is the file the config was read from, if any.
	Path string `yaml:"-"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Disabled  bool   `yaml:"disabled"` // default: false (audit enabled)
	DBPath    string `yaml:"db_path,omitempty"`
	Retention string `yaml:"retention,omitempty"` // e.g. "7d", "30d"
}

// TableEntry maps one update document to one catalog table.
type TableEntry struct {
	Source      string `yaml:"source,omitempty"`
	GCSJSONPath string `yaml:"gcs_json_path,omitempty"` // legacy key for Source
	ProjectID   string `yaml:"project_id"`
	DatasetID   string `yaml:"dataset_id"`
	TableID     string `yaml:"table_id"`
}

// EffectiveSource returns Source, falling back to the legacy gcs_json_path key.
func (e TableEntry) EffectiveSource() string {
	if e.Source != "" {
		return e.Source
	}
	return e.GCSJSONPath
}

// Ref returns the catalog identifier of the target table.
func (e TableEntry) Ref() catalog.TableRef {
	return catalog.TableRef{Project: e.ProjectID, Dataset: e.DatasetID, Table: e.TableID}
}

// EffectiveWorkers returns the worker count, defaulting to 1.
func (c Config) EffectiveWorkers() int {
	if c.Workers <= 0 {
		return defaultWorkers
	}
	return c.Workers
}

// EffectiveTimeout returns the per-table timeout, defaulting to 2m.
func (c Config) EffectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// EffectiveTempDir returns the directory for downloaded documents.
func (c Config) EffectiveTempDir() string {
	if c.TempDir == "" {
		return os.TempDir()
	}
	return pathutil.Expand(c.TempDir)
}

// AuditEnabled reports whether runs should be recorded.
func (c Config) AuditEnabled() bool {
	return c.Audit == nil || !c.Audit.Disabled
}

// Schemes returns the sorted set of blob schemes used by the table entries.
// Entries with unparseable sources are left to Validate.
func (c Config) Schemes() []string {
	seen := make(map[string]bool)
	for _, e := range c.Tables {
		loc, err := blob.ParseLocation(e.EffectiveSource())
		if err != nil {
			continue
		}
		seen[loc.Scheme] = true
	}
	schemes := make([]string, 0, len(seen))
	for s := range seen {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Issue is a single validation problem.
type Issue struct {
	Index   int // zero-based table index, -1 for top-level problems
	Message string
}

func (i Issue) String() string {
	if i.Index < 0 {
		return i.Message
	}
	return fmt.Sprintf("table %d: %s", i.Index+1, i.Message)
}

// Validate checks every table entry and returns all problems found.
func (c Config) Validate() []Issue {
	var issues []Issue
	if c.Workers < 0 {
		issues = append(issues, Issue{Index: -1, Message: fmt.Sprintf("workers must be >= 0, got %d", c.Workers)})
	}
	for i, e := range c.Tables {
		src := e.EffectiveSource()
		switch {
		case src == "":
			issues = append(issues, Issue{Index: i, Message: "missing source"})
		case e.Source != "" && e.GCSJSONPath != "" && e.Source != e.GCSJSONPath:
			issues = append(issues, Issue{Index: i, Message: "source and gcs_json_path disagree"})
		default:
			if _, err := blob.ParseLocation(src); err != nil {
				issues = append(issues, Issue{Index: i, Message: err.Error()})
			}
		}
		if e.ProjectID == "" {
			issues = append(issues, Issue{Index: i, Message: "missing project_id"})
		}
		if e.DatasetID == "" {
			issues = append(issues, Issue{Index: i, Message: "missing dataset_id"})
		}
		if e.TableID == "" {
			issues = append(issues, Issue{Index: i, Message: "missing table_id"})
		}
	}
	return issues
}

// Load searches for the config file in standard locations and parses it.
// Search order: $SCHEMADOC_CONFIG → ./table_configs.yaml
// → $XDG_CONFIG_HOME/schemadoc/config.yaml → ~/.config/schemadoc/config.yaml.
// Returns zero-value Config if no file is found. Returns error if file exists
// but contains invalid YAML.
func Load() (Config, error) {
	path, err := findConfigPath()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return Config{}, nil
	}
	return LoadFrom(path)
}

// LoadFrom parses a config from the given file path.
// Returns error if the file cannot be read or contains invalid YAML.
func LoadFrom(path string) (Config, error) {
	path = pathutil.ExpandTilde(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Path = path

	return cfg, nil
}

// findConfigPath returns the path to the first config file found,
// or empty string if none exists.
func findConfigPath() (string, error) {
	// 1. Explicit env var.
	if p := os.Getenv("SCHEMADOC_CONFIG"); p != "" {
		p = pathutil.ExpandTilde(p)
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("config: $SCHEMADOC_CONFIG points to %s which does not exist", p)
			}
			return "", fmt.Errorf("config: stat %s: %w", p, err)
		}
		return p, nil
	}

	// 2. Working directory.
	if _, err := os.Stat(localConfigName); err == nil {
		return localConfigName, nil
	}

	// 3. XDG_CONFIG_HOME.
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		p := filepath.Join(xdg, "schemadoc", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	// 4. Default ~/.config.
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil // Can't determine home, treat as no config.
	}
	p := filepath.Join(home, ".config", "schemadoc", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	return "", nil
}
