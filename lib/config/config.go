// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for sps2go components.
//
// Configuration is loaded from a single file specified by:
//   - SPS2_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for sps2go.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures the on-disk layout rooted at a single prefix.
	Paths PathsConfig `yaml:"paths"`

	// Index configures index fetching and freshness checking.
	Index IndexConfig `yaml:"index"`

	// Pipeline configures the concurrent install pipeline.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// GC configures garbage collection retention policy.
	GC GCConfig `yaml:"gc"`

	// Build configures the external recipe driver invoked by the
	// "build" command.
	Build BuildConfig `yaml:"build"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Index    *IndexConfig    `yaml:"index,omitempty"`
	Pipeline *PipelineConfig `yaml:"pipeline,omitempty"`
	GC       *GCConfig       `yaml:"gc,omitempty"`
	Build    *BuildConfig    `yaml:"build,omitempty"`
}

// PathsConfig configures directory locations under a single root prefix,
// matching the filesystem layout in spec.md §6 (root typically /opt/pm).
type PathsConfig struct {
	// Root is the base directory for sps2go data (e.g. /opt/pm).
	Root string `yaml:"root"`

	// Store is the content-addressed object store directory
	// ("<root>/store").
	Store string `yaml:"store"`

	// States is the directory holding archived state directories
	// ("<root>/states").
	States string `yaml:"states"`

	// Live is the active prefix presented to users ("<root>/live").
	Live string `yaml:"live"`

	// Database is the path to the SQLite state database
	// ("<root>/state.sqlite").
	Database string `yaml:"database"`

	// TrustStore is the path to the local keys.json rotation ledger.
	TrustStore string `yaml:"trust_store"`
}

// IndexConfig configures index fetching, freshness, and compatibility
// checks (spec.md §4.2).
type IndexConfig struct {
	// URL is the location the index document is fetched from.
	URL string `yaml:"url"`

	// FreshnessWindow is the maximum age of an index document before
	// it is rejected. Default: 7 days (168h).
	FreshnessWindow string `yaml:"freshness_window"`

	// SupportedFormatVersion is the highest index format_version this
	// build understands. Indexes with a higher format_version are
	// rejected outright.
	SupportedFormatVersion uint32 `yaml:"supported_format_version"`

	// TrustRoot is the hex-encoded Ed25519 public key that anchors
	// trust for this index: either the key that signed index.json
	// directly (no rotations yet), or the original key the first entry
	// of keys.json's rotation chain is signed by. There is no
	// fallback — an index whose signature cannot be traced back to
	// this key is rejected.
	TrustRoot string `yaml:"trust_root"`
}

// PipelineConfig configures the concurrent install pipeline (spec.md §4.6).
type PipelineConfig struct {
	// MaxConcurrency is checked by Validate (it must be > 0) but is not
	// passed to the install pipeline, which runs at most 8 packages at
	// once regardless of this value. Default: 8.
	MaxConcurrency int `yaml:"max_concurrency"`

	// DownloadPoolSize is loaded and overridable per environment, but
	// nothing else reads it; MaxConcurrency is not derived from it.
	// Default: 4.
	DownloadPoolSize int `yaml:"download_pool_size"`

	// TotalDeadline is the total time budget for a single network
	// operation. Default: 300s.
	TotalDeadline string `yaml:"total_deadline"`

	// StallDeadline is the no-progress deadline for a single network
	// operation. Default: 60s.
	StallDeadline string `yaml:"stall_deadline"`

	// RetryAttempts is the number of retries for retriable network
	// errors. Default: 3.
	RetryAttempts int `yaml:"retry_attempts"`
}

// GCConfig configures garbage collection retention policy (spec.md §4.8).
type GCConfig struct {
	// RetainCount is the number of most-recent states (by time) kept
	// regardless of age. Default: 10.
	RetainCount int `yaml:"retain_count"`

	// RetainDays is the age window in days within which states are
	// kept regardless of count. Default: 30.
	RetainDays int `yaml:"retain_days"`

	// GraceWindow is passed to the garbage collector, which does not
	// consult it: a refcount-zero file object is deleted by the next
	// sweep regardless of this value. Default: 0.
	GraceWindow string `yaml:"grace_window"`
}

// BuildConfig configures the external recipe driver the "build"
// command invokes (spec.md §6's recipe interpreter and sandboxed
// build driver, treated opaquely by the core).
type BuildConfig struct {
	// DriverPath is the path to the recipe driver executable.
	DriverPath string `yaml:"driver_path"`

	// OutputDir is the directory the driver writes its finished .sp
	// archive into. The build command watches it for the archive
	// named after the recipe rather than parsing driver output.
	OutputDir string `yaml:"output_dir"`

	// Timeout bounds how long the build command waits for the driver
	// to produce an archive before giving up. Default: 30m.
	Timeout string `yaml:"timeout"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	defaultRoot := "/opt/pm"

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       defaultRoot,
			Store:      filepath.Join(defaultRoot, "store"),
			States:     filepath.Join(defaultRoot, "states"),
			Live:       filepath.Join(defaultRoot, "live"),
			Database:   filepath.Join(defaultRoot, "state.sqlite"),
			TrustStore: filepath.Join(defaultRoot, "keys.json"),
		},
		Index: IndexConfig{
			FreshnessWindow:        "168h",
			SupportedFormatVersion: 1,
		},
		Pipeline: PipelineConfig{
			MaxConcurrency:   8,
			DownloadPoolSize: 4,
			TotalDeadline:    "300s",
			StallDeadline:    "60s",
			RetryAttempts:    3,
		},
		GC: GCConfig{
			RetainCount: 10,
			RetainDays:  30,
			GraceWindow: "0s",
		},
		Build: BuildConfig{
			OutputDir: filepath.Join(defaultRoot, "build-output"),
			Timeout:   "30m",
		},
	}
}

// Load loads configuration from the SPS2_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if SPS2_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("SPS2_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SPS2_CONFIG environment variable not set; " +
			"set it to the path of your sps2.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do
// not override config values - this ensures deterministic, auditable
// configuration. The only expansion performed is ${HOME} and similar path
// variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: a tighter GC retention window than
		// development, matching the teacher's pattern of stricter
		// production defaults for risk-bearing behavior.
		if overrides == nil {
			overrides = &ConfigOverrides{
				GC: &GCConfig{
					RetainCount: 5,
					RetainDays:  14,
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Store != "" {
			c.Paths.Store = overrides.Paths.Store
		}
		if overrides.Paths.States != "" {
			c.Paths.States = overrides.Paths.States
		}
		if overrides.Paths.Live != "" {
			c.Paths.Live = overrides.Paths.Live
		}
		if overrides.Paths.Database != "" {
			c.Paths.Database = overrides.Paths.Database
		}
		if overrides.Paths.TrustStore != "" {
			c.Paths.TrustStore = overrides.Paths.TrustStore
		}
	}

	if overrides.Index != nil {
		if overrides.Index.URL != "" {
			c.Index.URL = overrides.Index.URL
		}
		if overrides.Index.FreshnessWindow != "" {
			c.Index.FreshnessWindow = overrides.Index.FreshnessWindow
		}
		if overrides.Index.SupportedFormatVersion != 0 {
			c.Index.SupportedFormatVersion = overrides.Index.SupportedFormatVersion
		}
		if overrides.Index.TrustRoot != "" {
			c.Index.TrustRoot = overrides.Index.TrustRoot
		}
	}

	if overrides.Pipeline != nil {
		if overrides.Pipeline.MaxConcurrency != 0 {
			c.Pipeline.MaxConcurrency = overrides.Pipeline.MaxConcurrency
		}
		if overrides.Pipeline.DownloadPoolSize != 0 {
			c.Pipeline.DownloadPoolSize = overrides.Pipeline.DownloadPoolSize
		}
		if overrides.Pipeline.TotalDeadline != "" {
			c.Pipeline.TotalDeadline = overrides.Pipeline.TotalDeadline
		}
		if overrides.Pipeline.StallDeadline != "" {
			c.Pipeline.StallDeadline = overrides.Pipeline.StallDeadline
		}
		if overrides.Pipeline.RetryAttempts != 0 {
			c.Pipeline.RetryAttempts = overrides.Pipeline.RetryAttempts
		}
	}

	if overrides.GC != nil {
		if overrides.GC.RetainCount != 0 {
			c.GC.RetainCount = overrides.GC.RetainCount
		}
		if overrides.GC.RetainDays != 0 {
			c.GC.RetainDays = overrides.GC.RetainDays
		}
		if overrides.GC.GraceWindow != "" {
			c.GC.GraceWindow = overrides.GC.GraceWindow
		}
	}

	if overrides.Build != nil {
		if overrides.Build.DriverPath != "" {
			c.Build.DriverPath = overrides.Build.DriverPath
		}
		if overrides.Build.OutputDir != "" {
			c.Build.OutputDir = overrides.Build.OutputDir
		}
		if overrides.Build.Timeout != "" {
			c.Build.Timeout = overrides.Build.Timeout
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"SPS2_ROOT": c.Paths.Root,
		"HOME":      os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SPS2_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Store = expandVars(c.Paths.Store, vars)
	c.Paths.States = expandVars(c.Paths.States, vars)
	c.Paths.Live = expandVars(c.Paths.Live, vars)
	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.TrustStore = expandVars(c.Paths.TrustStore, vars)
	c.Build.OutputDir = expandVars(c.Build.OutputDir, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}

	if c.GC.RetainCount < 0 {
		errs = append(errs, fmt.Errorf("gc.retain_count must be >= 0"))
	}
	if c.GC.RetainDays < 0 {
		errs = append(errs, fmt.Errorf("gc.retain_days must be >= 0"))
	}

	if c.Pipeline.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_concurrency must be > 0"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Store,
		c.Paths.States,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
