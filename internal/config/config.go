package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all testmend configuration.
type Config struct {
	// Runs is the number of consecutive clean runs required before a suite
	// is declared stable.
	Runs int `yaml:"runs"`

	// Workers bounds how many suites are repaired in parallel.
	Workers int `yaml:"workers"`

	// WorkDir is the parent of all per-suite session directories.
	WorkDir string `yaml:"work_dir"`

	// KeepWorkDirs leaves session directories on disk after a suite finishes.
	KeepWorkDirs bool `yaml:"keep_work_dirs"`

	// SourceDir is the test source root inside an extracted suite archive.
	// Class names are derived relative to this directory.
	SourceDir string `yaml:"source_dir"`

	// Locator selects the test-method locator: "line" or "ast".
	Locator string `yaml:"locator"`

	Removal   RemovalConfig   `yaml:"removal"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Results   ResultsConfig   `yaml:"results"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RemovalConfig configures the removal executor.
type RemovalConfig struct {
	// Strategy is "method" (default) or "assertions-first".
	Strategy string `yaml:"strategy"`

	// QuarantineDir is where uncompilable classes are moved, relative to the
	// session directory.
	QuarantineDir string `yaml:"quarantine_dir"`
}

// CommandSpec is one external tool invocation. Arguments are text/template
// strings expanded per suite.
type CommandSpec struct {
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`
	Timeout string   `yaml:"timeout"`
}

// ToolchainConfig configures how suites are compiled and executed.
type ToolchainConfig struct {
	Compile CommandSpec `yaml:"compile"`
	Run     CommandSpec `yaml:"run"`

	// CompileFormat names the compiler log grammar ("javac").
	CompileFormat string `yaml:"compile_format"`

	// ReportFormat names the run report format ("failing-tests" or "junit").
	ReportFormat string `yaml:"report_format"`

	// ReportFile is the run report path relative to the session directory.
	ReportFile string `yaml:"report_file"`

	// Env holds extra KEY=VALUE pairs for both commands.
	Env []string `yaml:"env"`

	// AllowedEnvVars are passed through from the host environment.
	AllowedEnvVars []string `yaml:"allowed_env_vars"`
}

// ArchiveConfig configures the archive side effect.
type ArchiveConfig struct {
	BackupSuffix string `yaml:"backup_suffix"`
}

// ResultsConfig configures the results sink.
type ResultsConfig struct {
	// DatabasePath is the sqlite results database. Empty disables the sink.
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging. Read directly by internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// Removal strategies.
const (
	StrategyMethod          = "method"
	StrategyAssertionsFirst = "assertions-first"
)

// Locators.
const (
	LocatorLine = "line"
	LocatorAST  = "ast"
)

const (
	DefaultConfigDir      = ".testmend"
	DefaultConfigFile     = "config.yaml"
	defaultCompileTimeout = 10 * time.Minute
	defaultRunTimeout     = 30 * time.Minute
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Runs:      5,
		Workers:   1,
		WorkDir:   filepath.Join(os.TempDir(), "testmend"),
		SourceDir: "",
		Locator:   LocatorLine,

		Removal: RemovalConfig{
			Strategy:      StrategyMethod,
			QuarantineDir: "quarantine",
		},

		Toolchain: ToolchainConfig{
			Compile: CommandSpec{
				Binary:  "ant",
				Args:    []string{"-q", "-Dtest.dir={{.SourceDir}}", "compile.gen.tests"},
				Timeout: "10m",
			},
			Run: CommandSpec{
				Binary:  "ant",
				Args:    []string{"-q", "-Dtest.dir={{.SourceDir}}", "-Doutfile={{.ReportFile}}", "run.gen.tests"},
				Timeout: "30m",
			},
			CompileFormat:  "javac",
			ReportFormat:   "failing-tests",
			ReportFile:     "failing_tests",
			AllowedEnvVars: []string{"PATH", "HOME", "JAVA_HOME", "ANT_HOME", "USER", "LANG"},
		},

		Archive: ArchiveConfig{
			BackupSuffix: ".bak",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns <workspace>/.testmend/config.yaml.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, DefaultConfigDir, DefaultConfigFile)
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TESTMEND_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Runs = n
		}
	}
	if v := os.Getenv("TESTMEND_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv("TESTMEND_WORK_DIR"); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv("TESTMEND_DB"); v != "" {
		c.Results.DatabasePath = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Runs < 1 {
		return fmt.Errorf("runs must be at least 1, got %d", c.Runs)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir is required")
	}
	switch c.Locator {
	case LocatorLine, LocatorAST:
	default:
		return fmt.Errorf("invalid locator: %s (valid: line, ast)", c.Locator)
	}
	switch c.Removal.Strategy {
	case StrategyMethod, StrategyAssertionsFirst:
	default:
		return fmt.Errorf("invalid removal strategy: %s (valid: %s, %s)",
			c.Removal.Strategy, StrategyMethod, StrategyAssertionsFirst)
	}
	if c.Removal.QuarantineDir == "" {
		return fmt.Errorf("removal.quarantine_dir is required")
	}
	if c.Toolchain.Compile.Binary == "" {
		return fmt.Errorf("toolchain.compile.binary is required")
	}
	if c.Toolchain.Run.Binary == "" {
		return fmt.Errorf("toolchain.run.binary is required")
	}
	if c.Toolchain.ReportFile == "" {
		return fmt.Errorf("toolchain.report_file is required")
	}
	if c.Archive.BackupSuffix == "" {
		return fmt.Errorf("archive.backup_suffix is required")
	}
	return nil
}

// GetCompileTimeout returns the compile timeout as a duration.
func (c *Config) GetCompileTimeout() time.Duration {
	d, err := time.ParseDuration(c.Toolchain.Compile.Timeout)
	if err != nil {
		return defaultCompileTimeout
	}
	return d
}

// GetRunTimeout returns the run timeout as a duration.
func (c *Config) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Toolchain.Run.Timeout)
	if err != nil {
		return defaultRunTimeout
	}
	return d
}
