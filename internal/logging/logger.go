// Package logging writes per-category debug logs for testmend.
// Files land in .testmend/logs/<date>_<category>.log, one zap core per
// category. Nothing is written unless logging.debug_mode is set in
// .testmend/config.yaml.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Category names a subsystem with its own log file.
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup, config loading
	CategoryBatch   Category = "batch"   // Batch scheduling across suites
	CategoryEngine  Category = "engine"  // Repair convergence loop
	CategoryCompile Category = "compile" // Compile cycles and compile-failure resolution
	CategoryRun     Category = "run"     // Run cycles and run-failure resolution
	CategoryRemoval Category = "removal" // Removal executor edits and quarantines
	CategoryLocator Category = "locator" // Test-method location
	CategoryArchive Category = "archive" // Archive extract/pack/backup
	CategoryStore   Category = "store"   // Results sink
	CategoryTactile Category = "tactile" // Command execution
)

// settings is the logging section of the workspace config. It is read
// separately so this package does not import config.
type settings struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Logger is a category logger. The zero value discards everything.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	mu      sync.RWMutex
	active  settings
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logsDir string
	loggers = make(map[Category]*Logger)
)

// Initialize reads the workspace config and prepares the logs directory.
// A missing or unreadable config leaves logging off.
func Initialize(workspace string) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	s, err := readSettings(filepath.Join(workspace, ".testmend", "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: %v\n", err)
		s = settings{}
	}
	lvl, err := zapcore.ParseLevel(s.Level)
	if err != nil || s.Level == "" {
		lvl = zapcore.InfoLevel
	}

	mu.Lock()
	active = s
	level.SetLevel(lvl)
	logsDir = filepath.Join(workspace, ".testmend", "logs")
	mu.Unlock()

	if !s.DebugMode {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}
	Boot("logging initialized: workspace=%s level=%s json=%v", workspace, lvl, s.JSONFormat)
	return nil
}

func readSettings(path string) (settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return settings{}, nil
	}
	if err != nil {
		return settings{}, err
	}
	var file struct {
		Logging settings `yaml:"logging"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Logging, nil
}

// IsDebugMode reports whether file logging is on.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return active.DebugMode
}

// IsCategoryEnabled reports whether category writes anything. Categories
// missing from the filter are enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !active.DebugMode {
		return false
	}
	enabled, listed := active.Categories[string(category)]
	return !listed || enabled
}

// Get returns the logger for category, opening its file on first use.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	mu.RLock()
	l, ok := loggers[category]
	dir, jsonFormat := logsDir, active.JSONFormat
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open %s: %v\n", path, err)
		return &Logger{category: category}
	}

	core := zapcore.NewCore(encoder(jsonFormat), zapcore.AddSync(file), level)
	l = &Logger{
		category: category,
		sugar:    zap.New(core).With(zap.String("cat", string(category))).Sugar(),
		file:     file,
	}
	loggers[category] = l
	return l
}

func encoder(jsonFormat bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.LevelKey = "lvl"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if jsonFormat {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func (l *Logger) Debug(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Debugf(format, args...)
	}
}

func (l *Logger) Info(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Infof(format, args...)
	}
}

func (l *Logger) Warn(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Warnf(format, args...)
	}
}

func (l *Logger) Error(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Errorf(format, args...)
	}
}

// ForSuite returns a logger that tags every entry with the suite name.
func (l *Logger) ForSuite(suite string) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With("suite", suite)}
}

// CloseAll flushes and closes every open log file.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
		l.file.Close()
	}
	loggers = make(map[Category]*Logger)
}

// Shorthands; no-ops when the category is disabled.

func Boot(format string, args ...any)     { Get(CategoryBoot).Info(format, args...) }
func BootWarn(format string, args ...any) { Get(CategoryBoot).Warn(format, args...) }

func Batch(format string, args ...any)      { Get(CategoryBatch).Info(format, args...) }
func BatchError(format string, args ...any) { Get(CategoryBatch).Error(format, args...) }

func Compile(format string, args ...any)      { Get(CategoryCompile).Info(format, args...) }
func CompileDebug(format string, args ...any) { Get(CategoryCompile).Debug(format, args...) }

func Run(format string, args ...any)      { Get(CategoryRun).Info(format, args...) }
func RunDebug(format string, args ...any) { Get(CategoryRun).Debug(format, args...) }

func Removal(format string, args ...any)      { Get(CategoryRemoval).Info(format, args...) }
func RemovalDebug(format string, args ...any) { Get(CategoryRemoval).Debug(format, args...) }
func RemovalError(format string, args ...any) { Get(CategoryRemoval).Error(format, args...) }

func LocatorDebug(format string, args ...any) { Get(CategoryLocator).Debug(format, args...) }

func Archive(format string, args ...any)      { Get(CategoryArchive).Info(format, args...) }
func ArchiveDebug(format string, args ...any) { Get(CategoryArchive).Debug(format, args...) }

func Store(format string, args ...any)      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }
func StoreError(format string, args ...any) { Get(CategoryStore).Error(format, args...) }

func Tactile(format string, args ...any)      { Get(CategoryTactile).Info(format, args...) }
func TactileDebug(format string, args ...any) { Get(CategoryTactile).Debug(format, args...) }
func TactileWarn(format string, args ...any)  { Get(CategoryTactile).Warn(format, args...) }
func TactileError(format string, args ...any) { Get(CategoryTactile).Error(format, args...) }

// Timer logs how long an operation took.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}
