package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testmend/cmd/testmend/ui"
	"testmend/internal/config"
	"testmend/internal/diagnostic"
	"testmend/internal/locator"
	"testmend/internal/removal"
	"testmend/internal/repair"
	"testmend/internal/store"
	"testmend/internal/tactile"
	"testmend/internal/toolchain"
)

var (
	repairRuns     int
	repairWorkers  int
	repairStrategy string
	repairLocator  string
	repairKeep     bool
	repairDB       string
)

var repairCmd = &cobra.Command{
	Use:   "repair <archive>...",
	Short: "Repair one or more test suite archives",
	Long: `Extracts each suite archive into its own session directory, then compiles
and runs it repeatedly. Test methods (or whole classes) that fail to compile
are removed; test methods that fail at runtime are removed; the suite is
declared fixed after --runs consecutive clean runs.

Fixed suites are repacked over the original archive after a one-time backup.
Suites with class-level runtime failures are left untouched for triage.

Example:
  testmend repair --runs 5 --workers 4 suites/*.tar.gz`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().IntVar(&repairRuns, "runs", 0, "Consecutive clean runs required (overrides config)")
	repairCmd.Flags().IntVar(&repairWorkers, "workers", 0, "Suites repaired in parallel (overrides config)")
	repairCmd.Flags().StringVar(&repairStrategy, "strategy", "", "Removal strategy: method or assertions-first")
	repairCmd.Flags().StringVar(&repairLocator, "locator", "", "Test-method locator: "+strings.Join(locator.Names(), " or "))
	repairCmd.Flags().BoolVar(&repairKeep, "keep-work-dirs", false, "Keep session directories for inspection")
	repairCmd.Flags().StringVar(&repairDB, "db", "", "Results database path (overrides config)")
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRepairFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch, rt, err := buildBatch(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	logger.Info("repair starting",
		zap.Int("suites", len(args)),
		zap.Int("runs", cfg.Runs),
		zap.Int("workers", cfg.Workers),
		zap.String("strategy", cfg.Removal.Strategy),
		zap.String("locator", cfg.Locator))

	sum, err := batch.Run(ctx, args)
	if sum != nil {
		styles := ui.DefaultStyles()
		printSummary(cmd.OutOrStdout(), sum, styles)
		printToolMetrics(cmd.OutOrStdout(), rt.audit, styles)
	}
	if err != nil {
		var fe *repair.FatalError
		if errors.As(err, &fe) {
			logger.Error("repair aborted",
				zap.String("suite", fe.Suite),
				zap.String("artifact", fe.Artifact),
				zap.Error(fe.Err))
		}
		return err
	}
	logger.Info("repair finished", zap.Int("suites", sum.Total()), zap.Int("fixed", len(sum.Fixed)))
	return nil
}

func applyRepairFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("runs") {
		cfg.Runs = repairRuns
	}
	if flags.Changed("workers") {
		cfg.Workers = repairWorkers
	}
	if flags.Changed("strategy") {
		cfg.Removal.Strategy = repairStrategy
	}
	if flags.Changed("locator") {
		cfg.Locator = repairLocator
	}
	if flags.Changed("keep-work-dirs") {
		cfg.KeepWorkDirs = repairKeep
	}
	if flags.Changed("db") {
		cfg.Results.DatabasePath = repairDB
	}
}

// repairRuntime holds what buildBatch opened and runRepair must close.
type repairRuntime struct {
	sink  store.Sink
	audit *tactile.AuditLog
}

func (rt *repairRuntime) close() {
	if err := rt.sink.Close(); err != nil {
		logger.Warn("closing results sink", zap.Error(err))
	}
	if err := rt.audit.Close(); err != nil {
		logger.Warn("closing command audit", zap.Error(err))
	}
}

// buildBatch wires the toolchain, resolvers, engine and results sink.
// Every compile and run invocation is audited to <work_dir>/commands.jsonl.
func buildBatch(cfg *config.Config) (*repair.Batch, *repairRuntime, error) {
	loc, err := locator.New(cfg.Locator)
	if err != nil {
		return nil, nil, err
	}
	compileParser, err := diagnostic.NewCompileParser(cfg.Toolchain.CompileFormat)
	if err != nil {
		return nil, nil, err
	}

	audit := tactile.NewAuditLog()
	if err := audit.EnableFile(filepath.Join(cfg.WorkDir, "commands.jsonl")); err != nil {
		return nil, nil, err
	}
	audit.AddCallback(func(e tactile.AuditEvent) {
		if e.Type == tactile.AuditEventKilled {
			logger.Warn("tool killed", zap.String("session", e.SessionID),
				zap.String("command", e.Command), zap.String("reason", e.KillReason))
		}
	})
	rt := &repairRuntime{sink: store.NopSink{}, audit: audit}

	execCfg := tactile.DefaultExecutorConfig()
	execCfg.AllowedEnv = cfg.Toolchain.AllowedEnvVars
	execCfg.MaxTimeout = max(cfg.GetCompileTimeout(), cfg.GetRunTimeout())
	executor := tactile.NewAuditedExecutor(tactile.NewDirectExecutorWithConfig(execCfg), audit)
	tc, err := toolchain.New(cfg, executor)
	if err != nil {
		rt.close()
		return nil, nil, err
	}

	engine := repair.NewEngine(tc,
		repair.NewCompileResolver(compileParser, loc),
		repair.NewRunResolver())

	if cfg.Results.DatabasePath != "" {
		s, err := store.OpenSQLiteSink(cfg.Results.DatabasePath)
		if err != nil {
			rt.close()
			return nil, nil, err
		}
		rt.sink = s
	}

	batch, err := repair.NewBatch(repair.BatchOptions{
		Runs:          cfg.Runs,
		Workers:       cfg.Workers,
		WorkDir:       cfg.WorkDir,
		KeepWorkDirs:  cfg.KeepWorkDirs,
		SourceDir:     cfg.SourceDir,
		QuarantineDir: cfg.Removal.QuarantineDir,
		Strategy:      removal.Strategy(cfg.Removal.Strategy),
		BackupSuffix:  cfg.Archive.BackupSuffix,
	}, engine, rt.sink)
	if err != nil {
		rt.close()
		return nil, nil, err
	}
	return batch, rt, nil
}

func printSummary(w io.Writer, sum *repair.Summary, styles ui.Styles) {
	table := ui.NewTable("Repair summary", "Suite", "Outcome", "Uncompilable", "Failing", "Compiles", "Runs", "Duration")
	for _, s := range sum.Sessions {
		table.AddRow(
			s.Suite,
			styles.Outcome(string(s.Outcome)),
			fmt.Sprintf("%dm/%dc", s.RemovedUncompilableMethods, s.RemovedUncompilableClasses),
			fmt.Sprintf("%d", s.RemovedFailingMethods),
			fmt.Sprintf("%d", s.CompileAttempts),
			fmt.Sprintf("%d", s.RunAttempts),
			s.Duration().Round(time.Millisecond).String(),
		)
	}
	fmt.Fprint(w, table.View(styles))

	fmt.Fprintln(w, styles.Rule(40))
	line := func(label string, suites []string, style func(...string) string) {
		if len(suites) == 0 {
			return
		}
		fmt.Fprintf(w, "%s %d: %s\n", style(label), len(suites), strings.Join(suites, ", "))
	}
	line("fixed", sum.Fixed, styles.Success.Render)
	line("already clean", sum.AlreadyClean, styles.Body.Render)
	line("class failures", sum.ClassFailures, styles.Warning.Render)
	line("unexecutable", sum.Unexecutable, styles.Info.Render)
	line("aborted", sum.Aborted, styles.Error.Render)
	fmt.Fprintf(w, "%s %d suites\n", styles.Muted.Render("total"), sum.Total())
}

func printToolMetrics(w io.Writer, audit *tactile.AuditLog, styles ui.Styles) {
	m := audit.Metrics()
	if m.Total == 0 {
		return
	}
	binaries := make([]string, 0, len(m.ByBinary))
	for b, n := range m.ByBinary {
		binaries = append(binaries, fmt.Sprintf("%s=%d", b, n))
	}
	sort.Strings(binaries)
	fmt.Fprintf(w, "%s %d invocations (%s), %d non-zero, %d killed, %s total; audit: %s\n",
		styles.Muted.Render("tools"), m.Total, strings.Join(binaries, " "), m.NonZeroExit, m.Killed,
		(time.Duration(m.TotalDurationMs) * time.Millisecond).String(), audit.Path())
}
