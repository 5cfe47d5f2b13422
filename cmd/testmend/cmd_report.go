package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"testmend/cmd/testmend/ui"
	"testmend/internal/store"
)

var (
	reportSuite   string
	reportOutcome string
	reportLimit   int
	reportDB      string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show recorded repair results",
	Long: `Lists the results database, newest first. Each row is one suite repair
session with its outcome and removal counts.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportSuite, "suite", "", "Only show this suite")
	reportCmd.Flags().StringVar(&reportOutcome, "outcome", "", "Only show this outcome (converged, unexecutable, class_failures, aborted)")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 50, "Maximum rows (0 = all)")
	reportCmd.Flags().StringVar(&reportDB, "db", "", "Results database path (overrides config)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbPath := cfg.Results.DatabasePath
	if cmd.Flags().Changed("db") {
		dbPath = reportDB
	}
	if dbPath == "" {
		return fmt.Errorf("no results database configured (set results.database_path or --db)")
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("results database: %w", err)
	}

	sink, err := store.OpenSQLiteSink(dbPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	recs, err := sink.List(cmd.Context(), store.Filter{
		Suite:   reportSuite,
		Outcome: reportOutcome,
		Limit:   reportLimit,
	})
	if err != nil {
		return err
	}
	printRecords(cmd.OutOrStdout(), recs, ui.DefaultStyles())
	return nil
}

func printRecords(w io.Writer, recs []store.Record, styles ui.Styles) {
	if len(recs) == 0 {
		fmt.Fprintln(w, styles.Muted.Render("No results recorded."))
		return
	}
	table := ui.NewTable(fmt.Sprintf("Results (%d)", len(recs)),
		"When", "Suite", "Outcome", "Changed", "Uncompilable", "Failing", "Compiles/Runs", "Duration", "Session")
	for _, r := range recs {
		changed := "no"
		if r.Changed {
			changed = "yes"
		}
		session := r.SessionID
		if len(session) > 8 {
			session = session[:8]
		}
		table.AddRow(
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Suite,
			styles.Outcome(r.Outcome),
			changed,
			fmt.Sprintf("%dm/%dc", r.UncompilableMethods, r.UncompilableClasses),
			fmt.Sprintf("%d", r.FailingMethods),
			fmt.Sprintf("%d/%d", r.CompileAttempts, r.RunAttempts),
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
			session,
		)
	}
	fmt.Fprint(w, table.View(styles))
}
