package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"testmend/internal/logging"
)

// SQLiteSink appends records to a SQLite database.
type SQLiteSink struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenSQLiteSink creates or opens the results database at dbPath.
func OpenSQLiteSink(dbPath string) (*SQLiteSink, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenSQLiteSink")
	defer timer.Stop()

	if dbPath == "" {
		return nil, fmt.Errorf("database path required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		logging.StoreError("Failed to open results database: %v", err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	s := &SQLiteSink{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.Store("Results database ready at %s", dbPath)
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repair_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		suite TEXT NOT NULL,
		archive TEXT NOT NULL,
		uncompilable_methods INTEGER NOT NULL DEFAULT 0,
		uncompilable_classes INTEGER NOT NULL DEFAULT 0,
		failing_methods INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		changed INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_suite ON repair_results(suite);
	CREATE INDEX IF NOT EXISTS idx_results_outcome ON repair_results(outcome);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := runMigrations(s.db)
	return err
}

// Path returns the database file path.
func (s *SQLiteSink) Path() string {
	return s.dbPath
}

// Append writes one record in its own transaction.
func (s *SQLiteSink) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin results transaction: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO repair_results
			(session_id, suite, archive, uncompilable_methods, uncompilable_classes,
			 failing_methods, outcome, changed, duration_ms, created_at,
			 removed_assertions, compile_attempts, run_attempts, class_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Suite, rec.Archive, rec.UncompilableMethods, rec.UncompilableClasses,
		rec.FailingMethods, rec.Outcome, boolToInt(rec.Changed), rec.DurationMs, rec.CreatedAt.UTC(),
		rec.RemovedAssertions, rec.CompileAttempts, rec.RunAttempts, strings.Join(rec.ClassFailures, ","))
	if err != nil {
		tx.Rollback()
		logging.StoreError("Failed to append result for %s: %v", rec.Suite, err)
		return fmt.Errorf("insert result for %s: %w", rec.Suite, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result for %s: %w", rec.Suite, err)
	}
	logging.Store("Recorded %s outcome=%s changed=%v", rec.Suite, rec.Outcome, rec.Changed)
	return nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Suite   string
	Outcome string
	Limit   int
}

// List returns records newest first.
func (s *SQLiteSink) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `
		SELECT session_id, suite, archive, uncompilable_methods, uncompilable_classes,
		       failing_methods, outcome, changed, duration_ms, created_at,
		       removed_assertions, compile_attempts, run_attempts, class_failures
		FROM repair_results WHERE 1=1`
	var args []interface{}
	if f.Suite != "" {
		query += " AND suite = ?"
		args = append(args, f.Suite)
	}
	if f.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, f.Outcome)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var changed int
		var classFailures string
		if err := rows.Scan(&rec.SessionID, &rec.Suite, &rec.Archive, &rec.UncompilableMethods,
			&rec.UncompilableClasses, &rec.FailingMethods, &rec.Outcome, &changed,
			&rec.DurationMs, &rec.CreatedAt,
			&rec.RemovedAssertions, &rec.CompileAttempts, &rec.RunAttempts, &classFailures); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		rec.Changed = changed != 0
		if classFailures != "" {
			rec.ClassFailures = strings.Split(classFailures, ",")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
