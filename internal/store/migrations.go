package store

import (
	"database/sql"
	"fmt"

	"testmend/internal/logging"
)

// migration adds a column that older results databases lack.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations run in order on every open. Columns are only ever added.
var pendingMigrations = []migration{
	{"repair_results", "removed_assertions", "INTEGER NOT NULL DEFAULT 0"},
	{"repair_results", "compile_attempts", "INTEGER NOT NULL DEFAULT 0"},
	{"repair_results", "run_attempts", "INTEGER NOT NULL DEFAULT 0"},
	{"repair_results", "class_failures", "TEXT NOT NULL DEFAULT ''"},
}

// runMigrations brings an existing database up to the current columns.
func runMigrations(db *sql.DB) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "runMigrations")
	defer timer.Stop()

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			return applied, fmt.Errorf("migration %s.%s: table missing", m.Table, m.Column)
		}
		exists, err := columnExists(db, m.Table, m.Column)
		if err != nil {
			return applied, err
		}
		if exists {
			logging.StoreDebug("Column already exists, skipping: %s.%s", m.Table, m.Column)
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return applied, fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}
	return applied, nil
}

// columnExists checks a column with PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}
