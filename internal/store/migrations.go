package store

import (
	"context"
	"database/sql"
	"fmt"

	"reconworks/pkg/logger"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "derived_output_tables",
		Up:      migration001DerivedOutputTables,
	},
	{
		Version: 2,
		Name:    "batches_and_runs",
		Up:      migration002BatchesAndRuns,
	},
}

// runMigrations executes all pending migrations, each in its own transaction
func (s *Store) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		s.log.WithFields(logger.Fields{"version": migration.Version, "name": migration.Name}).Debug("Running migration")

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			migration.Version, migration.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// migration001DerivedOutputTables creates the four batch-scoped output tables
func migration001DerivedOutputTables(tx *sql.Tx) error {
	return execAll(tx, []string{
		`CREATE TABLE IF NOT EXISTS match_candidates (
			batch_id TEXT NOT NULL,
			txn_id TEXT NOT NULL,
			pay_id TEXT NOT NULL,
			vendor_sim REAL NOT NULL,
			date_diff_days INTEGER NOT NULL,
			amount_diff_cents INTEGER NOT NULL,
			score REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_match_candidates_batch ON match_candidates(batch_id)`,

		`CREATE TABLE IF NOT EXISTS matches (
			batch_id TEXT NOT NULL,
			txn_id TEXT NOT NULL,
			pay_id TEXT NOT NULL,
			match_score REAL NOT NULL,
			match_type TEXT NOT NULL,
			vendor_sim REAL NOT NULL,
			date_diff_days INTEGER NOT NULL,
			amount_diff_cents INTEGER NOT NULL,
			matched_at_utc TEXT NOT NULL,
			UNIQUE (batch_id, txn_id),
			UNIQUE (batch_id, pay_id)
		)`,

		`CREATE TABLE IF NOT EXISTS qa_flags (
			batch_id TEXT NOT NULL,
			record_type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			flag_code TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT,
			vendor_canonical TEXT,
			vendor_id TEXT,
			date TEXT,
			amount_cents INTEGER,
			source_file TEXT,
			source_row_number INTEGER,
			row_hash TEXT,
			created_at_utc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_qa_flags_batch ON qa_flags(batch_id)`,

		`CREATE TABLE IF NOT EXISTS exceptions (
			batch_id TEXT NOT NULL,
			exception_id TEXT NOT NULL,
			record_type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			related_record_id TEXT,
			exception_code TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT,
			recommended_action TEXT,
			vendor_canonical TEXT,
			vendor_id TEXT,
			date TEXT,
			amount_cents INTEGER,
			created_at_utc TEXT NOT NULL,
			PRIMARY KEY (batch_id, exception_id)
		)`,
	})
}

// migration002BatchesAndRuns creates the batch registry and run audit tables
func migration002BatchesAndRuns(tx *sql.Tx) error {
	return execAll(tx, []string{
		`CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			registered_at_utc TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_runs (
			run_id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			started_at_utc TEXT NOT NULL,
			finished_at_utc TEXT NOT NULL,
			candidates INTEGER NOT NULL,
			matches INTEGER NOT NULL,
			unmatched_transactions INTEGER NOT NULL,
			unmatched_vendor_payments INTEGER NOT NULL,
			qa_flags INTEGER NOT NULL,
			exceptions INTEGER NOT NULL,
			params_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_batch ON reconciliation_runs(batch_id)`,
	})
}
