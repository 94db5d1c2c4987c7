// Package store persists fact records and reconciliation outputs in SQLite.
//
// Derived outputs (candidates, matches, QA flags, exceptions) are always
// replaced per batch inside one SQL transaction, so a failed write leaves the
// previous outputs for that batch untouched. The fact tables belong to the
// projection stage: the store never creates them implicitly, and reading a
// batch from a store without them is a fatal error.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"reconworks/pkg/errors"
	"reconworks/pkg/logger"
)

// Table names
const (
	TableFactTransactions   = "fact_transactions"
	TableFactVendorPayments = "fact_vendor_payments"
	TableMatchCandidates    = "match_candidates"
	TableMatches            = "matches"
	TableQAFlags            = "qa_flags"
	TableExceptions         = "exceptions"
	TableBatches            = "batches"
	TableReconciliationRuns = "reconciliation_runs"
)

// timestampLayout is the text encoding of every stored timestamp. The fixed
// width keeps lexical order equal to time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides SQLite access for one reconworks database file
type Store struct {
	db  *sql.DB
	log logger.Logger
}

// Open opens (creating if needed) the database at path and applies pending
// schema migrations. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.FileError(errors.CodeDirectoryError, dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, path, err)
	}
	// A single connection keeps every statement on one SQLite handle
	db.SetMaxOpenConns(1)

	s := &Store{
		db:  db,
		log: logger.GetGlobalLogger().WithComponent("store").WithField("database", path),
	}

	if err := s.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, errors.StoreError(errors.CodeWriteFailed, "schema_migrations", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// tableExists reports whether a table is present in the database
func (s *Store) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// requireTables fails with a missing-table error for the first absent table
func (s *Store) requireTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		ok, err := s.tableExists(ctx, table)
		if err != nil {
			return errors.StoreError(errors.CodeQueryFailed, table, err)
		}
		if !ok {
			return errors.StoreError(errors.CodeMissingTable, table, nil)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
