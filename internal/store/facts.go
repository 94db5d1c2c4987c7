package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reconworks/internal/models"
	"reconworks/pkg/errors"
	"reconworks/pkg/logger"
)

// FactTable returns the fact table holding records of kind
func FactTable(kind models.RecordType) string {
	if kind == models.RecordTypeVendorPayment {
		return TableFactVendorPayments
	}
	return TableFactTransactions
}

func factTableDDL(kind models.RecordType) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		date TEXT,
		month TEXT,
		amount_cents INTEGER,
		currency TEXT,
		vendor_raw TEXT,
		vendor_canonical TEXT,
		vendor_id TEXT,
		is_weekend INTEGER NOT NULL DEFAULT 0,
		row_hash TEXT,
		source_file TEXT,
		source_row_number INTEGER,
		PRIMARY KEY (batch_id, %s)
	)`, FactTable(kind), kind.IDColumn(), kind.IDColumn())
}

// EnsureFactTables creates both fact tables when they are missing. It is the
// projection stage's entry point; reconciliation never calls it.
func (s *Store) EnsureFactTables(ctx context.Context) error {
	for _, kind := range []models.RecordType{models.RecordTypeTransaction, models.RecordTypeVendorPayment} {
		if _, err := s.db.ExecContext(ctx, factTableDDL(kind)); err != nil {
			return errors.StoreError(errors.CodeWriteFailed, FactTable(kind), err)
		}
	}
	return nil
}

// ReplaceFacts replaces the facts of one kind for a batch and registers the
// batch. Derived columns are recomputed from each record before it is stored.
func (s *Store) ReplaceFacts(ctx context.Context, kind models.RecordType, batchID string, records []models.FactRecord, registeredAt time.Time) error {
	table := FactTable(kind)
	if err := s.requireTables(ctx, table); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreError(errors.CodeWriteFailed, table, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE batch_id = ?`, table), batchID); err != nil {
		return errors.StoreError(errors.CodeWriteFailed, table, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(%s, batch_id, date, month, amount_cents, currency, vendor_raw, vendor_canonical,
		 vendor_id, is_weekend, row_hash, source_file, source_row_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table, kind.IDColumn()))
	if err != nil {
		return errors.StoreError(errors.CodeWriteFailed, table, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		rec.BatchID = batchID
		rec.Derive()
		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			rec.BatchID,
			nullString(rec.Date),
			nullString(rec.Month),
			nullInt(rec.AmountCents),
			nullString(rec.Currency),
			nullString(rec.VendorRaw),
			nullString(rec.VendorCanonical),
			nullString(rec.VendorID),
			rec.IsWeekend,
			nullString(rec.RowHash),
			nullString(rec.SourceFile),
			rec.SourceRowNumber,
		); err != nil {
			return errors.StoreError(errors.CodeWriteFailed, table, err).WithContext("record_id", rec.ID)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO batches (batch_id, registered_at_utc) VALUES (?, ?)`,
		batchID, formatTime(registeredAt)); err != nil {
		return errors.StoreError(errors.CodeWriteFailed, TableBatches, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.StoreError(errors.CodeWriteFailed, table, err)
	}

	s.log.WithFields(logger.Fields{"table": table, "batch_id": batchID, "records": len(records)}).Debug("Replaced fact records")
	return nil
}

// LoadFacts returns the facts of one kind for a batch in insertion order.
// A missing fact table is reported as CodeMissingTable; a batch without rows
// yields an empty slice.
func (s *Store) LoadFacts(ctx context.Context, kind models.RecordType, batchID string) ([]models.FactRecord, error) {
	table := FactTable(kind)
	if err := s.requireTables(ctx, table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT
		%s, batch_id, date, month, amount_cents, currency, vendor_raw, vendor_canonical,
		vendor_id, is_weekend, row_hash, source_file, source_row_number
		FROM %s WHERE batch_id = ? ORDER BY rowid`, kind.IDColumn(), table), batchID)
	if err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, table, err)
	}
	defer func() { _ = rows.Close() }()

	records := []models.FactRecord{}
	for rows.Next() {
		var (
			rec                                                         models.FactRecord
			date, month, currency, vendorRaw, vendorCanonical, vendorID sql.NullString
			rowHash, sourceFile                                         sql.NullString
			amount, sourceRow                                           sql.NullInt64
		)
		if err := rows.Scan(
			&rec.ID, &rec.BatchID, &date, &month, &amount, &currency, &vendorRaw, &vendorCanonical,
			&vendorID, &rec.IsWeekend, &rowHash, &sourceFile, &sourceRow,
		); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, table, err)
		}
		rec.Date = date.String
		rec.Month = month.String
		rec.AmountCents = intPtr(amount)
		rec.Currency = currency.String
		rec.VendorRaw = vendorRaw.String
		rec.VendorCanonical = vendorCanonical.String
		rec.VendorID = vendorID.String
		rec.RowHash = rowHash.String
		rec.SourceFile = sourceFile.String
		rec.SourceRowNumber = int(sourceRow.Int64)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, table, err)
	}

	return records, nil
}

// LatestBatchID returns the most recently registered batch. It fails with
// CodeNoBatch when no batch was ever registered.
func (s *Store) LatestBatchID(ctx context.Context) (string, error) {
	var batchID string
	err := s.db.QueryRowContext(ctx,
		`SELECT batch_id FROM batches ORDER BY registered_at_utc DESC, rowid DESC LIMIT 1`).Scan(&batchID)
	if err == sql.ErrNoRows {
		return "", errors.ReconciliationError(errors.CodeNoBatch, "latest batch lookup", nil)
	}
	if err != nil {
		return "", errors.StoreError(errors.CodeQueryFailed, TableBatches, err)
	}
	return batchID, nil
}
