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

// RunRecord is one audit row of a reconciliation run
type RunRecord struct {
	RunID                 string
	BatchID               string
	StartedAt             time.Time
	FinishedAt            time.Time
	Candidates            int
	Matches               int
	UnmatchedTransactions int
	UnmatchedPayments     int
	QAFlags               int
	Exceptions            int
	ParamsJSON            string
}

// BatchOutputs is the full derived state of one batch
type BatchOutputs struct {
	BatchID    string
	Candidates []models.MatchCandidate
	Matches    []models.Match
	Flags      []models.QAFlag
	Exceptions []models.Exception
	Run        *RunRecord
}

// ReplaceBatchOutputs deletes every derived row of the batch and inserts
// outputs in a single transaction. On any error the transaction is rolled
// back and the previous outputs remain.
func (s *Store) ReplaceBatchOutputs(ctx context.Context, outputs *BatchOutputs) error {
	if outputs == nil || outputs.BatchID == "" {
		return errors.ReconciliationError(errors.CodeNoBatch, "replace batch outputs", nil)
	}
	batchID := outputs.BatchID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreError(errors.CodeWriteFailed, "transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{TableMatchCandidates, TableMatches, TableQAFlags, TableExceptions} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE batch_id = ?`, table), batchID); err != nil {
			return errors.StoreError(errors.CodeWriteFailed, table, err)
		}
	}

	if err := insertCandidates(ctx, tx, batchID, outputs.Candidates); err != nil {
		return err
	}
	if err := insertMatches(ctx, tx, batchID, outputs.Matches); err != nil {
		return err
	}
	if err := insertFlags(ctx, tx, batchID, outputs.Flags); err != nil {
		return err
	}
	if err := insertExceptions(ctx, tx, batchID, outputs.Exceptions); err != nil {
		return err
	}
	if outputs.Run != nil {
		if err := insertRun(ctx, tx, outputs.Run); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StoreError(errors.CodeWriteFailed, "transaction", err)
	}

	s.log.WithFields(logger.Fields{
		"batch_id":   batchID,
		"candidates": len(outputs.Candidates),
		"matches":    len(outputs.Matches),
		"qa_flags":   len(outputs.Flags),
		"exceptions": len(outputs.Exceptions),
	}).Info("Replaced batch outputs")
	return nil
}

// insertRows prepares query once and executes it for every row
func insertRows(ctx context.Context, tx *sql.Tx, table, query string, n int, args func(i int) []interface{}) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return errors.StoreError(errors.CodeWriteFailed, table, err)
	}
	defer func() { _ = stmt.Close() }()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return errors.StoreError(errors.CodeWriteFailed, table, err).WithContext("row", i)
		}
	}
	return nil
}

func insertCandidates(ctx context.Context, tx *sql.Tx, batchID string, rows []models.MatchCandidate) error {
	return insertRows(ctx, tx, TableMatchCandidates, `INSERT INTO match_candidates
		(batch_id, txn_id, pay_id, vendor_sim, date_diff_days, amount_diff_cents, score)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, len(rows), func(i int) []interface{} {
		c := rows[i]
		return []interface{}{batchID, c.TxnID, c.PayID, c.VendorSim, c.DateDiffDays, c.AmountDiffCents, c.Score}
	})
}

func insertMatches(ctx context.Context, tx *sql.Tx, batchID string, rows []models.Match) error {
	return insertRows(ctx, tx, TableMatches, `INSERT INTO matches
		(batch_id, txn_id, pay_id, match_score, match_type, vendor_sim, date_diff_days, amount_diff_cents, matched_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(rows), func(i int) []interface{} {
		m := rows[i]
		return []interface{}{batchID, m.TxnID, m.PayID, m.Score, string(m.MatchType), m.VendorSim,
			m.DateDiffDays, m.AmountDiffCents, formatTime(m.MatchedAt)}
	})
}

func insertFlags(ctx context.Context, tx *sql.Tx, batchID string, rows []models.QAFlag) error {
	return insertRows(ctx, tx, TableQAFlags, `INSERT INTO qa_flags
		(batch_id, record_type, record_id, flag_code, severity, message, vendor_canonical, vendor_id,
		 date, amount_cents, source_file, source_row_number, row_hash, created_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(rows), func(i int) []interface{} {
		f := rows[i]
		return []interface{}{batchID, string(f.RecordType), f.RecordID, f.FlagCode, string(f.Severity),
			f.Message, nullString(f.VendorCanonical), nullString(f.VendorID), nullString(f.Date),
			nullInt(f.AmountCents), nullString(f.SourceFile), f.SourceRowNumber, nullString(f.RowHash),
			formatTime(f.CreatedAt)}
	})
}

func insertExceptions(ctx context.Context, tx *sql.Tx, batchID string, rows []models.Exception) error {
	return insertRows(ctx, tx, TableExceptions, `INSERT INTO exceptions
		(batch_id, exception_id, record_type, record_id, related_record_id, exception_code, severity,
		 message, recommended_action, vendor_canonical, vendor_id, date, amount_cents, created_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(rows), func(i int) []interface{} {
		e := rows[i]
		return []interface{}{batchID, e.ExceptionID, string(e.RecordType), e.RecordID, e.RelatedRecordID,
			e.ExceptionCode, string(e.Severity), e.Message, e.RecommendedAction,
			nullString(e.VendorCanonical), nullString(e.VendorID), nullString(e.Date),
			nullInt(e.AmountCents), formatTime(e.CreatedAt)}
	})
}

func insertRun(ctx context.Context, tx *sql.Tx, run *RunRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reconciliation_runs
		(run_id, batch_id, started_at_utc, finished_at_utc, candidates, matches,
		 unmatched_transactions, unmatched_vendor_payments, qa_flags, exceptions, params_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.BatchID, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Candidates, run.Matches, run.UnmatchedTransactions, run.UnmatchedPayments,
		run.QAFlags, run.Exceptions, nullString(run.ParamsJSON))
	if err != nil {
		return errors.StoreError(errors.CodeWriteFailed, TableReconciliationRuns, err)
	}
	return nil
}

// LoadCandidates returns the stored candidates of a batch in insertion order
func (s *Store) LoadCandidates(ctx context.Context, batchID string) ([]models.MatchCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT batch_id, txn_id, pay_id, vendor_sim, date_diff_days,
		amount_diff_cents, score FROM match_candidates WHERE batch_id = ? ORDER BY rowid`, batchID)
	if err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableMatchCandidates, err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.MatchCandidate{}
	for rows.Next() {
		var c models.MatchCandidate
		if err := rows.Scan(&c.BatchID, &c.TxnID, &c.PayID, &c.VendorSim, &c.DateDiffDays,
			&c.AmountDiffCents, &c.Score); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableMatchCandidates, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableMatchCandidates, err)
	}
	return out, nil
}

// LoadMatches returns the stored matches of a batch in insertion order
func (s *Store) LoadMatches(ctx context.Context, batchID string) ([]models.Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT batch_id, txn_id, pay_id, match_score, match_type,
		vendor_sim, date_diff_days, amount_diff_cents, matched_at_utc
		FROM matches WHERE batch_id = ? ORDER BY rowid`, batchID)
	if err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableMatches, err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Match{}
	for rows.Next() {
		var (
			m         models.Match
			matchType string
			matchedAt string
		)
		if err := rows.Scan(&m.BatchID, &m.TxnID, &m.PayID, &m.Score, &matchType, &m.VendorSim,
			&m.DateDiffDays, &m.AmountDiffCents, &matchedAt); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableMatches, err)
		}
		m.MatchType = models.MatchType(matchType)
		if m.MatchedAt, err = parseTime(matchedAt); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableMatches, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableMatches, err)
	}
	return out, nil
}

// LoadFlags returns the stored QA flags of a batch in insertion order
func (s *Store) LoadFlags(ctx context.Context, batchID string) ([]models.QAFlag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT batch_id, record_type, record_id, flag_code, severity,
		message, vendor_canonical, vendor_id, date, amount_cents, source_file, source_row_number,
		row_hash, created_at_utc FROM qa_flags WHERE batch_id = ? ORDER BY rowid`, batchID)
	if err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableQAFlags, err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.QAFlag{}
	for rows.Next() {
		var (
			f                                        models.QAFlag
			recordType, severity, createdAt          string
			message, vendorCanonical, vendorID, date sql.NullString
			sourceFile, rowHash                      sql.NullString
			amount, sourceRow                        sql.NullInt64
		)
		if err := rows.Scan(&f.BatchID, &recordType, &f.RecordID, &f.FlagCode, &severity, &message,
			&vendorCanonical, &vendorID, &date, &amount, &sourceFile, &sourceRow, &rowHash, &createdAt); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableQAFlags, err)
		}
		f.RecordType = models.RecordType(recordType)
		f.Severity = models.Severity(severity)
		f.Message = message.String
		f.VendorCanonical = vendorCanonical.String
		f.VendorID = vendorID.String
		f.Date = date.String
		f.AmountCents = intPtr(amount)
		f.SourceFile = sourceFile.String
		f.SourceRowNumber = int(sourceRow.Int64)
		f.RowHash = rowHash.String
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableQAFlags, err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableQAFlags, err)
	}
	return out, nil
}

// LoadExceptions returns the stored exceptions of a batch in insertion order
func (s *Store) LoadExceptions(ctx context.Context, batchID string) ([]models.Exception, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT batch_id, exception_id, record_type, record_id,
		related_record_id, exception_code, severity, message, recommended_action, vendor_canonical,
		vendor_id, date, amount_cents, created_at_utc FROM exceptions WHERE batch_id = ? ORDER BY rowid`, batchID)
	if err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableExceptions, err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Exception{}
	for rows.Next() {
		var (
			e                               models.Exception
			recordType, severity, createdAt string
			related, message, action        sql.NullString
			vendorCanonical, vendorID, date sql.NullString
			amount                          sql.NullInt64
		)
		if err := rows.Scan(&e.BatchID, &e.ExceptionID, &recordType, &e.RecordID, &related,
			&e.ExceptionCode, &severity, &message, &action, &vendorCanonical, &vendorID, &date,
			&amount, &createdAt); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableExceptions, err)
		}
		e.RecordType = models.RecordType(recordType)
		e.Severity = models.Severity(severity)
		e.RelatedRecordID = related.String
		e.Message = message.String
		e.RecommendedAction = action.String
		e.VendorCanonical = vendorCanonical.String
		e.VendorID = vendorID.String
		e.Date = date.String
		e.AmountCents = intPtr(amount)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableExceptions, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableExceptions, err)
	}
	return out, nil
}

// LoadRuns returns the audit rows of a batch, oldest first
func (s *Store) LoadRuns(ctx context.Context, batchID string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, batch_id, started_at_utc, finished_at_utc,
		candidates, matches, unmatched_transactions, unmatched_vendor_payments, qa_flags, exceptions,
		params_json FROM reconciliation_runs WHERE batch_id = ? ORDER BY rowid`, batchID)
	if err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableReconciliationRuns, err)
	}
	defer func() { _ = rows.Close() }()

	out := []RunRecord{}
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished string
			params            sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.BatchID, &started, &finished, &r.Candidates, &r.Matches,
			&r.UnmatchedTransactions, &r.UnmatchedPayments, &r.QAFlags, &r.Exceptions, &params); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableReconciliationRuns, err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableReconciliationRuns, err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, errors.StoreError(errors.CodeQueryFailed, TableReconciliationRuns, err)
		}
		r.ParamsJSON = params.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(errors.CodeQueryFailed, TableReconciliationRuns, err)
	}
	return out, nil
}
