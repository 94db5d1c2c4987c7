// Package exceptions turns QA flags, unmatched facts and low-confidence
// matches into one list of review items for a batch.
package exceptions

import (
	"fmt"
	"time"

	"reconworks/internal/models"
	"reconworks/pkg/logger"
)

// Exception codes owned by this package. QA-derived exceptions reuse the
// flag code.
const (
	CodeUnmatchedTransaction   = "UNMATCHED_TRANSACTION"
	CodeUnmatchedVendorPayment = "UNMATCHED_VENDOR_PAYMENT"
	CodeLowConfidenceMatch     = "LOW_CONFIDENCE_MATCH"
)

// Recommended actions
const (
	ActionReviewSourceData       = "Review and correct source data or mapping/normalization rules."
	ActionInvestigateTransaction = "Investigate: missing payment, timing difference, amount mismatch, or vendor normalization gap."
	ActionInvestigatePayment     = "Investigate: missing transaction feed, timing difference, amount mismatch, or vendor normalization gap."
	ActionReviewLowConfidence    = "Review candidate details; confirm or adjust matching thresholds/rules."
)

// Input gathers everything derivation reads for one batch
type Input struct {
	BatchID                string
	Flags                  []models.QAFlag
	Transactions           []models.FactRecord
	Payments               []models.FactRecord
	Matches                []models.Match
	LowConfidenceThreshold float64
	CreatedAt              time.Time
}

// ExceptionID is the stable identity of an exception. Re-deriving an
// unchanged batch yields the same ids.
func ExceptionID(batchID string, recordType models.RecordType, recordID, code, relatedRecordID string) string {
	return models.SHA256Hex(fmt.Sprintf("%s|%s|%s|%s|%s", batchID, recordType, recordID, code, relatedRecordID))
}

// Derive builds the exception list from four sources in a fixed order:
// QA flags, unmatched transactions, unmatched payments, then matches scoring
// below the low-confidence threshold. Exception ids are unique within the
// result; when two sources yield the same id the earlier one is kept.
func Derive(in Input) []models.Exception {
	log := logger.GetGlobalLogger().WithComponent("exceptions").WithField("batch_id", in.BatchID)

	out := make([]models.Exception, 0, len(in.Flags)+len(in.Transactions)+len(in.Payments))
	seen := make(map[string]bool, cap(out))
	duplicates := 0
	add := func(e models.Exception) {
		if seen[e.ExceptionID] {
			duplicates++
			log.WithFields(logger.Fields{
				"record_type":    e.RecordType,
				"record_id":      e.RecordID,
				"exception_code": e.ExceptionCode,
			}).Warn("Skipping exception already derived from an earlier source")
			return
		}
		seen[e.ExceptionID] = true
		out = append(out, e)
	}

	for _, f := range in.Flags {
		severity := f.Severity
		if severity == "" {
			severity = models.SeverityWarning
		}
		add(models.Exception{
			BatchID:           in.BatchID,
			ExceptionID:       ExceptionID(in.BatchID, f.RecordType, f.RecordID, f.FlagCode, ""),
			RecordType:        f.RecordType,
			RecordID:          f.RecordID,
			ExceptionCode:     f.FlagCode,
			Severity:          severity,
			Message:           f.Message,
			RecommendedAction: ActionReviewSourceData,
			VendorCanonical:   f.VendorCanonical,
			VendorID:          f.VendorID,
			Date:              f.Date,
			AmountCents:       f.AmountCents,
			CreatedAt:         in.CreatedAt,
		})
	}
	qaCount := len(out)

	matchedTxn := make(map[string]bool, len(in.Matches))
	matchedPay := make(map[string]bool, len(in.Matches))
	for _, m := range in.Matches {
		matchedTxn[m.TxnID] = true
		matchedPay[m.PayID] = true
	}

	unmatchedTxn := 0
	for i := range in.Transactions {
		rec := &in.Transactions[i]
		if matchedTxn[rec.ID] {
			continue
		}
		unmatchedTxn++
		add(unmatched(in, models.RecordTypeTransaction, rec, CodeUnmatchedTransaction,
			"No matching vendor payment found.", ActionInvestigateTransaction))
	}

	unmatchedPay := 0
	for i := range in.Payments {
		rec := &in.Payments[i]
		if matchedPay[rec.ID] {
			continue
		}
		unmatchedPay++
		add(unmatched(in, models.RecordTypeVendorPayment, rec, CodeUnmatchedVendorPayment,
			"No matching transaction found.", ActionInvestigatePayment))
	}

	lowConfidence := 0
	for _, m := range in.Matches {
		if m.Score >= in.LowConfidenceThreshold {
			continue
		}
		lowConfidence++
		add(models.Exception{
			BatchID:           in.BatchID,
			ExceptionID:       ExceptionID(in.BatchID, models.RecordTypeTransaction, m.TxnID, CodeLowConfidenceMatch, m.PayID),
			RecordType:        models.RecordTypeTransaction,
			RecordID:          m.TxnID,
			RelatedRecordID:   m.PayID,
			ExceptionCode:     CodeLowConfidenceMatch,
			Severity:          models.SeverityWarning,
			Message:           fmt.Sprintf("Matched but low confidence (score=%.3f).", m.Score),
			RecommendedAction: ActionReviewLowConfidence,
			CreatedAt:         in.CreatedAt,
		})
	}

	log.WithFields(logger.Fields{
		"qa":                 qaCount,
		"unmatched_txn":      unmatchedTxn,
		"unmatched_payments": unmatchedPay,
		"low_confidence":     lowConfidence,
		"duplicates":         duplicates,
		"exceptions":         len(out),
	}).Debug("Derived exceptions")

	return out
}

func unmatched(in Input, kind models.RecordType, rec *models.FactRecord, code, message, action string) models.Exception {
	return models.Exception{
		BatchID:           in.BatchID,
		ExceptionID:       ExceptionID(in.BatchID, kind, rec.ID, code, ""),
		RecordType:        kind,
		RecordID:          rec.ID,
		ExceptionCode:     code,
		Severity:          models.SeverityWarning,
		Message:           message,
		RecommendedAction: action,
		VendorCanonical:   rec.VendorCanonical,
		VendorID:          rec.VendorID,
		Date:              rec.Date,
		AmountCents:       rec.AmountCents,
		CreatedAt:         in.CreatedAt,
	}
}
