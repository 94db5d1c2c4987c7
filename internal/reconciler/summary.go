package reconciler

import (
	"time"

	"reconworks/internal/matcher"
	"reconworks/pkg/logger"
)

// RunSummary is the outcome of one run
type RunSummary struct {
	RunID          string                        `json:"run_id"`
	BatchID        string                        `json:"batch_id"`
	StartedAt      time.Time                     `json:"started_at_utc"`
	FinishedAt     time.Time                     `json:"finished_at_utc"`
	Candidates     int                           `json:"candidates"`
	QAFlags        int                           `json:"qa_flags"`
	Exceptions     int                           `json:"exceptions"`
	LowConfidence  int                           `json:"low_confidence_matches"`
	Reconciliation matcher.ReconciliationSummary `json:"reconciliation"`
	Matching       *matcher.MatchingConfig       `json:"matching"`
}

// Matches returns the number of accepted matches
func (rs *RunSummary) Matches() int {
	return rs.Reconciliation.MatchedTransactions
}

// Fields renders the summary as log fields
func (rs *RunSummary) Fields() logger.Fields {
	r := rs.Reconciliation
	return logger.Fields{
		"run_id":                 rs.RunID,
		"candidates":             rs.Candidates,
		"matches":                r.MatchedTransactions,
		"unmatched_transactions": r.UnmatchedTransactions,
		"unmatched_payments":     r.UnmatchedPayments,
		"qa_flags":               rs.QAFlags,
		"exceptions":             rs.Exceptions,
		"low_confidence":         rs.LowConfidence,
		"amount_matched":         r.TotalAmountMatched.StringFixed(2),
	}
}
