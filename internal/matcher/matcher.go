package matcher

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"reconworks/internal/models"
)

// ChooseMatches greedily selects one-to-one matches from scored candidates.
//
// Candidates are ranked by score, then vendor similarity, both descending;
// among full ties the earlier candidate wins. The scan stops at the first
// score below minScore. A candidate is accepted only if neither its
// transaction nor its payment was taken by a higher-ranked match. This is a
// greedy approximation of maximum-weight bipartite matching, not an optimal
// assignment. The input slice is not modified.
func ChooseMatches(candidates []models.MatchCandidate, minScore float64, matchedAt time.Time) []models.Match {
	ranked := make([]models.MatchCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].VendorSim > ranked[j].VendorSim
	})

	usedTxn := make(map[string]bool)
	usedPay := make(map[string]bool)
	matches := []models.Match{}

	for _, c := range ranked {
		if c.Score < minScore {
			break
		}
		if usedTxn[c.TxnID] || usedPay[c.PayID] {
			continue
		}
		usedTxn[c.TxnID] = true
		usedPay[c.PayID] = true

		matches = append(matches, models.Match{
			BatchID:         c.BatchID,
			TxnID:           c.TxnID,
			PayID:           c.PayID,
			Score:           c.Score,
			MatchType:       ClassifyMatch(c.VendorSim, c.DateDiffDays, c.AmountDiffCents),
			VendorSim:       c.VendorSim,
			DateDiffDays:    c.DateDiffDays,
			AmountDiffCents: c.AmountDiffCents,
			MatchedAt:       matchedAt,
		})
	}

	return matches
}

// LowConfidence returns the matches scoring below threshold
func LowConfidence(matches []models.Match, threshold float64) []models.Match {
	var out []models.Match
	for _, m := range matches {
		if m.Score < threshold {
			out = append(out, m)
		}
	}
	return out
}

// ReconciliationResult is the outcome of matching one batch
type ReconciliationResult struct {
	Matches               []models.Match
	UnmatchedTransactions []models.FactRecord
	UnmatchedPayments     []models.FactRecord
	Summary               ReconciliationSummary
}

// ReconciliationSummary provides aggregate statistics about a matching run.
// Amounts are in currency units.
type ReconciliationSummary struct {
	TotalTransactions     int
	TotalPayments         int
	MatchedTransactions   int
	UnmatchedTransactions int
	UnmatchedPayments     int
	ExactMatches          int
	DateWindowMatches     int
	VendorFuzzyMatches    int
	WeakMatches           int
	TotalAmountMatched    decimal.Decimal
	UnmatchedTxnAmount    decimal.Decimal
	UnmatchedPayAmount    decimal.Decimal
}

// MatchRate returns the share of transactions that were matched
func (s ReconciliationSummary) MatchRate() float64 {
	if s.TotalTransactions == 0 {
		return 0
	}
	return float64(s.MatchedTransactions) / float64(s.TotalTransactions)
}

// Summarize splits facts into matched and unmatched and aggregates counts and
// totals. Unmatched facts keep their input order.
func Summarize(transactions, payments []models.FactRecord, matches []models.Match) *ReconciliationResult {
	matchedTxn := make(map[string]bool, len(matches))
	matchedPay := make(map[string]bool, len(matches))
	for _, m := range matches {
		matchedTxn[m.TxnID] = true
		matchedPay[m.PayID] = true
	}

	result := &ReconciliationResult{
		Matches:               matches,
		UnmatchedTransactions: []models.FactRecord{},
		UnmatchedPayments:     []models.FactRecord{},
	}
	summary := ReconciliationSummary{
		TotalTransactions:  len(transactions),
		TotalPayments:      len(payments),
		TotalAmountMatched: decimal.Zero,
		UnmatchedTxnAmount: decimal.Zero,
		UnmatchedPayAmount: decimal.Zero,
	}

	for _, t := range transactions {
		if matchedTxn[t.ID] {
			summary.MatchedTransactions++
			summary.TotalAmountMatched = summary.TotalAmountMatched.Add(centsToDecimal(t.AmountCents))
			continue
		}
		result.UnmatchedTransactions = append(result.UnmatchedTransactions, t)
		summary.UnmatchedTxnAmount = summary.UnmatchedTxnAmount.Add(centsToDecimal(t.AmountCents))
	}

	for _, p := range payments {
		if matchedPay[p.ID] {
			continue
		}
		result.UnmatchedPayments = append(result.UnmatchedPayments, p)
		summary.UnmatchedPayAmount = summary.UnmatchedPayAmount.Add(centsToDecimal(p.AmountCents))
	}

	for _, m := range matches {
		switch m.MatchType {
		case models.MatchExact:
			summary.ExactMatches++
		case models.MatchDateWindow:
			summary.DateWindowMatches++
		case models.MatchVendorFuzzy:
			summary.VendorFuzzyMatches++
		default:
			summary.WeakMatches++
		}
	}

	summary.UnmatchedTransactions = len(result.UnmatchedTransactions)
	summary.UnmatchedPayments = len(result.UnmatchedPayments)
	result.Summary = summary
	return result
}

func centsToDecimal(cents *int64) decimal.Decimal {
	if cents == nil {
		return decimal.Zero
	}
	return decimal.New(*cents, -2)
}
