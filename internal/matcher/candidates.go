package matcher

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"reconworks/internal/models"
	"reconworks/pkg/logger"
)

// BuildCandidates scores every transaction/payment pair that passes the
// blocking filter. Transactions and payments without a valid date or amount
// take no part. Output order follows transaction input order, then payment
// input order, regardless of the number of workers.
func BuildCandidates(ctx context.Context, batchID string, transactions, payments []models.FactRecord, config *MatchingConfig) ([]models.MatchCandidate, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	log := logger.GetGlobalLogger().WithComponent("matcher").WithField("batch_id", batchID)

	if len(transactions) == 0 || len(payments) == 0 {
		return []models.MatchCandidate{}, nil
	}

	index := NewPaymentIndex(payments)
	perTxn := make([][]models.MatchCandidate, len(transactions))

	if config.Workers <= 1 {
		for i := range transactions {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			perTxn[i] = candidatesForTransaction(batchID, &transactions[i], index, config)
		}
	} else {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(config.Workers)
		for i := range transactions {
			i := i
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return err
				}
				perTxn[i] = candidatesForTransaction(batchID, &transactions[i], index, config)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	total := 0
	for _, c := range perTxn {
		total += len(c)
	}
	candidates := make([]models.MatchCandidate, 0, total)
	for _, c := range perTxn {
		candidates = append(candidates, c...)
	}

	log.WithFields(logger.Fields{
		"transactions":         len(transactions),
		"indexed_payments":     index.Len(),
		"unmatchable_payments": index.Skipped(),
		"candidates":           len(candidates),
	}).Debug("Built match candidates")

	return candidates, nil
}

func candidatesForTransaction(batchID string, txn *models.FactRecord, index *PaymentIndex, config *MatchingConfig) []models.MatchCandidate {
	date, ok := txn.ParsedDate()
	if !ok || !txn.HasAmount() {
		return nil
	}
	amount := *txn.AmountCents

	hits := index.candidatesFor(date, amount, config)
	if len(hits) == 0 {
		return nil
	}

	out := make([]models.MatchCandidate, 0, len(hits))
	for _, p := range hits {
		vendorSim := VendorSimilarity(txn.VendorCanonical, p.record.VendorCanonical)
		dateDiff := daysBetween(date, p.date)
		amountDiff := p.amount - amount
		out = append(out, models.MatchCandidate{
			BatchID:         batchID,
			TxnID:           txn.ID,
			PayID:           p.record.ID,
			VendorSim:       vendorSim,
			DateDiffDays:    dateDiff,
			AmountDiffCents: amountDiff,
			Score:           Score(vendorSim, dateDiff, amountDiff, config),
		})
	}
	return out
}

// daysBetween returns the signed whole-day difference to - from
func daysBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}
