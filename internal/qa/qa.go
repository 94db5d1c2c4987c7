// Package qa derives data-quality flags from the fact records of one batch.
//
// Each check runs independently per record kind and flags additively, so a
// record can carry several flags. The result is a pure function of the facts
// and the policy rules: flags are de-duplicated per record and code, then
// sorted by record type, record id and flag code.
package qa

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"reconworks/internal/models"
	"reconworks/pkg/logger"
)

// Built-in flag codes
const (
	FlagMissingVendor      = "MISSING_VENDOR"
	FlagMissingDate        = "MISSING_DATE"
	FlagMissingAmount      = "MISSING_AMOUNT"
	FlagDuplicateLikely    = "DUPLICATE_LIKELY"
	FlagWeekendTransaction = "WEEKEND_TRANSACTION"
	FlagAmountOutlier      = "AMOUNT_OUTLIER"
)

// flagSet accumulates flags for one batch
type flagSet struct {
	batchID   string
	createdAt time.Time
	seen      map[string]bool
	flags     []models.QAFlag
}

func (fs *flagSet) add(kind models.RecordType, rec *models.FactRecord, code string, severity models.Severity, message string) {
	key := string(kind) + "|" + rec.ID + "|" + code
	if fs.seen[key] {
		return
	}
	fs.seen[key] = true

	fs.flags = append(fs.flags, models.QAFlag{
		BatchID:         fs.batchID,
		RecordType:      kind,
		RecordID:        rec.ID,
		FlagCode:        code,
		Severity:        severity,
		Message:         message,
		VendorCanonical: rec.VendorCanonical,
		VendorID:        rec.VendorID,
		Date:            rec.Date,
		AmountCents:     rec.AmountCents,
		SourceFile:      rec.SourceFile,
		SourceRowNumber: rec.SourceRowNumber,
		RowHash:         rec.RowHash,
		CreatedAt:       fs.createdAt,
	})
}

// Evaluate runs every check over both fact sets and returns the flags for
// the batch. createdAt stamps every flag.
func Evaluate(batchID string, transactions, payments []models.FactRecord, rules []models.PolicyRule, createdAt time.Time) []models.QAFlag {
	log := logger.GetGlobalLogger().WithComponent("qa").WithField("batch_id", batchID)

	fs := &flagSet{
		batchID:   batchID,
		createdAt: createdAt,
		seen:      make(map[string]bool),
		flags:     []models.QAFlag{},
	}

	kinds := []struct {
		kind    models.RecordType
		records []models.FactRecord
	}{
		{models.RecordTypeTransaction, transactions},
		{models.RecordTypeVendorPayment, payments},
	}

	for _, k := range kinds {
		checkMissingFields(fs, k.kind, k.records)
		checkDuplicates(fs, k.kind, k.records)
		if k.kind == models.RecordTypeTransaction {
			checkWeekend(fs, k.kind, k.records)
		}
		checkOutliers(fs, k.kind, k.records)
		applyPolicyRules(fs, k.kind, k.records, rules, log)
	}

	order := map[models.RecordType]int{models.RecordTypeTransaction: 0, models.RecordTypeVendorPayment: 1}
	sort.SliceStable(fs.flags, func(i, j int) bool {
		a, b := fs.flags[i], fs.flags[j]
		if a.RecordType != b.RecordType {
			return order[a.RecordType] < order[b.RecordType]
		}
		if a.RecordID != b.RecordID {
			return a.RecordID < b.RecordID
		}
		return a.FlagCode < b.FlagCode
	})

	log.WithFields(logger.Fields{
		"transactions": len(transactions),
		"payments":     len(payments),
		"rules":        len(rules),
		"flags":        len(fs.flags),
	}).Debug("Evaluated QA checks")

	return fs.flags
}

func checkMissingFields(fs *flagSet, kind models.RecordType, records []models.FactRecord) {
	for i := range records {
		rec := &records[i]
		if strings.TrimSpace(rec.VendorCanonical) == "" {
			fs.add(kind, rec, FlagMissingVendor, models.SeverityError, "Missing vendor after normalization.")
		}
		if strings.TrimSpace(rec.Date) == "" {
			fs.add(kind, rec, FlagMissingDate, models.SeverityError, "Missing parsed date.")
		}
		if rec.AmountCents == nil {
			fs.add(kind, rec, FlagMissingAmount, models.SeverityError, "Missing parsed amount_cents.")
		}
	}
}

// checkDuplicates groups by vendor id, date and amount. Records without a
// date or amount take no part.
func checkDuplicates(fs *flagSet, kind models.RecordType, records []models.FactRecord) {
	type dupKey struct {
		vendorID string
		date     string
		amount   int64
	}

	groups := make(map[dupKey]int)
	keyOf := func(rec *models.FactRecord) (dupKey, bool) {
		if strings.TrimSpace(rec.Date) == "" || rec.AmountCents == nil {
			return dupKey{}, false
		}
		return dupKey{vendorID: rec.VendorID, date: rec.Date, amount: *rec.AmountCents}, true
	}

	for i := range records {
		if k, ok := keyOf(&records[i]); ok {
			groups[k]++
		}
	}
	for i := range records {
		rec := &records[i]
		if k, ok := keyOf(rec); ok && groups[k] > 1 {
			fs.add(kind, rec, FlagDuplicateLikely, models.SeverityWarning, "Potential duplicate: same vendor, date, and amount.")
		}
	}
}

func checkWeekend(fs *flagSet, kind models.RecordType, records []models.FactRecord) {
	for i := range records {
		if records[i].IsWeekend {
			fs.add(kind, &records[i], FlagWeekendTransaction, models.SeverityInfo, "Transaction date is on a weekend.")
		}
	}
}

func checkOutliers(fs *flagSet, kind models.RecordType, records []models.FactRecord) {
	amounts := make([]int64, 0, len(records))
	for i := range records {
		if records[i].AmountCents != nil {
			amounts = append(amounts, *records[i].AmountCents)
		}
	}
	if len(amounts) == 0 {
		return
	}

	threshold := OutlierThreshold(amounts)
	message := fmt.Sprintf("Amount is unusually high (threshold: %d cents).", int64(threshold))
	for i := range records {
		rec := &records[i]
		if rec.AmountCents != nil && float64(*rec.AmountCents) > threshold {
			fs.add(kind, rec, FlagAmountOutlier, models.SeverityWarning, message)
		}
	}
}
