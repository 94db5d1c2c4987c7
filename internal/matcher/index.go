package matcher

import (
	"sort"
	"time"

	"reconworks/internal/models"
)

// PaymentIndex holds the matchable vendor payments of a batch sorted by date,
// so the blocking filter can scan only the date window of each transaction.
type PaymentIndex struct {
	entries []paymentEntry
	skipped int
}

// paymentEntry is one payment with its parsed blocking keys. pos is the
// payment's position in the input slice.
type paymentEntry struct {
	pos    int
	record *models.FactRecord
	date   time.Time
	amount int64
}

// NewPaymentIndex indexes payments that carry both a valid date and an
// amount. Payments missing either are left out of matching entirely.
func NewPaymentIndex(payments []models.FactRecord) *PaymentIndex {
	index := &PaymentIndex{entries: make([]paymentEntry, 0, len(payments))}

	for i := range payments {
		p := &payments[i]
		date, ok := p.ParsedDate()
		if !ok || !p.HasAmount() {
			index.skipped++
			continue
		}
		index.entries = append(index.entries, paymentEntry{
			pos:    i,
			record: p,
			date:   date,
			amount: *p.AmountCents,
		})
	}

	sort.SliceStable(index.entries, func(i, j int) bool {
		return index.entries[i].date.Before(index.entries[j].date)
	})

	return index
}

// Len returns the number of indexed payments
func (pi *PaymentIndex) Len() int {
	return len(pi.entries)
}

// Skipped returns the number of payments left out for a missing date or amount
func (pi *PaymentIndex) Skipped() int {
	return pi.skipped
}

// candidatesFor returns the payments that pass the blocking filter for a
// transaction dated date with amount cents, in input order.
func (pi *PaymentIndex) candidatesFor(date time.Time, amount int64, config *MatchingConfig) []paymentEntry {
	lo, hi := date, date
	if config.DateWindowDays > 0 {
		lo = date.AddDate(0, 0, -config.DateWindowDays)
		hi = date.AddDate(0, 0, config.DateWindowDays)
	}

	start := sort.Search(len(pi.entries), func(i int) bool {
		return !pi.entries[i].date.Before(lo)
	})

	var hits []paymentEntry
	for i := start; i < len(pi.entries) && !pi.entries[i].date.After(hi); i++ {
		e := pi.entries[i]
		if withinTolerance(e.amount-amount, config.AmountToleranceCents) {
			hits = append(hits, e)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].pos < hits[j].pos
	})
	return hits
}

func withinTolerance(diff, tolerance int64) bool {
	if tolerance <= 0 {
		return diff == 0
	}
	return absInt64(diff) <= tolerance
}
