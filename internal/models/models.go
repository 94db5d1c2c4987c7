// Package models defines the batch-scoped records that flow through a
// reconciliation run: fact records in, candidates, matches, QA flags and
// exceptions out.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the ISO date layout used for every fact and output date.
const DateLayout = "2006-01-02"

// RecordType identifies which fact stream a record belongs to
type RecordType string

const (
	// RecordTypeTransaction marks ledger transactions
	RecordTypeTransaction RecordType = "transactions"
	// RecordTypeVendorPayment marks vendor payments
	RecordTypeVendorPayment RecordType = "vendor_payments"
)

// String returns the string representation of RecordType
func (r RecordType) String() string {
	return string(r)
}

// IDColumn returns the name the record id carries in tables and policy rules.
func (r RecordType) IDColumn() string {
	if r == RecordTypeVendorPayment {
		return "pay_id"
	}
	return "txn_id"
}

// Severity tags flags and exceptions
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityError
}

// MatchType classifies an accepted match
type MatchType string

const (
	MatchExact       MatchType = "exact"
	MatchDateWindow  MatchType = "date_window"
	MatchVendorFuzzy MatchType = "vendor_fuzzy"
	MatchWeak        MatchType = "weak"
)

// String returns the string representation of MatchType
func (m MatchType) String() string {
	return string(m)
}

// FactRecord is a fully parsed transaction or vendor payment. Date is an ISO
// date or empty when the source value could not be parsed; AmountCents is nil
// when the amount is missing.
type FactRecord struct {
	ID              string `json:"id"`
	BatchID         string `json:"batch_id"`
	Date            string `json:"date"`
	AmountCents     *int64 `json:"amount_cents"`
	VendorCanonical string `json:"vendor_canonical"`
	VendorID        string `json:"vendor_id"`
	RowHash         string `json:"row_hash"`
	SourceFile      string `json:"source_file"`
	SourceRowNumber int    `json:"source_row_number"`
	IsWeekend       bool   `json:"is_weekend"`
	Month           string `json:"month"`
	Currency        string `json:"currency"`
	VendorRaw       string `json:"vendor_raw"`
}

// Cents returns a pointer to v, for building FactRecord.AmountCents.
func Cents(v int64) *int64 {
	return &v
}

// HasAmount reports whether the record carries an amount
func (f *FactRecord) HasAmount() bool {
	return f.AmountCents != nil
}

// ParsedDate returns the record date and whether it is a valid ISO date
func (f *FactRecord) ParsedDate() (time.Time, bool) {
	d := strings.TrimSpace(f.Date)
	if d == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, d)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Derive fills the columns computed at projection time: vendor id, month and
// the weekend marker. It never changes the matching inputs themselves.
func (f *FactRecord) Derive() {
	f.VendorID = VendorID(f.VendorCanonical)
	f.Month = ""
	f.IsWeekend = false
	if t, ok := f.ParsedDate(); ok {
		f.Month = t.Format("2006-01")
		f.IsWeekend = t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
	}
	if f.Currency == "" {
		f.Currency = "USD"
	}
}

// Field returns the textual value of a named column for policy evaluation.
// The second result is false when the record has no such column. A missing
// amount is returned as the empty string.
func (f *FactRecord) Field(kind RecordType, name string) (string, bool) {
	switch name {
	case kind.IDColumn():
		return f.ID, true
	case "batch_id":
		return f.BatchID, true
	case "date":
		return f.Date, true
	case "month":
		return f.Month, true
	case "amount_cents":
		if f.AmountCents == nil {
			return "", true
		}
		return strconv.FormatInt(*f.AmountCents, 10), true
	case "vendor_canonical":
		return f.VendorCanonical, true
	case "vendor_id":
		return f.VendorID, true
	case "vendor_raw":
		return f.VendorRaw, true
	case "currency":
		return f.Currency, true
	case "row_hash":
		return f.RowHash, true
	case "source_file":
		return f.SourceFile, true
	case "source_row_number":
		return strconv.Itoa(f.SourceRowNumber), true
	case "is_weekend":
		if f.IsWeekend {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}

// String returns a string representation of the FactRecord
func (f *FactRecord) String() string {
	amount := "null"
	if f.AmountCents != nil {
		amount = strconv.FormatInt(*f.AmountCents, 10)
	}
	return fmt.Sprintf("Fact{ID: %s, Vendor: %q, Date: %s, AmountCents: %s}", f.ID, f.VendorCanonical, f.Date, amount)
}

// VendorID derives the stable vendor identity for a canonical vendor name.
// An empty canonical vendor has no identity.
func VendorID(canonical string) string {
	c := strings.ToLower(strings.TrimSpace(canonical))
	if c == "" {
		return ""
	}
	return SHA256Hex("vendor|" + c)
}

// SHA256Hex returns the lowercase hex sha256 digest of s
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// VendorAliasRule maps a case-insensitive pattern to a canonical vendor
type VendorAliasRule struct {
	Pattern         string `json:"pattern"`
	CanonicalVendor string `json:"canonical_vendor"`
}

// AppliesTo scopes a policy rule to one or both fact streams
type AppliesTo string

const (
	AppliesToTransactions   AppliesTo = "transactions"
	AppliesToVendorPayments AppliesTo = "vendor_payments"
	AppliesToBoth           AppliesTo = "both"
)

// Covers reports whether the scope includes the given record type
func (a AppliesTo) Covers(kind RecordType) bool {
	return a == AppliesToBoth || string(a) == string(kind)
}

// PolicyRule is a user supplied check of the form `field <op> value`
type PolicyRule struct {
	FlagCode  string    `json:"flag_code"`
	Field     string    `json:"field"`
	Operator  string    `json:"op"`
	Value     string    `json:"value"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	AppliesTo AppliesTo `json:"applies_to"`
}

// MatchCandidate is one scored transaction/payment pair inside the blocking window
type MatchCandidate struct {
	BatchID         string  `json:"batch_id"`
	TxnID           string  `json:"txn_id"`
	PayID           string  `json:"pay_id"`
	VendorSim       float64 `json:"vendor_sim"`
	DateDiffDays    int     `json:"date_diff_days"`
	AmountDiffCents int64   `json:"amount_diff_cents"`
	Score           float64 `json:"score"`
}

// Match is an accepted one-to-one pairing
type Match struct {
	BatchID         string    `json:"batch_id"`
	TxnID           string    `json:"txn_id"`
	PayID           string    `json:"pay_id"`
	Score           float64   `json:"match_score"`
	MatchType       MatchType `json:"match_type"`
	VendorSim       float64   `json:"vendor_sim"`
	DateDiffDays    int       `json:"date_diff_days"`
	AmountDiffCents int64     `json:"amount_diff_cents"`
	MatchedAt       time.Time `json:"matched_at_utc"`
}

// QAFlag is one data-quality finding on one fact record
type QAFlag struct {
	BatchID         string     `json:"batch_id"`
	RecordType      RecordType `json:"record_type"`
	RecordID        string     `json:"record_id"`
	FlagCode        string     `json:"flag_code"`
	Severity        Severity   `json:"severity"`
	Message         string     `json:"message"`
	VendorCanonical string     `json:"vendor_canonical"`
	VendorID        string     `json:"vendor_id"`
	Date            string     `json:"date"`
	AmountCents     *int64     `json:"amount_cents"`
	SourceFile      string     `json:"source_file"`
	SourceRowNumber int        `json:"source_row_number"`
	RowHash         string     `json:"row_hash"`
	CreatedAt       time.Time  `json:"created_at_utc"`
}

// Exception is a unified, actionable review item
type Exception struct {
	BatchID           string     `json:"batch_id"`
	ExceptionID       string     `json:"exception_id"`
	RecordType        RecordType `json:"record_type"`
	RecordID          string     `json:"record_id"`
	RelatedRecordID   string     `json:"related_record_id"`
	ExceptionCode     string     `json:"exception_code"`
	Severity          Severity   `json:"severity"`
	Message           string     `json:"message"`
	RecommendedAction string     `json:"recommended_action"`
	VendorCanonical   string     `json:"vendor_canonical"`
	VendorID          string     `json:"vendor_id"`
	Date              string     `json:"date"`
	AmountCents       *int64     `json:"amount_cents"`
	CreatedAt         time.Time  `json:"created_at_utc"`
}
