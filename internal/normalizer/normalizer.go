// Package normalizer turns free-text vendor strings into canonical vendor
// identities.
//
// Normalization is a pure function of the raw text and the ordered alias rule
// set: the raw string is reduced to a cleaned token string, every alias
// pattern is tried against both the raw and the cleaned text, and the first
// rule that matches wins. Without a matching rule the cleaned text itself,
// title-cased, becomes the canonical vendor.
package normalizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"reconworks/internal/models"
	"reconworks/pkg/logger"
)

// Method records how a canonical vendor was obtained
type Method string

const (
	MethodAlias    Method = "alias_regex"
	MethodFallback Method = "clean_fallback"
	MethodMissing  Method = "missing"
)

const (
	aliasConfidence    = 0.95
	fallbackConfidence = 0.60
)

// noiseTokens are dropped from cleaned vendor text
var noiseTokens = map[string]struct{}{
	"inc": {}, "llc": {}, "ltd": {}, "co": {}, "corp": {}, "company": {}, "the": {},
	"pos": {}, "debit": {}, "credit": {}, "purchase": {}, "online": {},
	"com": {}, "help": {}, "mktp": {}, "us": {}, "store": {}, "payment": {},
}

var (
	storeCodeRe   = regexp.MustCompile(`#\s*\d+`)
	nonAlnumRe    = regexp.MustCompile(`[^A-Za-z0-9]+`)
	digitTokenRe  = regexp.MustCompile(`\b\d+\b`)
	whitespaceRes = regexp.MustCompile(`\s+`)
)

// Result is the outcome of normalizing one vendor string. Canonical is empty
// when Method is MethodMissing.
type Result struct {
	Canonical  string  `json:"vendor_canonical"`
	Method     Method  `json:"vendor_norm_method"`
	Confidence float64 `json:"vendor_norm_confidence"`
	Notes      string  `json:"vendor_norm_notes"`
}

// Found reports whether a canonical vendor was produced
func (r Result) Found() bool {
	return r.Method != MethodMissing
}

// Rule is a compiled alias rule
type Rule struct {
	Pattern   string
	Canonical string
	re        *regexp.Regexp
}

// Normalizer applies an ordered, immutable alias rule set
type Normalizer struct {
	rules []Rule
}

// New compiles the alias rules case-insensitively. Rules with a blank pattern
// or canonical vendor, and patterns that do not compile, are skipped so that
// normalization always produces an answer.
func New(aliases []models.VendorAliasRule) *Normalizer {
	log := logger.GetGlobalLogger().WithComponent("normalizer")

	rules := make([]Rule, 0, len(aliases))
	for i, a := range aliases {
		pattern := strings.TrimSpace(a.Pattern)
		canonical := strings.TrimSpace(a.CanonicalVendor)
		if pattern == "" || canonical == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			log.WithFields(logger.Fields{
				"rule_index": i,
				"pattern":    pattern,
			}).WithError(err).Warn("Skipping alias rule with invalid pattern")
			continue
		}
		rules = append(rules, Rule{Pattern: pattern, Canonical: canonical, re: re})
	}

	return &Normalizer{rules: rules}
}

// Rules returns the compiled rules in evaluation order
func (n *Normalizer) Rules() []Rule {
	out := make([]Rule, len(n.rules))
	copy(out, n.rules)
	return out
}

// Normalize resolves one raw vendor string
func (n *Normalizer) Normalize(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{Method: MethodMissing, Notes: "vendor_raw empty"}
	}

	clean := Clean(raw)

	for _, rule := range n.rules {
		if rule.re.MatchString(raw) || (clean != "" && rule.re.MatchString(clean)) {
			return Result{
				Canonical:  rule.Canonical,
				Method:     MethodAlias,
				Confidence: aliasConfidence,
				Notes:      fmt.Sprintf("matched pattern: %s", rule.Pattern),
			}
		}
	}

	if clean != "" {
		return Result{
			Canonical:  TitleCase(clean),
			Method:     MethodFallback,
			Confidence: fallbackConfidence,
			Notes:      "no alias match; used cleaned vendor",
		}
	}

	return Result{Method: MethodMissing, Notes: "vendor_clean empty"}
}

// Normalize is a convenience wrapper compiling rules for a single lookup
func Normalize(raw string, aliases []models.VendorAliasRule) Result {
	return New(aliases).Normalize(raw)
}

// Clean reduces a messy vendor string to lowercase match tokens: anything
// after the first '*' is dropped, as are '#1234' store codes, punctuation,
// standalone numbers and noise words.
func Clean(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "*"); i >= 0 {
		s = s[:i]
	}
	s = storeCodeRe.ReplaceAllString(s, " ")
	s = nonAlnumRe.ReplaceAllString(s, " ")
	s = digitTokenRe.ReplaceAllString(s, " ")
	s = strings.ToLower(strings.TrimSpace(s))
	s = whitespaceRes.ReplaceAllString(s, " ")

	tokens := strings.Fields(s)
	kept := tokens[:0]
	for _, t := range tokens {
		if _, noise := noiseTokens[t]; noise {
			continue
		}
		kept = append(kept, t)
	}
	return strings.Join(kept, " ")
}

// TitleCase upper-cases every letter that follows a non-letter and
// lower-cases the rest ("7eleven madison" becomes "7Eleven Madison").
func TitleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
