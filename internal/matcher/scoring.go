package matcher

import (
	"math"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"reconworks/internal/models"
)

// VendorSimilarity compares two canonical vendor names. Equal names
// (ignoring case) score 1.0, a missing name scores 0.0, anything else falls
// back to the token set ratio.
func VendorSimilarity(a, b string) float64 {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return 0.0
	}
	if strings.EqualFold(a, b) {
		return 1.0
	}
	return TokenSetRatio(a, b)
}

// TokenSetRatio is an order-independent similarity in [0, 1] over the
// lowercased whitespace tokens of a and b. When one token set contains the
// other the ratio is 1.0, so extra descriptive tokens on one side do not
// penalize a match. Tokens are lowercased before comparison, so the ratio is
// case-insensitive: "AMAZON" and "amazon" score 1.0, unlike a plain
// token-set ratio without a preprocessor.
func TokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	var common, onlyA, onlyB []string
	for tok := range setA {
		if setB[tok] {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			onlyB = append(onlyB, tok)
		}
	}

	if len(common) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 1.0
	}

	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	sectA := joinNonEmpty(sect, strings.Join(onlyA, " "))
	sectB := joinNonEmpty(sect, strings.Join(onlyB, " "))

	best := indelRatio(sectA, sectB)
	if sect != "" {
		best = math.Max(best, indelRatio(sect, sectA))
		best = math.Max(best, indelRatio(sect, sectB))
	}
	return best
}

// indelRatio is 1 - indel distance / total length, where a substitution
// costs one deletion plus one insertion.
func indelRatio(a, b string) float64 {
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

// Score blends the three similarities into the composite candidate score,
// rounded to 6 decimal places so ordering is stable across runs.
func Score(vendorSim float64, dateDiffDays int, amountDiffCents int64, config *MatchingConfig) float64 {
	dateSim := proximity(float64(absInt(dateDiffDays)), float64(config.DateWindowDays))
	amountSim := proximity(float64(absInt64(amountDiffCents)), float64(config.AmountToleranceCents))

	score := config.Weights.Vendor*vendorSim +
		config.Weights.Date*dateSim +
		config.Weights.Amount*amountSim
	return roundTo(score, 6)
}

// proximity is binary when the window is closed, linear decay otherwise
func proximity(diff, window float64) float64 {
	if window <= 0 {
		if diff == 0 {
			return 1.0
		}
		return 0.0
	}
	return math.Max(0.0, 1.0-diff/window)
}

// ClassifyMatch labels an accepted match by how closely its parts agree
func ClassifyMatch(vendorSim float64, dateDiffDays int, amountDiffCents int64) models.MatchType {
	switch {
	case vendorSim >= 0.999 && dateDiffDays == 0 && amountDiffCents == 0:
		return models.MatchExact
	case vendorSim >= 0.999 && amountDiffCents == 0 && absInt(dateDiffDays) <= 1:
		return models.MatchDateWindow
	case vendorSim >= 0.90 && amountDiffCents == 0:
		return models.MatchVendorFuzzy
	default:
		return models.MatchWeak
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
