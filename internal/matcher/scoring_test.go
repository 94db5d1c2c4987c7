package matcher

import (
	"math"
	"testing"

	"reconworks/internal/models"
)

const floatTolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

func TestVendorSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Amazon", "Amazon", 1.0},
		{"case insensitive", "amazon", "AMAZON", 1.0},
		{"surrounding space", "  Amazon ", "amazon", 1.0},
		{"left empty", "", "Amazon", 0.0},
		{"right blank", "Amazon", "   ", 0.0},
		{"subset tokens", "Amazon Web Services", "Amazon", 1.0},
		{"reordered tokens", "Home Depot", "Depot Home", 1.0},
		{"disjoint", "abc", "xyz", 0.0},
		{"partial overlap", "Uber Trip", "Uber Eats", 2.0 / 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VendorSimilarity(tt.a, tt.b)
			if !almostEqual(got, tt.want) {
				t.Errorf("VendorSimilarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestTokenSetRatio_IgnoresCase(t *testing.T) {
	if got := TokenSetRatio("DELTA Air LINES", "delta air lines"); !almostEqual(got, 1.0) {
		t.Errorf("TokenSetRatio differing only in case = %f, want 1.0", got)
	}
	if got := TokenSetRatio("UBER Trip", "uber eats"); !almostEqual(got, 2.0/3.0) {
		t.Errorf("TokenSetRatio(%q, %q) = %f, want %f", "UBER Trip", "uber eats", got, 2.0/3.0)
	}
}

func TestTokenSetRatio_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"Uber Trip", "Uber Eats"},
		{"Starbucks Madison", "Starbucks Reserve Chicago"},
		{"Delta Air Lines", "Delta"},
	}
	for _, p := range pairs {
		ab := TokenSetRatio(p[0], p[1])
		ba := TokenSetRatio(p[1], p[0])
		if !almostEqual(ab, ba) {
			t.Errorf("TokenSetRatio not symmetric for %q/%q: %f vs %f", p[0], p[1], ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("TokenSetRatio(%q, %q) = %f, outside [0,1]", p[0], p[1], ab)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*MatchingConfig)
		vendorSim  float64
		dateDiff   int
		amountDiff int64
		want       float64
	}{
		{"perfect", nil, 1.0, 0, 0, 1.0},
		{"one day off in window of three", nil, 1.0, 1, 0, 0.9},
		{"negative date diff", nil, 1.0, -1, 0, 0.9},
		{"edge of window", nil, 0.5, 3, 0, 0.4},
		{"beyond window clamps to zero", nil, 0.5, 5, 0, 0.4},
		{"amount mismatch without tolerance", nil, 1.0, 0, 1, 0.9},
		{"closed date window same day", func(c *MatchingConfig) { c.DateWindowDays = 0 }, 1.0, 0, 0, 1.0},
		{"closed date window other day", func(c *MatchingConfig) { c.DateWindowDays = 0 }, 1.0, 1, 0, 0.7},
		{"half tolerance", func(c *MatchingConfig) { c.AmountToleranceCents = 100 }, 1.0, 0, -50, 0.95},
		{"rounded to six places", nil, 0.123456789, 0, 0, 0.474074},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			if tt.modify != nil {
				tt.modify(config)
			}
			got := Score(tt.vendorSim, tt.dateDiff, tt.amountDiff, config)
			if !almostEqual(got, tt.want) {
				t.Errorf("Score() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestClassifyMatch(t *testing.T) {
	tests := []struct {
		name       string
		vendorSim  float64
		dateDiff   int
		amountDiff int64
		want       models.MatchType
	}{
		{"exact", 1.0, 0, 0, models.MatchExact},
		{"exact at similarity floor", 0.999, 0, 0, models.MatchExact},
		{"one day later", 1.0, 1, 0, models.MatchDateWindow},
		{"one day earlier", 1.0, -1, 0, models.MatchDateWindow},
		{"two days with same vendor", 1.0, 2, 0, models.MatchVendorFuzzy},
		{"fuzzy vendor", 0.92, 0, 0, models.MatchVendorFuzzy},
		{"fuzzy vendor far date", 0.90, 3, 0, models.MatchVendorFuzzy},
		{"amount differs", 1.0, 0, 5, models.MatchWeak},
		{"weak vendor", 0.5, 0, 0, models.MatchWeak},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyMatch(tt.vendorSim, tt.dateDiff, tt.amountDiff)
			if got != tt.want {
				t.Errorf("ClassifyMatch() = %s, want %s", got, tt.want)
			}
		})
	}
}
