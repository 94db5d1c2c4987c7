package normalizer

import (
	"testing"

	"reconworks/internal/models"
)

func TestClean(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"STARBUCKS #04921 MADISON", "starbucks madison"},
		{"AMZN Mktp US*2H3K21", "amzn"},
		{"UBER TRIP HELP.UBER.COM", "uber trip uber"},
		{"The Home Depot Inc. #123", "home depot"},
		{"7ELEVEN 22 STORE", "7eleven"},
		{"POS DEBIT PURCHASE", ""},
		{"   ", ""},
		{"", ""},
		{"*ONLY CODE", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := Clean(tt.raw); got != tt.expected {
				t.Errorf("Clean(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestTitleCase(t *testing.T) {
	tests := map[string]string{
		"starbucks madison": "Starbucks Madison",
		"7eleven":           "7Eleven",
		"uber trip uber":    "Uber Trip Uber",
		"":                  "",
	}
	for in, want := range tests {
		if got := TitleCase(in); got != want {
			t.Errorf("TitleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	rules := []models.VendorAliasRule{
		{Pattern: ".*AMZN.*", CanonicalVendor: "Amazon"},
		{Pattern: "uber", CanonicalVendor: "Uber"},
	}

	tests := []struct {
		name       string
		raw        string
		canonical  string
		method     Method
		confidence float64
		notes      string
	}{
		{"alias on raw", "AMZN Mktp US*2H3K21", "Amazon", MethodAlias, 0.95, "matched pattern: .*AMZN.*"},
		{"alias case insensitive", "Uber Trip HELP.UBER.COM", "Uber", MethodAlias, 0.95, "matched pattern: uber"},
		{"fallback", "STARBUCKS #04921 MADISON", "Starbucks Madison", MethodFallback, 0.60, "no alias match; used cleaned vendor"},
		{"empty raw", "  ", "", MethodMissing, 0.0, "vendor_raw empty"},
		{"clean empty", "POS DEBIT #991", "", MethodMissing, 0.0, "vendor_clean empty"},
	}

	n := New(rules)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.raw)
			if got.Canonical != tt.canonical || got.Method != tt.method ||
				got.Confidence != tt.confidence || got.Notes != tt.notes {
				t.Errorf("Normalize(%q) = %+v, want {%s %s %v %s}",
					tt.raw, got, tt.canonical, tt.method, tt.confidence, tt.notes)
			}
			if got.Found() != (tt.method != MethodMissing) {
				t.Errorf("Found() = %v for method %s", got.Found(), got.Method)
			}
		})
	}
}

func TestNormalize_FirstRuleWins(t *testing.T) {
	rules := []models.VendorAliasRule{
		{Pattern: "AMAZON|AMZN", CanonicalVendor: "Amazon"},
		{Pattern: "AMZN", CanonicalVendor: "Amazon Marketplace"},
	}
	if got := Normalize("AMZN Mktp US", rules); got.Canonical != "Amazon" {
		t.Errorf("expected first rule to win, got %q", got.Canonical)
	}
}

func TestNormalize_MatchesCleanedText(t *testing.T) {
	// "starbucks madison" only appears after store codes and casing are cleaned.
	rules := []models.VendorAliasRule{{Pattern: "^starbucks madison$", CanonicalVendor: "Starbucks"}}
	if got := Normalize("STARBUCKS #04921 MADISON", rules); got.Method != MethodAlias {
		t.Errorf("expected alias match on cleaned text, got %+v", got)
	}
}

func TestNew_SkipsBadRules(t *testing.T) {
	n := New([]models.VendorAliasRule{
		{Pattern: "(?<=x)amzn", CanonicalVendor: "Broken"},
		{Pattern: "", CanonicalVendor: "Blank"},
		{Pattern: "netflix", CanonicalVendor: "  "},
		{Pattern: "starbucks", CanonicalVendor: "Starbucks"},
	})

	rules := n.Rules()
	if len(rules) != 1 || rules[0].Canonical != "Starbucks" {
		t.Fatalf("expected only the valid rule to survive, got %+v", rules)
	}
	if got := n.Normalize("STARBUCKS #1"); got.Canonical != "Starbucks" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	rules := []models.VendorAliasRule{{Pattern: "AMZN", CanonicalVendor: "Amazon"}}
	inputs := []string{"AMZN Mktp US*2H3K21", "STARBUCKS #04921 MADISON", "", "POS"}

	n := New(rules)
	for _, in := range inputs {
		if a, b := n.Normalize(in), n.Normalize(in); a != b {
			t.Errorf("Normalize(%q) not deterministic: %+v vs %+v", in, a, b)
		}
	}
}

func TestNormalize_IdempotentOnCanonicalForms(t *testing.T) {
	rules := []models.VendorAliasRule{{Pattern: "AMZN|AMAZON", CanonicalVendor: "Amazon"}}
	n := New(rules)

	for _, raw := range []string{"AMZN Mktp US*2H3K21", "STARBUCKS #04921 MADISON", "uber trip help.uber.com"} {
		first := n.Normalize(raw)
		second := n.Normalize(first.Canonical)
		if second.Canonical != first.Canonical {
			t.Errorf("re-normalizing %q changed %q to %q", raw, first.Canonical, second.Canonical)
		}
	}
}

func TestNormalizeAll(t *testing.T) {
	n := New([]models.VendorAliasRule{{Pattern: "AMZN", CanonicalVendor: "Amazon"}})

	rows, stats := n.NormalizeAll([]string{"AMZN Mktp US", "STARBUCKS #1 MADISON", ""})
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1].Clean != "starbucks madison" {
		t.Errorf("unexpected clean value %q", rows[1].Clean)
	}
	if stats.Total != 3 || stats.AliasMatches != 1 || stats.Fallbacks != 1 || stats.Missing != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.NoMatch() != 2 {
		t.Errorf("expected 2 rows without alias match, got %d", stats.NoMatch())
	}
}
