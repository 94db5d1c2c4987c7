package config

import (
	"os"
	"path/filepath"
	"testing"

	"reconworks/internal/matcher"
	"reconworks/pkg/errors"

	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabasePath != "out/sqlite/reconworks.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.Reference.VendorAliasesPath != "data/reference/vendor_aliases.csv" {
		t.Errorf("VendorAliasesPath = %q", cfg.Reference.VendorAliasesPath)
	}
	if cfg.Reference.PolicyRulesPath != "data/reference/policy_rules.csv" {
		t.Errorf("PolicyRulesPath = %q", cfg.Reference.PolicyRulesPath)
	}

	got := cfg.Matching.MatcherConfig()
	want := matcher.DefaultMatchingConfig()
	if *got != *want {
		t.Errorf("matching config = %s, want %s", got, want)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log config = %+v", cfg.Log)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RECONWORKS_DATABASE_PATH", "/tmp/other.db")
	t.Setenv("RECONWORKS_MATCHING_MIN_SCORE", "0.75")
	t.Setenv("RECONWORKS_MATCHING_WORKERS", "4")
	t.Setenv("RECONWORKS_LOG_LEVEL", "DEBUG")

	cfg, err := Load(newViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != "/tmp/other.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.Matching.MinScore != 0.75 {
		t.Errorf("MinScore = %v", cfg.Matching.MinScore)
	}
	if cfg.Matching.Workers != 4 {
		t.Errorf("Workers = %d", cfg.Matching.Workers)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconworks.yaml")
	content := `database_path: data/test.db
matching:
  date_window_days: 7
  amount_tolerance_cents: 100
reference:
  policy_rules_path: rules/policy.csv
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	v := newViper()
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabasePath != "data/test.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.Matching.DateWindowDays != 7 || cfg.Matching.AmountToleranceCents != 100 {
		t.Errorf("matching = %+v", cfg.Matching)
	}
	if cfg.Reference.PolicyRulesPath != "rules/policy.csv" {
		t.Errorf("PolicyRulesPath = %q", cfg.Reference.PolicyRulesPath)
	}
	if cfg.Reference.VendorAliasesPath != "data/reference/vendor_aliases.csv" {
		t.Errorf("VendorAliasesPath should keep its default, got %q", cfg.Reference.VendorAliasesPath)
	}
}

func TestReadFile_Missing(t *testing.T) {
	err := ReadFile(newViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Category != errors.CategoryConfiguration {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestReadFile_EmptyPath(t *testing.T) {
	if err := ReadFile(newViper(), ""); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		value       interface{}
		expectError bool
	}{
		{"negative window", KeyDateWindowDays, -1, true},
		{"zero window", KeyDateWindowDays, 0, false},
		{"negative tolerance", KeyAmountToleranceCents, -5, true},
		{"min score above one", KeyMinScore, 1.2, true},
		{"min score zero", KeyMinScore, 0.0, false},
		{"low confidence negative", KeyLowConfidenceThreshold, -0.1, true},
		{"weight above one", KeyVendorWeight, 1.5, true},
		{"weights need not sum to one", KeyDateWeight, 0.9, false},
		{"zero workers", KeyWorkers, 0, true},
		{"unknown log level", KeyLogLevel, "trace", true},
		{"json log format", KeyLogFormat, "json", false},
		{"unknown log format", KeyLogFormat, "xml", true},
		{"empty database path", KeyDatabasePath, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if err != nil {
				rerr, ok := errors.AsReconcilerError(err)
				if !ok || rerr.Code != errors.CodeInvalidConfig {
					t.Errorf("expected invalid_config error, got %v", err)
				}
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("RECONWORKS_TEST_DOTENV_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("RECONWORKS_TEST_DOTENV_KEY") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("RECONWORKS_TEST_DOTENV_KEY"); got != "from-dotenv" {
		t.Errorf("env = %q, want from-dotenv", got)
	}
}
