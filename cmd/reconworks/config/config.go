// Package config binds the CLI's viper settings to typed configuration.
package config

import (
	"io/fs"
	"strings"

	"reconworks/internal/matcher"
	"reconworks/pkg/errors"
	"reconworks/pkg/logger"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "RECONWORKS"

// Setting keys
const (
	KeyDatabasePath           = "database_path"
	KeyVendorAliasesPath      = "reference.vendor_aliases_path"
	KeyPolicyRulesPath        = "reference.policy_rules_path"
	KeyDateWindowDays         = "matching.date_window_days"
	KeyAmountToleranceCents   = "matching.amount_tolerance_cents"
	KeyMinScore               = "matching.min_score"
	KeyLowConfidenceThreshold = "matching.low_confidence_threshold"
	KeyVendorWeight           = "matching.vendor_weight"
	KeyDateWeight             = "matching.date_weight"
	KeyAmountWeight           = "matching.amount_weight"
	KeyWorkers                = "matching.workers"
	KeyLogLevel               = "log.level"
	KeyLogFormat              = "log.format"
)

// Config is the resolved CLI configuration
type Config struct {
	DatabasePath string
	Reference    ReferenceConfig
	Matching     MatchingConfig
	Log          LogConfig
}

// ReferenceConfig locates the reference rule sets
type ReferenceConfig struct {
	VendorAliasesPath string
	PolicyRulesPath   string
}

// MatchingConfig mirrors matcher.MatchingConfig with flat weight keys
type MatchingConfig struct {
	DateWindowDays         int
	AmountToleranceCents   int64
	MinScore               float64
	LowConfidenceThreshold float64
	VendorWeight           float64
	DateWeight             float64
	AmountWeight           float64
	Workers                int
}

// LogConfig selects the log level and formatter
type LogConfig struct {
	Level  string
	Format string
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	m := matcher.DefaultMatchingConfig()

	v.SetDefault(KeyDatabasePath, "out/sqlite/reconworks.db")
	v.SetDefault(KeyVendorAliasesPath, "data/reference/vendor_aliases.csv")
	v.SetDefault(KeyPolicyRulesPath, "data/reference/policy_rules.csv")
	v.SetDefault(KeyDateWindowDays, m.DateWindowDays)
	v.SetDefault(KeyAmountToleranceCents, m.AmountToleranceCents)
	v.SetDefault(KeyMinScore, m.MinScore)
	v.SetDefault(KeyLowConfidenceThreshold, m.LowConfidenceThreshold)
	v.SetDefault(KeyVendorWeight, m.Weights.Vendor)
	v.SetDefault(KeyDateWeight, m.Weights.Date)
	v.SetDefault(KeyAmountWeight, m.Weights.Amount)
	v.SetDefault(KeyWorkers, m.Workers)
	v.SetDefault(KeyLogLevel, string(logger.InfoLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
}

// BindEnv makes RECONWORKS_* variables override file settings. Nested keys
// map dots to underscores, so matching.min_score reads RECONWORKS_MATCHING_MIN_SCORE.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return errors.FileError(errors.CodeInvalidFormat, p, err)
		}
	}
	return nil
}

// ReadFile reads an explicit config file into v
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "config", path, err).
			WithSuggestion("Check the config file path and YAML syntax")
	}
	return nil
}

// Load resolves and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabasePath: v.GetString(KeyDatabasePath),
		Reference: ReferenceConfig{
			VendorAliasesPath: v.GetString(KeyVendorAliasesPath),
			PolicyRulesPath:   v.GetString(KeyPolicyRulesPath),
		},
		Matching: MatchingConfig{
			DateWindowDays:         v.GetInt(KeyDateWindowDays),
			AmountToleranceCents:   v.GetInt64(KeyAmountToleranceCents),
			MinScore:               v.GetFloat64(KeyMinScore),
			LowConfidenceThreshold: v.GetFloat64(KeyLowConfidenceThreshold),
			VendorWeight:           v.GetFloat64(KeyVendorWeight),
			DateWeight:             v.GetFloat64(KeyDateWeight),
			AmountWeight:           v.GetFloat64(KeyAmountWeight),
			Workers:                v.GetInt(KeyWorkers),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString(KeyLogLevel)),
			Format: strings.ToLower(v.GetString(KeyLogFormat)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "configuration", nil, err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.DatabasePath, validation.Required),
	); err != nil {
		return err
	}
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// Validate validates the matching configuration. Weights are range checked
// only; they are not required to sum to one.
func (c *MatchingConfig) Validate() error {
	unit := []validation.Rule{validation.Min(0.0), validation.Max(1.0)}
	return validation.ValidateStruct(c,
		validation.Field(&c.DateWindowDays, validation.Min(0)),
		validation.Field(&c.AmountToleranceCents, validation.Min(int64(0))),
		validation.Field(&c.MinScore, unit...),
		validation.Field(&c.LowConfidenceThreshold, unit...),
		validation.Field(&c.VendorWeight, unit...),
		validation.Field(&c.DateWeight, unit...),
		validation.Field(&c.AmountWeight, unit...),
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
	)
}

// Validate validates the log configuration
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.Required, validation.In(
			string(logger.DebugLevel), string(logger.InfoLevel), string(logger.WarnLevel), string(logger.ErrorLevel))),
		validation.Field(&c.Format, validation.Required, validation.In(
			string(logger.TextFormat), string(logger.JSONFormat))),
	)
}

// MatcherConfig converts to the matcher's configuration type
func (c *MatchingConfig) MatcherConfig() *matcher.MatchingConfig {
	return &matcher.MatchingConfig{
		DateWindowDays:         c.DateWindowDays,
		AmountToleranceCents:   c.AmountToleranceCents,
		MinScore:               c.MinScore,
		LowConfidenceThreshold: c.LowConfidenceThreshold,
		Weights: matcher.MatchingWeights{
			Vendor: c.VendorWeight,
			Date:   c.DateWeight,
			Amount: c.AmountWeight,
		},
		Workers: c.Workers,
	}
}

// LoggerConfig converts to a logger configuration writing to stderr
func (c *LogConfig) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:  logger.Level(c.Level),
		Format: logger.Format(c.Format),
		Output: logger.StderrOutput,
	}
}
