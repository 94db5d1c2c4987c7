package matcher

import (
	"testing"
)

func TestDefaultMatchingConfig(t *testing.T) {
	config := DefaultMatchingConfig()

	if config.DateWindowDays != 3 {
		t.Errorf("Expected DateWindowDays 3, got %d", config.DateWindowDays)
	}
	if config.AmountToleranceCents != 0 {
		t.Errorf("Expected AmountToleranceCents 0, got %d", config.AmountToleranceCents)
	}
	if config.MinScore != 0.80 {
		t.Errorf("Expected MinScore 0.80, got %f", config.MinScore)
	}
	if config.LowConfidenceThreshold != 0.90 {
		t.Errorf("Expected LowConfidenceThreshold 0.90, got %f", config.LowConfidenceThreshold)
	}
	if config.Weights.Vendor != 0.6 || config.Weights.Date != 0.3 || config.Weights.Amount != 0.1 {
		t.Errorf("Unexpected default weights: %+v", config.Weights)
	}
	if config.Workers != 1 {
		t.Errorf("Expected Workers 1, got %d", config.Workers)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestPresetConfigsAreValid(t *testing.T) {
	presets := map[string]*MatchingConfig{
		"default": DefaultMatchingConfig(),
		"strict":  StrictMatchingConfig(),
		"relaxed": RelaxedMatchingConfig(),
	}
	for name, config := range presets {
		if err := config.Validate(); err != nil {
			t.Errorf("%s config should be valid: %v", name, err)
		}
	}

	if StrictMatchingConfig().MinScore <= DefaultMatchingConfig().MinScore {
		t.Error("Strict config should require a higher minimum score than default")
	}
	if RelaxedMatchingConfig().DateWindowDays <= DefaultMatchingConfig().DateWindowDays {
		t.Error("Relaxed config should use a wider date window than default")
	}
}

func TestMatchingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*MatchingConfig)
		wantErr bool
	}{
		{"valid", func(c *MatchingConfig) {}, false},
		{"zero window", func(c *MatchingConfig) { c.DateWindowDays = 0 }, false},
		{"negative window", func(c *MatchingConfig) { c.DateWindowDays = -1 }, true},
		{"negative tolerance", func(c *MatchingConfig) { c.AmountToleranceCents = -5 }, true},
		{"min score above one", func(c *MatchingConfig) { c.MinScore = 1.5 }, true},
		{"negative min score", func(c *MatchingConfig) { c.MinScore = -0.1 }, true},
		{"low confidence above one", func(c *MatchingConfig) { c.LowConfidenceThreshold = 1.01 }, true},
		{"no workers", func(c *MatchingConfig) { c.Workers = 0 }, true},
		{"negative weight", func(c *MatchingConfig) { c.Weights.Date = -0.3 }, true},
		{"weights not summing to one", func(c *MatchingConfig) { c.Weights = MatchingWeights{Vendor: 0.5, Date: 0.2, Amount: 0.1} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchingConfigClone(t *testing.T) {
	original := DefaultMatchingConfig()
	clone := original.Clone()

	clone.DateWindowDays = 10
	clone.Weights.Vendor = 0.1

	if original.DateWindowDays != 3 {
		t.Error("Modifying clone should not affect original window")
	}
	if original.Weights.Vendor != 0.6 {
		t.Error("Modifying clone should not affect original weights")
	}

	var nilConfig *MatchingConfig
	if nilConfig.Clone() != nil {
		t.Error("Clone of nil config should be nil")
	}
}
