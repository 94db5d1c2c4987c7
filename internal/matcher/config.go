// Package matcher pairs ledger transactions with vendor payments.
//
// Matching runs in three steps over the facts of one batch:
//  1. Candidate generation: a blocking filter on date window and amount
//     tolerance limits which transaction/payment pairs are considered
//  2. Scoring: each surviving pair gets a weighted blend of vendor, date and
//     amount similarity, rounded to 6 decimals
//  3. Assignment: candidates are taken greedily in descending
//     (score, vendor similarity) order, each transaction and each payment
//     used at most once, stopping at the first score below MinScore
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateWindowDays = 5
//
//	candidates, err := matcher.BuildCandidates(ctx, batchID, txns, pays, config)
//	matches := matcher.ChooseMatches(candidates, config.MinScore, now)
//	result := matcher.Summarize(txns, pays, matches)
package matcher

import (
	"fmt"
)

// MatchingConfig holds the run parameters for candidate generation, scoring
// and assignment. Different configurations can be used for different
// scenarios (strict vs relaxed matching).
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): balanced approach for most use cases
//   - StrictMatchingConfig(): tight windows for month-end close
//   - RelaxedMatchingConfig(): loose windows for exploratory matching
type MatchingConfig struct {
	// DateWindowDays is the ± day window of the blocking filter. Zero
	// requires the same date.
	DateWindowDays int `json:"date_window_days"`

	// AmountToleranceCents is the allowed absolute amount difference. Zero
	// requires the same amount.
	AmountToleranceCents int64 `json:"amount_tolerance_cents"`

	// MinScore is the lowest composite score that can become a match
	MinScore float64 `json:"min_score"`

	// LowConfidenceThreshold marks accepted matches that still need review
	LowConfidenceThreshold float64 `json:"low_confidence_threshold"`

	// Weights blend the three similarities into the composite score
	Weights MatchingWeights `json:"weights"`

	// Workers is the number of goroutines used for the blocking scan
	Workers int `json:"workers"`
}

// MatchingWeights defines the relative importance of the similarity components.
// The weights are expected to sum to 1.0 but this is not enforced.
type MatchingWeights struct {
	Vendor float64 `json:"vendor_weight"`
	Date   float64 `json:"date_weight"`
	Amount float64 `json:"amount_weight"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateWindowDays:         3,
		AmountToleranceCents:   0,
		MinScore:               0.80,
		LowConfidenceThreshold: 0.90,
		Weights: MatchingWeights{
			Vendor: 0.6,
			Date:   0.3,
			Amount: 0.1,
		},
		Workers: 1,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateWindowDays:         1,
		AmountToleranceCents:   0,
		MinScore:               0.90,
		LowConfidenceThreshold: 0.97,
		Weights: MatchingWeights{
			Vendor: 0.6,
			Date:   0.3,
			Amount: 0.1,
		},
		Workers: 1,
	}
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateWindowDays:         7,
		AmountToleranceCents:   100,
		MinScore:               0.60,
		LowConfidenceThreshold: 0.85,
		Weights: MatchingWeights{
			Vendor: 0.5,
			Date:   0.3,
			Amount: 0.2,
		},
		Workers: 1,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", mc.DateWindowDays)
	}

	if mc.AmountToleranceCents < 0 {
		return fmt.Errorf("amount tolerance cents cannot be negative: %d", mc.AmountToleranceCents)
	}

	if mc.MinScore < 0.0 || mc.MinScore > 1.0 {
		return fmt.Errorf("minimum score must be between 0.0 and 1.0: %f", mc.MinScore)
	}

	if mc.LowConfidenceThreshold < 0.0 || mc.LowConfidenceThreshold > 1.0 {
		return fmt.Errorf("low confidence threshold must be between 0.0 and 1.0: %f", mc.LowConfidenceThreshold)
	}

	if mc.Workers < 1 {
		return fmt.Errorf("workers must be at least 1: %d", mc.Workers)
	}

	if err := mc.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	return nil
}

// Validate checks that each weight is within [0, 1]
func (mw *MatchingWeights) Validate() error {
	if mw.Vendor < 0.0 || mw.Vendor > 1.0 {
		return fmt.Errorf("vendor weight must be between 0.0 and 1.0: %f", mw.Vendor)
	}

	if mw.Date < 0.0 || mw.Date > 1.0 {
		return fmt.Errorf("date weight must be between 0.0 and 1.0: %f", mw.Date)
	}

	if mw.Amount < 0.0 || mw.Amount > 1.0 {
		return fmt.Errorf("amount weight must be between 0.0 and 1.0: %f", mw.Amount)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateWindow: %d days, AmountTolerance: %d cents, MinScore: %.2f, LowConfidence: %.2f, Weights: %.2f/%.2f/%.2f}",
		mc.DateWindowDays, mc.AmountToleranceCents, mc.MinScore, mc.LowConfidenceThreshold,
		mc.Weights.Vendor, mc.Weights.Date, mc.Weights.Amount)
}
