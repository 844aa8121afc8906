// Package matcher pairs the transactions of two firms inside a reconciliation.
//
// Automatic matching is deliberately narrow. Two ledger transactions correlate
// only when all of the following hold:
//   - both are in the reconciliation currency
//   - their absolute amounts are equal at the configured precision
//   - they share a normalized external reference, or each names the other
//     firm as counterparty and their dates fall within the date tolerance
//   - when RequireOppositeSides is set, one is a DEBIT and the other a CREDIT
//
// Source transactions are visited in ascending (date, ID) order and each one
// takes its best correlating target: reference correlation first, then the
// earliest date, then the lowest ID. The same input always yields the same
// matches, and a second run over an unchanged reconciliation yields none.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateToleranceDays = 2
//
//	engine := matcher.NewMatchingEngine(config)
//	created, err := engine.AutoMatch(rec)
package matcher

import (
	"fmt"
	"strings"
	"time"

	"intercompany-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// MatchingConfig holds configuration parameters for transaction matching.
//
// The factory functions below back the named presets of PresetMatchingConfig
// (the matching.preset configuration key):
//   - DefaultMatchingConfig(): balanced approach for most use cases
//   - StrictMatchingConfig(): same-day counterparty matching, opposite sides required
//   - RelaxedMatchingConfig(): wider date window, side check disabled
type MatchingConfig struct {
	// DateToleranceDays is the number of calendar days two counterparty
	// transactions may lie apart and still correlate
	DateToleranceDays int `json:"date_tolerance_days" mapstructure:"date_tolerance_days"`

	// AmountPrecision defines the number of decimal places for amount comparison
	AmountPrecision int `json:"amount_precision" mapstructure:"amount_precision"`

	// RequireOppositeSides requires one DEBIT and one CREDIT per match
	RequireOppositeSides bool `json:"require_opposite_sides" mapstructure:"require_opposite_sides"`

	// MaxCandidatesPerTransaction limits the number of ranked candidates
	// returned when suggesting targets for a single source transaction
	MaxCandidatesPerTransaction int `json:"max_candidates_per_transaction" mapstructure:"max_candidates_per_transaction"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:           3,
		AmountPrecision:             2,
		RequireOppositeSides:        true,
		MaxCandidatesPerTransaction: 10,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:           0,
		AmountPrecision:             2,
		RequireOppositeSides:        true,
		MaxCandidatesPerTransaction: 5,
	}
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:           7,
		AmountPrecision:             2,
		RequireOppositeSides:        false,
		MaxCandidatesPerTransaction: 20,
	}
}

// Matching presets selectable by name
const (
	PresetDefault = "default"
	PresetStrict  = "strict"
	PresetRelaxed = "relaxed"
)

// PresetMatchingConfig returns the named preset
func PresetMatchingConfig(name string) (*MatchingConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetDefault:
		return DefaultMatchingConfig(), nil
	case PresetStrict:
		return StrictMatchingConfig(), nil
	case PresetRelaxed:
		return RelaxedMatchingConfig(), nil
	default:
		return nil, fmt.Errorf("unknown matching preset %q: use %s, %s or %s", name, PresetDefault, PresetStrict, PresetRelaxed)
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateToleranceDays < 0 {
		return fmt.Errorf("date tolerance days cannot be negative: %d", mc.DateToleranceDays)
	}

	if mc.DateToleranceDays > 365 {
		return fmt.Errorf("date tolerance days cannot exceed 365: %d", mc.DateToleranceDays)
	}

	if mc.AmountPrecision < 0 || mc.AmountPrecision > 10 {
		return fmt.Errorf("amount precision must be between 0 and 10: %d", mc.AmountPrecision)
	}

	if mc.MaxCandidatesPerTransaction <= 0 {
		return fmt.Errorf("max candidates per transaction must be positive: %d", mc.MaxCandidatesPerTransaction)
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

// RoundAmount returns the absolute amount rounded to the configured precision
func (mc *MatchingConfig) RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Abs().Round(int32(mc.AmountPrecision))
}

// AmountsEqual compares two amounts by absolute value at the configured precision
func (mc *MatchingConfig) AmountsEqual(a, b decimal.Decimal) bool {
	return mc.RoundAmount(a).Equal(mc.RoundAmount(b))
}

// IsWithinDateTolerance checks if two dates are within the configured tolerance.
// Only calendar days are compared; the time of day is ignored.
func (mc *MatchingConfig) IsWithinDateTolerance(date1, date2 time.Time) bool {
	return models.CompareDatesWithTolerance(date1, date2, mc.DateToleranceDays)
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateTolerance: %d days, AmountPrecision: %d, OppositeSides: %t, MaxCandidates: %d}",
		mc.DateToleranceDays, mc.AmountPrecision, mc.RequireOppositeSides, mc.MaxCandidatesPerTransaction)
}
