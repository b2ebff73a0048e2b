// Package matcher pairs unevidenced expense-ledger entries with the
// month's acquired order records and produces ranked match candidates.
//
// Matching is closed-world: ledger entries and orders are both filtered
// to the target month before the engine sees them, so a candidate can
// only come from the corpus the same run acquired. Amounts must match
// exactly; dates and vendor keywords refine the ranking on top of that.
package matcher

import "fmt"

// ScoreWeights are the additive contributions behind a candidate score.
// The absolute values are heuristic and tuned against observed ledger
// data; the ordering and tie-break rules are the contract.
type ScoreWeights struct {
	// AmountBase is granted to every candidate, since candidates are
	// selected by exact amount equality in the first place.
	AmountBase int

	// DateMax is the score for a use-date landing exactly on the order
	// date, decaying linearly to zero at the edge of the date window.
	DateMax int

	// DatePenalty is subtracted when both dates are resolvable but the
	// gap exceeds the window. Drift is evidence against a match, not
	// neutral.
	DatePenalty int

	// KeywordPerToken is granted per vendor/memo token found in the
	// order's item name or provider name, up to KeywordCap.
	KeywordPerToken int
	KeywordCap      int

	// OrderIDBonus is granted when the ledger memo quotes the order id
	// itself, the strongest signal short of a manual link.
	OrderIDBonus int
}

// MatchConfig controls candidate selection and scoring.
type MatchConfig struct {
	// DateWindowDays is the half-width of the date window around the
	// expense use date.
	DateWindowDays int

	// MaxCandidates caps the ranked list reported per ledger entry.
	MaxCandidates int

	// MinScore excludes weak candidates from the report entirely.
	MinScore int

	Weights ScoreWeights
}

// DefaultMatchConfig returns the tuned production configuration.
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{
		DateWindowDays: 7,
		MaxCandidates:  3,
		MinScore:       60,
		Weights: ScoreWeights{
			AmountBase:      100,
			DateMax:         20,
			DatePenalty:     20,
			KeywordPerToken: 8,
			KeywordCap:      24,
			OrderIDBonus:    40,
		},
	}
}

// Validate checks the configuration for internally consistent values.
func (c *MatchConfig) Validate() error {
	if c.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", c.DateWindowDays)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("max candidates must be at least 1: %d", c.MaxCandidates)
	}
	if c.MinScore < 0 {
		return fmt.Errorf("min score cannot be negative: %d", c.MinScore)
	}
	if c.Weights.AmountBase <= 0 {
		return fmt.Errorf("amount base weight must be positive: %d", c.Weights.AmountBase)
	}
	if c.Weights.KeywordCap < c.Weights.KeywordPerToken {
		return fmt.Errorf("keyword cap %d below per-token weight %d",
			c.Weights.KeywordCap, c.Weights.KeywordPerToken)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *MatchConfig) Clone() *MatchConfig {
	clone := *c
	return &clone
}
