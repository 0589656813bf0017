package domain

import (
	"fmt"
)

// ConfigurationError reports a missing or malformed engine table or
// threshold. Always fatal: silently defaulting a legal-threshold
// constant is unacceptable.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("engine configuration: %s: %s", e.Field, e.Reason)
}

// StatusExclusion declares a pair of mutually exclusive statuses and the
// severity a conflict between them carries.
type StatusExclusion struct {
	A        AccountStatus `json:"a"`
	B        AccountStatus `json:"b"`
	Severity Severity      `json:"severity"`
}

// Matches reports whether the pair (x, y) hits this exclusion in either order.
func (se StatusExclusion) Matches(x, y AccountStatus) bool {
	return (x == se.A && y == se.B) || (x == se.B && y == se.A)
}

// EngineConfig holds every numeric threshold, weight, and category table
// the engine consults. All of it is data: jurisdiction- and policy-
// specific constants change without touching rule logic.
type EngineConfig struct {
	// Status exclusivity table for STATUS_CONFLICT detection.
	StatusExclusions []StatusExclusion `json:"statusExclusions"`

	// Late-payment date gap thresholds in months.
	// gap >= LateGapHighMonths → HIGH (inclusive); 1..LateGapHighMonths-1 → MEDIUM.
	LateGapHighMonths int `json:"lateGapHighMonths"`

	// Balance/limit variance threshold, exclusive: (max-min)/max must
	// strictly exceed it to violate.
	VarianceThreshold float64 `json:"varianceThreshold"`

	// Retention windows in years, keyed by class.
	RetentionYears map[RetentionClass]int `json:"retentionYears"`

	// Name similarity in [0,1] at or above which two reported names are
	// treated as the same person (suffix variants etc.).
	NameSimilarityThreshold float64 `json:"nameSimilarityThreshold"`

	// Duplicate-account tolerances.
	DuplicateBalanceTolerance    float64 `json:"duplicateBalanceTolerance"` // relative, e.g. 0.05
	DuplicateOpenedToleranceDays int     `json:"duplicateOpenedToleranceDays"`

	// LinkageOpenedWindowDays is the approximate date-opened window used
	// when matching tradelines across sources into one account group.
	LinkageOpenedWindowDays int `json:"linkageOpenedWindowDays"`

	// Willfulness weight table and the fixed maximum attainable total.
	// Invariant: the weights must sum to exactly the maximum.
	WillfulnessWeights map[WillfulnessIndicator]float64 `json:"willfulnessWeights"`
	WillfulnessMaximum float64                          `json:"willfulnessMaximum"`

	// Statutory damages interval per violation.
	StatutoryMin float64 `json:"statutoryMin"`
	StatutoryMax float64 `json:"statutoryMax"`

	// Punitive multiplier per scenario (conservative, moderate, aggressive).
	PunitiveRatios [3]float64 `json:"punitiveRatios"`

	// DueProcessCeilingRatio caps punitive:compensatory in the aggressive
	// scenario so the estimate stays legally plausible.
	DueProcessCeilingRatio float64 `json:"dueProcessCeilingRatio"`

	// Attorney-fee estimate inputs; supplied, never computed.
	FeeHours float64 `json:"feeHours"`
	FeeRate  float64 `json:"feeRate"`
}

// Willfulness weight tiers.
const (
	WeightVeryHigh = 20.0
	WeightHigh     = 15.0
	WeightModerate = 10.0
)

// DefaultEngineConfig returns the engine defaults. The variance and
// similarity thresholds are asserted policy numbers subject to legal
// review, which is exactly why they live here and not in rule code.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		StatusExclusions: []StatusExclusion{
			{A: StatusOpen, B: StatusPaid, Severity: SeverityCritical},
			{A: StatusCurrent, B: StatusChargedOff, Severity: SeverityCritical},
			{A: StatusOpen, B: StatusClosed, Severity: SeverityHigh},
			{A: StatusCurrent, B: StatusCollection, Severity: SeverityCritical},
			{A: StatusPaid, B: StatusCollection, Severity: SeverityHigh},
		},
		LateGapHighMonths: 12,
		VarianceThreshold: 0.10,
		RetentionYears: map[RetentionClass]int{
			RetentionGeneral:      7,
			RetentionBankruptcy7:  10,
			RetentionBankruptcy11: 10,
		},
		NameSimilarityThreshold:      0.85,
		DuplicateBalanceTolerance:    0.05,
		DuplicateOpenedToleranceDays: 90,
		LinkageOpenedWindowDays:      180,
		WillfulnessWeights: map[WillfulnessIndicator]float64{
			IndicatorPatternAcrossAccounts:     WeightVeryHigh,
			IndicatorImpossibleData:            WeightVeryHigh,
			IndicatorSophisticatedDefendant:    WeightHigh,
			IndicatorPriorNoticeIgnored:        WeightHigh,
			IndicatorDuration:                  WeightHigh,
			IndicatorIndustryStandardViolation: WeightHigh,
		},
		WillfulnessMaximum:     100,
		StatutoryMin:           100,
		StatutoryMax:           1000,
		PunitiveRatios:         [3]float64{1, 2, 3},
		DueProcessCeilingRatio: 4,
		FeeHours:               40,
		FeeRate:                350,
	}
}

// Validate checks the tables the rules depend on. Every failure is a
// ConfigurationError; callers must treat any of them as fatal.
func (c *EngineConfig) Validate() error {
	if len(c.StatusExclusions) == 0 {
		return &ConfigurationError{Field: "statusExclusions", Reason: "table is empty"}
	}
	for i, se := range c.StatusExclusions {
		if se.A == "" || se.B == "" || se.Severity == "" {
			return &ConfigurationError{Field: fmt.Sprintf("statusExclusions[%d]", i), Reason: "incomplete entry"}
		}
	}
	if c.LateGapHighMonths <= 0 {
		return &ConfigurationError{Field: "lateGapHighMonths", Reason: "must be positive"}
	}
	if c.VarianceThreshold <= 0 || c.VarianceThreshold >= 1 {
		return &ConfigurationError{Field: "varianceThreshold", Reason: "must be in (0,1)"}
	}
	if len(c.RetentionYears) == 0 {
		return &ConfigurationError{Field: "retentionYears", Reason: "table is empty"}
	}
	for class, years := range c.RetentionYears {
		if years <= 0 {
			return &ConfigurationError{Field: "retentionYears", Reason: fmt.Sprintf("%s window must be positive", class)}
		}
	}
	if c.NameSimilarityThreshold <= 0 || c.NameSimilarityThreshold > 1 {
		return &ConfigurationError{Field: "nameSimilarityThreshold", Reason: "must be in (0,1]"}
	}
	if c.DuplicateBalanceTolerance < 0 || c.DuplicateOpenedToleranceDays < 0 {
		return &ConfigurationError{Field: "duplicateTolerance", Reason: "must be non-negative"}
	}
	if c.LinkageOpenedWindowDays <= 0 {
		return &ConfigurationError{Field: "linkageOpenedWindowDays", Reason: "must be positive"}
	}
	if len(c.WillfulnessWeights) == 0 {
		return &ConfigurationError{Field: "willfulnessWeights", Reason: "table is empty"}
	}
	if c.WillfulnessMaximum <= 0 {
		return &ConfigurationError{Field: "willfulnessMaximum", Reason: "must be positive"}
	}
	var sum float64
	for ind, w := range c.WillfulnessWeights {
		if w <= 0 {
			return &ConfigurationError{Field: "willfulnessWeights", Reason: fmt.Sprintf("%s weight must be positive", ind)}
		}
		sum += w
	}
	// Adding an indicator without adjusting the maximum (or vice versa)
	// silently rescales every score, so the mismatch is rejected here.
	if sum != c.WillfulnessMaximum {
		return &ConfigurationError{
			Field:  "willfulnessWeights",
			Reason: fmt.Sprintf("weights sum to %.1f but maximum is %.1f", sum, c.WillfulnessMaximum),
		}
	}
	if c.StatutoryMin <= 0 || c.StatutoryMax < c.StatutoryMin {
		return &ConfigurationError{Field: "statutoryRange", Reason: "requires 0 < min <= max"}
	}
	for i, r := range c.PunitiveRatios {
		if r < 0 {
			return &ConfigurationError{Field: fmt.Sprintf("punitiveRatios[%d]", i), Reason: "must be non-negative"}
		}
	}
	if c.DueProcessCeilingRatio <= 0 {
		return &ConfigurationError{Field: "dueProcessCeilingRatio", Reason: "must be positive"}
	}
	if c.FeeHours < 0 || c.FeeRate < 0 {
		return &ConfigurationError{Field: "fees", Reason: "must be non-negative"}
	}
	return nil
}
