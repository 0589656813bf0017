// Package willfulness scores the behavioral indicators of knowing or
// recklessly unreasonable conduct and renders a verdict.
package willfulness

import (
	"sort"

	"github.com/opensource-credit/kestrel/internal/domain"
)

// Verdict band thresholds in percent.
const (
	likelyFloor   = 70.0
	possibleFloor = 50.0
	unlikelyFloor = 30.0
)

// Evaluate maps the observed indicators through the configured weight
// table and divides by the fixed maximum attainable total, yielding a
// percentage and verdict. Indicator grades scale partial presence in
// (0,1]; grades are clamped into [0,1]. Indicators absent from the
// weight table are reported as diagnostics and ignored rather than
// silently weighted at zero or guessed.
//
// The weight table and maximum are validated together at configuration
// load (EngineConfig.Validate), so by the time evaluation runs the
// weights are known to sum to the maximum.
func Evaluate(ev domain.WillfulnessEvidence, cfg *domain.EngineConfig) (domain.WillfulnessResult, []domain.Diagnostic) {
	var diagnostics []domain.Diagnostic
	var contributions []domain.IndicatorContribution

	var sum float64
	for indicator, grade := range ev.Indicators {
		weight, ok := cfg.WillfulnessWeights[indicator]
		if !ok {
			diagnostics = append(diagnostics, domain.Diagnostic{
				Stage:   "willfulness",
				Level:   domain.DiagWarning,
				Subject: string(indicator),
				Message: "indicator not present in weight table; ignored",
			})
			continue
		}
		if grade <= 0 {
			continue
		}
		if grade > 1 {
			grade = 1
		}
		contribution := weight * grade
		sum += contribution
		contributions = append(contributions, domain.IndicatorContribution{
			Indicator:    indicator,
			Grade:        grade,
			Weight:       weight,
			Contribution: contribution,
		})
	}

	sort.Slice(contributions, func(i, j int) bool {
		return contributions[i].Indicator < contributions[j].Indicator
	})

	percent := sum / cfg.WillfulnessMaximum * 100

	return domain.WillfulnessResult{
		Percent:       percent,
		Verdict:       verdictFor(percent),
		Contributions: contributions,
	}, diagnostics
}

func verdictFor(percent float64) domain.WillfulnessVerdict {
	switch {
	case percent >= likelyFloor:
		return domain.WillfulLikely
	case percent >= possibleFloor:
		return domain.WillfulPossible
	case percent >= unlikelyFloor:
		return domain.WillfulUnlikely
	default:
		return domain.NegligentOnly
	}
}

// DeriveFromViolations marks the indicators the violation set itself
// establishes. A contradiction pattern spanning several accounts or an
// impossibility (mutually exclusive statuses) is observable directly
// from detector output; the remaining indicators need external facts.
func DeriveFromViolations(violations []domain.Violation) domain.WillfulnessEvidence {
	groups := make(map[string]bool)
	statusConflicts := 0
	for _, v := range violations {
		if v.GroupID != "" {
			groups[v.GroupID] = true
		}
		if v.Kind == domain.StatusConflict {
			statusConflicts++
		}
	}

	indicators := make(map[domain.WillfulnessIndicator]float64)
	if len(groups) >= 3 {
		indicators[domain.IndicatorPatternAcrossAccounts] = 1
	} else if len(groups) == 2 {
		indicators[domain.IndicatorPatternAcrossAccounts] = 0.5
	}
	if statusConflicts > 0 {
		indicators[domain.IndicatorImpossibleData] = 1
	}

	return domain.WillfulnessEvidence{Indicators: indicators}
}

// Merge combines external and derived evidence, taking the higher grade
// per indicator.
func Merge(external, derived domain.WillfulnessEvidence) domain.WillfulnessEvidence {
	out := domain.WillfulnessEvidence{Indicators: make(map[domain.WillfulnessIndicator]float64)}
	for ind, grade := range external.Indicators {
		out.Indicators[ind] = grade
	}
	for ind, grade := range derived.Indicators {
		if grade > out.Indicators[ind] {
			out.Indicators[ind] = grade
		}
	}
	return out
}
