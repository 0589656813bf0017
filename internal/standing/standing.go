// Package standing scores the three legal elements a claim must show
// (dissemination, concrete harm, causation) and renders a verdict.
package standing

import (
	"github.com/opensource-credit/kestrel/internal/domain"
)

// Verdict band thresholds. These bands define the verdict vocabulary
// itself rather than tunable policy, so they live here as constants.
const (
	strongFloor      = 8.0
	conditionalFloor = 6.0
	weakFloor        = 4.0
)

// Evaluate combines the per-element evidence scores into a composite and
// verdict. The composite is the plain mean of the three elements; an
// element with no supplied evidence counts as zero, so incomplete input
// can only understate standing, never overstate it. Missing elements
// are reported as diagnostics, not errors.
func Evaluate(ev domain.StandingEvidence) (domain.StandingResult, []domain.Diagnostic) {
	elements := make(map[domain.StandingElement]domain.ElementEvidence, len(domain.StandingElements))
	var diagnostics []domain.Diagnostic

	var sum float64
	for _, elem := range domain.StandingElements {
		e, ok := ev.Elements[elem]
		if !ok || !e.Supplied {
			elements[elem] = domain.ElementEvidence{Score: 0, Supplied: false}
			diagnostics = append(diagnostics, domain.Diagnostic{
				Stage:   "standing",
				Level:   domain.DiagWarning,
				Subject: string(elem),
				Message: "no evidence supplied; element scored 0",
			})
			continue
		}
		e.Score = clamp(e.Score, 0, 10)
		elements[elem] = e
		sum += e.Score
	}

	composite := sum / float64(len(domain.StandingElements))

	return domain.StandingResult{
		Composite: composite,
		Verdict:   verdictFor(composite),
		Elements:  elements,
	}, diagnostics
}

func verdictFor(composite float64) domain.StandingVerdict {
	switch {
	case composite >= strongFloor:
		return domain.StandingStrong
	case composite >= conditionalFloor:
		return domain.StandingConditional
	case composite >= weakFloor:
		return domain.StandingWeak
	default:
		return domain.StandingInsufficient
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DeriveFromViolations produces the violation-derived portion of the
// standing evidence. Detected contradictions contribute to concrete
// harm and dissemination (a conflict reported by multiple sources was
// by definition disseminated); externally supplied facts may still
// score higher, and the merge takes the maximum per element so added
// evidence never lowers a score.
func DeriveFromViolations(violations []domain.Violation) domain.StandingEvidence {
	if len(violations) == 0 {
		return domain.StandingEvidence{Elements: map[domain.StandingElement]domain.ElementEvidence{}}
	}

	var critical, high int
	for _, v := range violations {
		switch v.Severity {
		case domain.SeverityCritical:
			critical++
		case domain.SeverityHigh:
			high++
		}
	}

	// Conservative rubric: detected conflicts alone establish modest
	// dissemination and harm scores; they cannot establish causation.
	harm := 2.0
	if high > 0 {
		harm = 4.0
	}
	if critical > 0 {
		harm = 5.0
	}

	dissemination := 3.0
	if critical+high >= 3 {
		dissemination = 4.0
	}

	return domain.StandingEvidence{
		Elements: map[domain.StandingElement]domain.ElementEvidence{
			domain.ElementConcreteHarm: {
				Score:    harm,
				Supplied: true,
				Notes:    []string{"derived from detected reporting conflicts"},
			},
			domain.ElementDissemination: {
				Score:    dissemination,
				Supplied: true,
				Notes:    []string{"conflicting data observed on multi-source reports"},
			},
		},
	}
}

// Merge combines externally supplied and violation-derived evidence,
// taking the higher score per element. Monotonic: strengthening either
// input never lowers the merged score.
func Merge(external, derived domain.StandingEvidence) domain.StandingEvidence {
	out := domain.StandingEvidence{Elements: make(map[domain.StandingElement]domain.ElementEvidence)}
	for _, elem := range domain.StandingElements {
		ext, extOK := external.Elements[elem]
		der, derOK := derived.Elements[elem]
		switch {
		case extOK && ext.Supplied && derOK && der.Supplied:
			if der.Score > ext.Score {
				merged := der
				merged.Notes = append(append([]string{}, ext.Notes...), der.Notes...)
				out.Elements[elem] = merged
			} else {
				merged := ext
				merged.Notes = append(append([]string{}, ext.Notes...), der.Notes...)
				out.Elements[elem] = merged
			}
		case extOK && ext.Supplied:
			out.Elements[elem] = ext
		case derOK && der.Supplied:
			out.Elements[elem] = der
		}
	}
	return out
}
