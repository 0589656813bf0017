// Package damages turns violation counts, a willfulness verdict, and
// documented actual harm into a bounded three-scenario estimate.
package damages

import (
	"sort"

	"github.com/opensource-credit/kestrel/internal/domain"
)

// Input carries everything the estimator consumes. Violation counts per
// responsible party plus the case-level total; actual harm is the
// externally documented figure, never inferred.
type Input struct {
	PartyCounts map[string]int
	TotalCount  int
	Willfulness domain.WillfulnessVerdict
	ActualHarm  float64
}

// Estimate produces the damages table: one row per responsible party,
// one estimate per scenario, plus the case-level exposure totals.
// Per-party rows state each party's own full exposure (statutory on its
// violations, punitive and actual on the joint compensatory base);
// TotalExposure is computed once over the whole case, so rows are not
// additive with each other.
func Estimate(in Input, cfg *domain.EngineConfig) ([]domain.PartyDamages, map[domain.Scenario]float64) {
	parties := make([]string, 0, len(in.PartyCounts))
	for p := range in.PartyCounts {
		parties = append(parties, p)
	}
	sort.Strings(parties)

	rows := make([]domain.PartyDamages, 0, len(parties))
	for _, party := range parties {
		count := in.PartyCounts[party]
		row := domain.PartyDamages{
			Party:          party,
			ViolationCount: count,
			Scenarios:      make(map[domain.Scenario]domain.DamagesEstimate, len(domain.Scenarios)),
		}
		for i, scenario := range domain.Scenarios {
			row.Scenarios[scenario] = estimateCell(count, i, in, cfg)
		}
		rows = append(rows, row)
	}

	totals := make(map[domain.Scenario]float64, len(domain.Scenarios))
	for i, scenario := range domain.Scenarios {
		cell := estimateCell(in.TotalCount, i, in, cfg)
		totals[scenario] = cell.Total
	}

	return rows, totals
}

// estimateCell computes one (count, scenario) estimate.
// Statutory: count × interval low/mid/high. Punitive: the scenario's
// ratio applied to the compensatory total (statutory + actual) unless
// the verdict is NEGLIGENT_ONLY, clamped to the due-process ceiling
// ratio. Fees: configured hours × rate.
func estimateCell(count int, scenarioIdx int, in Input, cfg *domain.EngineConfig) domain.DamagesEstimate {
	perViolation := statutoryPerViolation(scenarioIdx, cfg)
	statutory := float64(count) * perViolation

	compensatory := statutory + in.ActualHarm

	var punitive float64
	clamped := false
	if in.Willfulness != domain.NegligentOnly {
		ratio := cfg.PunitiveRatios[scenarioIdx]
		if ratio > cfg.DueProcessCeilingRatio {
			ratio = cfg.DueProcessCeilingRatio
			clamped = true
		}
		punitive = ratio * compensatory
	}

	fees := cfg.FeeHours * cfg.FeeRate

	return domain.DamagesEstimate{
		Statutory:       statutory,
		Punitive:        punitive,
		Actual:          in.ActualHarm,
		Fees:            fees,
		Total:           statutory + punitive + in.ActualHarm + fees,
		PunitiveClamped: clamped,
	}
}

func statutoryPerViolation(scenarioIdx int, cfg *domain.EngineConfig) float64 {
	switch scenarioIdx {
	case 0:
		return cfg.StatutoryMin
	case 2:
		return cfg.StatutoryMax
	default:
		return (cfg.StatutoryMin + cfg.StatutoryMax) / 2
	}
}
