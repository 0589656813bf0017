package domain

import (
	"time"
)

// CaseSnapshot is the atomic input to one analysis run: identity records,
// pre-linked or raw tradelines, and externally supplied evidence. Partial
// or streaming updates are out of scope; re-analysis takes a new snapshot.
type CaseSnapshot struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Identity   ConsumerIdentity `json:"identity"`
	Tradelines []Tradeline      `json:"tradelines"`

	// Externally supplied evidence the engine cannot infer.
	Standing    StandingEvidence    `json:"standing"`
	Willfulness WillfulnessEvidence `json:"willfulness"`
	ActualHarm  []ActualHarm        `json:"actualHarm,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Scenario selects one of the three damages postures.
type Scenario string

const (
	ScenarioConservative Scenario = "conservative"
	ScenarioModerate     Scenario = "moderate"
	ScenarioAggressive   Scenario = "aggressive"
)

// Scenarios lists scenarios in fixed table order.
var Scenarios = []Scenario{ScenarioConservative, ScenarioModerate, ScenarioAggressive}

// DamagesEstimate is one cell of the damages table.
type DamagesEstimate struct {
	Statutory float64 `json:"statutory"`
	Punitive  float64 `json:"punitive"`
	Actual    float64 `json:"actual"`
	Fees      float64 `json:"fees"`
	Total     float64 `json:"total"`

	// PunitiveClamped marks that the due-process ceiling reduced the
	// punitive figure for this cell.
	PunitiveClamped bool `json:"punitiveClamped,omitempty"`
}

// PartyDamages is one responsible party's row: an estimate per scenario.
type PartyDamages struct {
	Party          string                       `json:"party"`
	ViolationCount int                          `json:"violationCount"`
	Scenarios      map[Scenario]DamagesEstimate `json:"scenarios"`
}

// StandingResult is the standing evaluator's output.
type StandingResult struct {
	Composite float64                             `json:"composite"`
	Verdict   StandingVerdict                     `json:"verdict"`
	Elements  map[StandingElement]ElementEvidence `json:"elements"`
}

// IndicatorContribution shows how one indicator moved the willfulness score.
type IndicatorContribution struct {
	Indicator    WillfulnessIndicator `json:"indicator"`
	Grade        float64              `json:"grade"`
	Weight       float64              `json:"weight"`
	Contribution float64              `json:"contribution"`
}

// WillfulnessResult is the willfulness evaluator's output.
type WillfulnessResult struct {
	Percent       float64                 `json:"percent"`
	Verdict       WillfulnessVerdict      `json:"verdict"`
	Contributions []IndicatorContribution `json:"contributions"`
}

// DiagnosticLevel grades a diagnostic attached to a case result.
type DiagnosticLevel string

const (
	DiagWarning DiagnosticLevel = "warning"
	DiagError   DiagnosticLevel = "error"
)

// Diagnostic is a structured problem report produced during analysis.
// Rule failures, unmapped vocabulary, ambiguous linkage, and missing
// evidence all land here instead of aborting the run, so a degraded
// result is still usable but visibly degraded.
type Diagnostic struct {
	Stage   string          `json:"stage"` // normalize, linkage, detect, standing, willfulness
	Level   DiagnosticLevel `json:"level"`
	Subject string          `json:"subject,omitempty"` // group ID, source, rule name
	Message string          `json:"message"`
}

// CaseResult is the terminal, immutable aggregate of one analysis run.
// Constructed once from a fixed snapshot and never mutated; the ID is a
// content fingerprint, so identical snapshots under identical
// configuration produce identical results.
type CaseResult struct {
	ID         string `json:"id"`
	SnapshotID string `json:"snapshotId"`
	TenantID   string `json:"tenantId"`

	Groups     []AccountGroup `json:"groups"`
	Violations []Violation    `json:"violations"`

	Standing    StandingResult    `json:"standing"`
	Willfulness WillfulnessResult `json:"willfulness"`

	Damages       []PartyDamages       `json:"damages"`
	TotalExposure map[Scenario]float64 `json:"totalExposure"`

	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`

	// Complete is true only when analysis ran with no ambiguity and no
	// flagged gaps. Consumers must never treat a degraded analysis as
	// authoritative.
	Complete bool `json:"complete"`

	EngineVersion string    `json:"engineVersion"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// SeverityCounts tallies violations by severity.
func (r *CaseResult) SeverityCounts() map[Severity]int {
	counts := make(map[Severity]int)
	for _, v := range r.Violations {
		counts[v.Severity]++
	}
	return counts
}

// HasCritical reports whether any CRITICAL violation was found.
func (r *CaseResult) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
