package domain

// StandingElement is one of the three legal elements a claim must show
// before it can proceed.
type StandingElement string

const (
	ElementDissemination StandingElement = "dissemination"
	ElementConcreteHarm  StandingElement = "concrete_harm"
	ElementCausation     StandingElement = "causation"
)

// StandingElements lists the elements in their fixed evaluation order.
var StandingElements = []StandingElement{
	ElementDissemination,
	ElementConcreteHarm,
	ElementCausation,
}

// ElementEvidence is the scored evidence for a single standing element.
// Score is on [0,10] per the fixed rubric applied upstream; the engine
// never invents scores, so an element with no supplied evidence stays
// at zero and degrades the composite.
type ElementEvidence struct {
	Score    float64  `json:"score"`
	Supplied bool     `json:"supplied"`
	Notes    []string `json:"notes,omitempty"`
}

// StandingEvidence carries per-element evidence. Externally supplied
// facts (denial letters, hard inquiries) arrive here; violation-derived
// contributions are merged in by the case analyzer.
type StandingEvidence struct {
	Elements map[StandingElement]ElementEvidence `json:"elements"`
}

// StandingVerdict is the categorical outcome of standing evaluation.
type StandingVerdict string

const (
	StandingStrong       StandingVerdict = "STRONG"
	StandingConditional  StandingVerdict = "CONDITIONAL"
	StandingWeak         StandingVerdict = "WEAK"
	StandingInsufficient StandingVerdict = "INSUFFICIENT"
)

// WillfulnessIndicator is one behavioral signal that conduct was knowing
// or recklessly unreasonable rather than merely negligent.
type WillfulnessIndicator string

const (
	IndicatorPatternAcrossAccounts     WillfulnessIndicator = "pattern_across_accounts"
	IndicatorImpossibleData            WillfulnessIndicator = "impossible_data"
	IndicatorSophisticatedDefendant    WillfulnessIndicator = "sophisticated_defendant"
	IndicatorPriorNoticeIgnored        WillfulnessIndicator = "prior_notice_ignored"
	IndicatorDuration                  WillfulnessIndicator = "duration"
	IndicatorIndustryStandardViolation WillfulnessIndicator = "industry_standard_violation"
)

// WillfulnessEvidence marks which indicators were observed. Grade scales
// a partially present indicator in (0,1]; absent indicators are simply
// not listed.
type WillfulnessEvidence struct {
	Indicators map[WillfulnessIndicator]float64 `json:"indicators"`
}

// WillfulnessVerdict is the categorical outcome of willfulness evaluation.
type WillfulnessVerdict string

const (
	WillfulLikely   WillfulnessVerdict = "LIKELY"
	WillfulPossible WillfulnessVerdict = "POSSIBLE"
	WillfulUnlikely WillfulnessVerdict = "UNLIKELY"
	NegligentOnly   WillfulnessVerdict = "NEGLIGENT_ONLY"
)

// ActualHarm holds externally documented out-of-pocket figures. The
// engine never infers these.
type ActualHarm struct {
	Amount      float64  `json:"amount"`
	Description string   `json:"description,omitempty"`
	Documents   []string `json:"documents,omitempty"`
}
