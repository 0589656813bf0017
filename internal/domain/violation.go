package domain

// ViolationKind classifies the factual conflict a detection rule found.
type ViolationKind string

const (
	StatusConflict  ViolationKind = "STATUS_CONFLICT"
	LateDateGap     ViolationKind = "LATE_DATE_GAP"
	BalanceVariance ViolationKind = "BALANCE_VARIANCE"
	LimitVariance   ViolationKind = "LIMIT_VARIANCE"
	TypeConflict    ViolationKind = "TYPE_CONFLICT"
	Duplicate       ViolationKind = "DUPLICATE"
	PIIMismatch     ViolationKind = "PII_MISMATCH"
	ObsoleteInfo    ViolationKind = "OBSOLETE_INFO"
	CustomRule      ViolationKind = "CUSTOM_RULE"
)

// Severity ranks how strongly a violation supports the case.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// SourceValue records the value one source reported for the disputed
// attribute, the supporting evidence carried on every violation.
type SourceValue struct {
	Source Source `json:"source"`
	Value  string `json:"value"`
}

// Violation is an immutable record of one detected factual conflict.
// Created only by the contradiction detector; never mutated afterward.
// A correction is a new violation carrying Supersedes, not an edit.
type Violation struct {
	ID       string        `json:"id"` // deterministic content-derived identifier
	Kind     ViolationKind `json:"kind"`
	Severity Severity      `json:"severity"`

	// GroupID is the subject account group, empty for identity violations.
	GroupID string `json:"groupId,omitempty"`

	// RelatedGroupID cites the second group for duplicate-account findings.
	RelatedGroupID string `json:"relatedGroupId,omitempty"`

	// Field is the subject identity attribute for PII mismatches.
	Field IdentityField `json:"field,omitempty"`

	// CreditorName identifies the furnisher responsible for the data.
	CreditorName string `json:"creditorName,omitempty"`

	Values    []SourceValue `json:"values,omitempty"`
	Citations []string      `json:"citations"`
	Detail    string        `json:"detail"`

	// Supersedes names a prior violation this record replaces.
	Supersedes string `json:"supersedes,omitempty"`
}

// ResponsibleParties returns the parties with exposure for this
// violation: every source that reported a conflicting value plus the
// furnisher that originated the data.
func (v *Violation) ResponsibleParties() []string {
	seen := make(map[string]bool)
	var parties []string
	for _, sv := range v.Values {
		p := string(sv.Source)
		if p != "" && !seen[p] {
			seen[p] = true
			parties = append(parties, p)
		}
	}
	if v.CreditorName != "" && !seen[v.CreditorName] {
		parties = append(parties, v.CreditorName)
	}
	return parties
}

// Statutory citations attached by the built-in rules. Held as data so a
// jurisdiction change is a table edit, not a rule edit.
const (
	CitationAccuracy      = "15 U.S.C. § 1681e(b)"
	CitationReinvestigate = "15 U.S.C. § 1681i"
	CitationFurnisher     = "15 U.S.C. § 1681s-2(a)"
	CitationObsolete      = "15 U.S.C. § 1681c(a)"
	CitationWillful       = "15 U.S.C. § 1681n"
	CitationNegligent     = "15 U.S.C. § 1681o"
)
