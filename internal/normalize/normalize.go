// Package normalize canonicalizes heterogeneous per-source records into
// the internal schema before any comparison happens.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-credit/kestrel/internal/domain"
)

// NormalizationError reports a source vocabulary term the normalizer
// could not classify. The term is never guessed into a mapping; callers
// decide whether an unmapped term is a hard stop or a flagged gap.
type NormalizationError struct {
	Field  string
	Term   string
	Source domain.Source
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize: unmapped %s term %q from %s", e.Field, e.Term, e.Source)
}

// Vocabulary maps source-specific terms to the internal enums. Keys are
// matched after canonicalization (lowercase, trimmed, collapsed spaces).
type Vocabulary struct {
	Status    map[string]domain.AccountStatus
	Ownership map[string]domain.OwnershipType
}

// DefaultVocabulary covers the status and ownership terms the three
// major bureaus use. Extend via configuration, not by editing rule code.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Status: map[string]domain.AccountStatus{
			"open":                  domain.StatusOpen,
			"account open":          domain.StatusOpen,
			"closed":                domain.StatusClosed,
			"account closed":        domain.StatusClosed,
			"closed by consumer":    domain.StatusClosed,
			"current":               domain.StatusCurrent,
			"pays as agreed":        domain.StatusCurrent,
			"paid as agreed":        domain.StatusCurrent,
			"charged off":           domain.StatusChargedOff,
			"charge-off":            domain.StatusChargedOff,
			"charge off":            domain.StatusChargedOff,
			"written off":           domain.StatusChargedOff,
			"paid":                  domain.StatusPaid,
			"paid in full":          domain.StatusPaid,
			"paid, closed":          domain.StatusPaid,
			"settled":               domain.StatusPaid,
			"collection":            domain.StatusCollection,
			"in collection":         domain.StatusCollection,
			"placed for collection": domain.StatusCollection,
			"late":                  domain.StatusLate,
			"past due":              domain.StatusLate,
			"30 days late":          domain.StatusLate,
			"60 days late":          domain.StatusLate,
			"90 days late":          domain.StatusLate,
			"disputed":              domain.StatusDisputed,
			"consumer disputes":     domain.StatusDisputed,
		},
		Ownership: map[string]domain.OwnershipType{
			"individual":         domain.OwnershipIndividual,
			"individual account": domain.OwnershipIndividual,
			"i":                  domain.OwnershipIndividual,
			"joint":              domain.OwnershipJoint,
			"joint account":      domain.OwnershipJoint,
			"joint contractual":  domain.OwnershipJoint,
			"j":                  domain.OwnershipJoint,
			"authorized user":    domain.OwnershipAuthorizedUser,
			"authorized-user":    domain.OwnershipAuthorizedUser,
			"a":                  domain.OwnershipAuthorizedUser,
		},
	}
}

// Normalizer canonicalizes records. It holds only lookup tables and is
// safe for concurrent use; every method is a pure function of its input.
type Normalizer struct {
	vocab Vocabulary
}

// New creates a normalizer with the given vocabulary.
func New(vocab Vocabulary) *Normalizer {
	return &Normalizer{vocab: vocab}
}

// Canonical reduces a raw term to its lookup form.
func Canonical(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	return strings.Join(strings.Fields(term), " ")
}

// Tradeline returns a normalized copy of one source record. Unmapped
// status/ownership terms map to the explicit sentinel and surface as
// NormalizationErrors; the copy is still usable as a flagged gap.
func (n *Normalizer) Tradeline(t domain.Tradeline) (domain.Tradeline, []error) {
	var errs []error

	out := t
	out.CreditorName = strings.TrimSpace(t.CreditorName)
	out.AccountNumber = strings.TrimSpace(t.AccountNumber)

	raw := t.RawStatus
	if raw == "" {
		raw = string(t.Status)
	}
	out.RawStatus = raw
	if status, ok := n.vocab.Status[Canonical(raw)]; ok {
		out.Status = status
	} else {
		out.Status = domain.StatusUnmapped
		errs = append(errs, &NormalizationError{Field: "status", Term: raw, Source: t.Source})
	}

	if t.AccountType != "" {
		if own, ok := n.vocab.Ownership[Canonical(t.AccountType)]; ok {
			out.Ownership = own
		} else {
			out.Ownership = domain.OwnershipUnmapped
			errs = append(errs, &NormalizationError{Field: "ownership", Term: t.AccountType, Source: t.Source})
		}
	} else if t.Ownership == "" {
		out.Ownership = domain.OwnershipUnmapped
	}

	if out.Retention == "" {
		out.Retention = domain.RetentionGeneral
	}

	return out, errs
}

// Snapshot returns a normalized copy of the full case snapshot. The
// input is never mutated.
func (n *Normalizer) Snapshot(snap *domain.CaseSnapshot) (*domain.CaseSnapshot, []error) {
	out := *snap
	out.Tradelines = make([]domain.Tradeline, len(snap.Tradelines))

	var errs []error
	for i, t := range snap.Tradelines {
		norm, terrs := n.Tradeline(t)
		out.Tradelines[i] = norm
		errs = append(errs, terrs...)
	}

	out.Identity = normalizeIdentity(snap.Identity)
	return &out, errs
}

// normalizeIdentity trims whitespace on identity values. Values are
// otherwise preserved verbatim: the per-source spread is evidence.
func normalizeIdentity(id domain.ConsumerIdentity) domain.ConsumerIdentity {
	return domain.ConsumerIdentity{
		Names:     trimValues(id.Names),
		DOB:       trimValues(id.DOB),
		SSNLast4:  trimValues(id.SSNLast4),
		Addresses: trimValues(id.Addresses),
	}
}

func trimValues(m map[domain.Source]string) map[domain.Source]string {
	if m == nil {
		return nil
	}
	out := make(map[domain.Source]string, len(m))
	for k, v := range m {
		out[k] = strings.TrimSpace(v)
	}
	return out
}

// dateLayouts are the formats bureau exports use for dates.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01/2006",
	"Jan 2006",
	"2006-01",
}

// ParseDate parses a bureau-reported date in any supported layout.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("normalize: unrecognized date format %q", s)
}
