// Package linkage groups per-source tradelines into account groups, the
// unit the contradiction detector operates on.
package linkage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-credit/kestrel/internal/domain"
)

// AmbiguousLinkageError reports a tradeline that matched more than one
// existing group. The record is surfaced to the caller as unresolved,
// never silently merged into either candidate and never dropped.
type AmbiguousLinkageError struct {
	Source       domain.Source
	CreditorKey  string
	AccountLast4 string
	Candidates   []string // group IDs the record could belong to
}

func (e *AmbiguousLinkageError) Error() string {
	return fmt.Sprintf("linkage: %s tradeline %s/%s matches %d groups",
		e.Source, e.CreditorKey, e.AccountLast4, len(e.Candidates))
}

// corporate suffixes dropped when building the creditor match key.
var creditorSuffixes = map[string]bool{
	"inc": true, "llc": true, "corp": true, "co": true,
	"ltd": true, "na": true, "n.a": true,
}

// CreditorKey reduces a reported creditor name to its linkage key:
// lowercase, punctuation stripped, corporate suffixes removed.
func CreditorKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	words := strings.Fields(b.String())
	for len(words) > 0 && creditorSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// GroupTradelines links tradelines believed to represent the same
// underlying account. Match key: creditor key + account last4, with the
// date-opened values (when both present) required to fall within
// windowDays of each other.
//
// Invariants:
//   - a group holds at most one tradeline per source;
//   - an ambiguous record lands in its own group and is reported, so no
//     record is ever lost;
//   - output ordering is deterministic for a given input order.
func GroupTradelines(tradelines []domain.Tradeline, windowDays int) ([]domain.AccountGroup, []*AmbiguousLinkageError) {
	var groups []domain.AccountGroup
	var ambiguities []*AmbiguousLinkageError
	seq := make(map[string]int) // per-key counter for deterministic group IDs

	for _, t := range tradelines {
		key := CreditorKey(t.CreditorName)
		last4 := t.AccountLast4()

		var candidates []int
		for i := range groups {
			g := &groups[i]
			if g.CreditorKey != key || g.AccountLast4 != last4 {
				continue
			}
			if g.HasSource(t.Source) {
				// Same source reporting the same key twice is a separate
				// record (possibly a duplicate for the detector to flag).
				continue
			}
			if !openedWithinWindow(&t, g, windowDays) {
				continue
			}
			candidates = append(candidates, i)
		}

		switch len(candidates) {
		case 1:
			groups[candidates[0]].Tradelines = append(groups[candidates[0]].Tradelines, t)
		case 0:
			groups = append(groups, newGroup(key, last4, t, seq))
		default:
			ids := make([]string, len(candidates))
			for i, c := range candidates {
				ids[i] = groups[c].ID
			}
			sort.Strings(ids)
			ambiguities = append(ambiguities, &AmbiguousLinkageError{
				Source:       t.Source,
				CreditorKey:  key,
				AccountLast4: last4,
				Candidates:   ids,
			})
			groups = append(groups, newGroup(key, last4, t, seq))
		}
	}

	return groups, ambiguities
}

func newGroup(key, last4 string, t domain.Tradeline, seq map[string]int) domain.AccountGroup {
	base := key + ":" + last4
	seq[base]++
	return domain.AccountGroup{
		ID:           fmt.Sprintf("grp:%s:%d", base, seq[base]),
		CreditorKey:  key,
		AccountLast4: last4,
		Tradelines:   []domain.Tradeline{t},
	}
}

// openedWithinWindow checks the approximate date-opened window. A
// missing date on either side does not block the match; the creditor
// key and last4 already agree.
func openedWithinWindow(t *domain.Tradeline, g *domain.AccountGroup, windowDays int) bool {
	if t.DateOpened == nil {
		return true
	}
	for _, other := range g.Tradelines {
		if other.DateOpened == nil {
			continue
		}
		days := t.DateOpened.Sub(*other.DateOpened).Hours() / 24
		if days < 0 {
			days = -days
		}
		if days > float64(windowDays) {
			return false
		}
	}
	return true
}
