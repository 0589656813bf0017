package domain

import (
	"time"
)

// Source identifies one of the independent reporting agencies a record
// was pulled from. Up to three sources may report the same consumer.
type Source string

const (
	SourceEquifax    Source = "equifax"
	SourceExperian   Source = "experian"
	SourceTransUnion Source = "transunion"
)

// AccountStatus is the internal status vocabulary. Every source-specific
// status term is mapped into one of these by the normalizer; terms it
// cannot classify become StatusUnmapped, never a guessed value.
type AccountStatus string

const (
	StatusOpen       AccountStatus = "open"
	StatusClosed     AccountStatus = "closed"
	StatusCurrent    AccountStatus = "current"
	StatusChargedOff AccountStatus = "charged_off"
	StatusPaid       AccountStatus = "paid"
	StatusCollection AccountStatus = "collection"
	StatusLate       AccountStatus = "late"
	StatusDisputed   AccountStatus = "disputed"
	StatusUnmapped   AccountStatus = "unmapped"
)

// Negative reports true for statuses subject to retention windows.
func (s AccountStatus) Negative() bool {
	switch s {
	case StatusChargedOff, StatusCollection, StatusLate:
		return true
	}
	return false
}

// OwnershipType is the coarse account ownership category used for
// type-conflict detection.
type OwnershipType string

const (
	OwnershipIndividual     OwnershipType = "individual"
	OwnershipJoint          OwnershipType = "joint"
	OwnershipAuthorizedUser OwnershipType = "authorized_user"
	OwnershipUnmapped       OwnershipType = "unmapped"
)

// RetentionClass selects the obsolescence window that applies to a
// tradeline's negative information.
type RetentionClass string

const (
	RetentionGeneral      RetentionClass = "general"
	RetentionBankruptcy7  RetentionClass = "bankruptcy_ch7"
	RetentionBankruptcy11 RetentionClass = "bankruptcy_ch11"
)

// Tradeline is one credit account as reported by a single source.
// Monetary amounts are in USD. Nil pointer fields mean the source did
// not report that attribute, which is distinct from reporting zero.
type Tradeline struct {
	Source          Source        `json:"source"`
	CreditorName    string        `json:"creditorName"`
	AccountNumber   string        `json:"accountNumber"` // may be masked; last 4 digits are the stable part
	AccountType     string        `json:"accountType"`   // raw source vocabulary; normalized into Ownership
	Ownership       OwnershipType `json:"ownership"`
	Status          AccountStatus `json:"status"`
	RawStatus       string        `json:"rawStatus"` // source vocabulary before normalization
	Balance         *float64      `json:"balance,omitempty"`
	CreditLimit     *float64      `json:"creditLimit,omitempty"`
	DateOpened      *time.Time    `json:"dateOpened,omitempty"`
	LastActivity    *time.Time    `json:"lastActivity,omitempty"`
	LastLatePayment *time.Time    `json:"lastLatePayment,omitempty"`

	// FirstDelinquency is the anchor date for obsolescence. A negative
	// account missing this date is itself a reportable defect.
	FirstDelinquency *time.Time     `json:"firstDelinquency,omitempty"`
	Retention        RetentionClass `json:"retention,omitempty"`

	Remarks string `json:"remarks,omitempty"`
}

// AccountLast4 returns the last four digits of the account number,
// the stable portion across differently-masked source records.
func (t *Tradeline) AccountLast4() string {
	n := len(t.AccountNumber)
	if n <= 4 {
		return t.AccountNumber
	}
	return t.AccountNumber[n-4:]
}

// AccountGroup is the set of tradelines from different sources believed
// to represent the same underlying account. It is the unit the
// contradiction detector operates on.
//
// Invariant: at most one tradeline per source.
type AccountGroup struct {
	ID           string      `json:"id"`
	CreditorKey  string      `json:"creditorKey"` // normalized creditor name used for linkage
	AccountLast4 string      `json:"accountLast4"`
	Tradelines   []Tradeline `json:"tradelines"`
}

// SourceCount returns the number of distinct sources reporting the group.
func (g *AccountGroup) SourceCount() int {
	seen := make(map[Source]bool, len(g.Tradelines))
	for _, t := range g.Tradelines {
		seen[t.Source] = true
	}
	return len(seen)
}

// HasSource reports whether a tradeline from the given source is linked.
func (g *AccountGroup) HasSource(s Source) bool {
	for _, t := range g.Tradelines {
		if t.Source == s {
			return true
		}
	}
	return false
}
