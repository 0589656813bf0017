package domain

// CustomRuleConfig defines an operator-supplied detection rule evaluated
// against each account group alongside the built-in battery. The
// expression is CEL over the group activation; a true result emits one
// violation with the configured kind and severity.
type CustomRuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is a CEL expression returning bool.
	Expression string `json:"expression"`

	Severity  Severity `json:"severity"`
	Citations []string `json:"citations,omitempty"`
	Detail    string   `json:"detail,omitempty"`

	Enabled bool `json:"enabled"`
}
