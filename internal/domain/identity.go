package domain

// ConsumerIdentity holds identity attributes as reported per source.
// Each attribute is a source→value map rather than one canonical value:
// disagreement between sources is itself evidence, so the raw spread is
// preserved all the way into detection.
type ConsumerIdentity struct {
	// Names maps source to the full legal name as that source reports it.
	Names map[Source]string `json:"names"`

	// DOB maps source to date of birth in YYYY-MM-DD form.
	DOB map[Source]string `json:"dob"`

	// SSNLast4 maps source to the last four SSN digits on file.
	SSNLast4 map[Source]string `json:"ssnLast4"`

	// Addresses maps source to the current address string on file.
	Addresses map[Source]string `json:"addresses"`
}

// IdentityField names one identity attribute for violation records.
type IdentityField string

const (
	FieldName    IdentityField = "name"
	FieldDOB     IdentityField = "dob"
	FieldSSN     IdentityField = "ssn"
	FieldAddress IdentityField = "address"
)
