package domain

// ValidatorType names a value validation rule attached to a key.
type ValidatorType string

const (
	// ValidatorRequired rejects empty raw values.
	ValidatorRequired ValidatorType = "required"
	// ValidatorRegex requires the raw value to match the parameter pattern.
	ValidatorRegex ValidatorType = "regex"
	// ValidatorRange requires a number key's value to fall within the
	// parameter bounds, written as "min..max".
	ValidatorRange ValidatorType = "range"
	// ValidatorExpression evaluates the parameter as an expression over
	// `value` and requires a true result.
	ValidatorExpression ValidatorType = "expression"
)

// Validator is one ordered validation rule on a key version. Every value
// written for the key must satisfy the full list.
type Validator struct {
	Type      ValidatorType `json:"type"`
	Parameter string        `json:"parameter,omitempty"`
	ErrorText string        `json:"error_text"`
}
