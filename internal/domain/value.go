package domain

import (
	"time"

	"github.com/google/uuid"
)

// ValueType constrains the raw values a key accepts. Immutable once the key
// owns any value.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeNumber  ValueType = "number"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeJSON    ValueType = "json"
)

// KnownValueType reports whether t names a supported value type.
func KnownValueType(t ValueType) bool {
	switch t {
	case ValueTypeString, ValueTypeNumber, ValueTypeBoolean, ValueTypeJSON:
		return true
	}
	return false
}

// Value is one variant of a key's configured value, keyed by
// (key version, variation assignment). No two values under the same key
// version may carry an identical assignment.
type Value struct {
	ID           uuid.UUID           `json:"id"`
	KeyVersionID uuid.UUID           `json:"key_version_id"`
	Assignment   VariationAssignment `json:"assignment"`
	Raw          string              `json:"raw"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// NewValue creates a value variant for a key version.
func NewValue(keyVersionID uuid.UUID, assignment VariationAssignment, raw string) Value {
	now := time.Now()
	return Value{
		ID:           uuid.New(),
		KeyVersionID: keyVersionID,
		Assignment:   assignment.Clone(),
		Raw:          raw,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// WithRaw returns a copy with a replaced raw value.
func (v Value) WithRaw(raw string) Value {
	v.Raw = raw
	v.UpdatedAt = time.Now()
	return v
}

// ForKeyVersion returns a copy re-homed under another key version, used when
// a draft key version clones the published value set.
func (v Value) ForKeyVersion(keyVersionID uuid.UUID) Value {
	v.ID = uuid.New()
	v.KeyVersionID = keyVersionID
	v.Assignment = v.Assignment.Clone()
	return v
}
