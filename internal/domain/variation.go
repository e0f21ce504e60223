package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VariationProperty is a catalogue entry defining a dimension usable in
// variation assignments (e.g. environment, region). The name is unique and
// must never change once any value references it.
type VariationProperty struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewVariationProperty creates a catalogue entry.
func NewVariationProperty(name, displayName string) VariationProperty {
	return VariationProperty{
		ID:          uuid.New(),
		Name:        name,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
}

// VariationAssignment is a partial mapping from variation property name to
// value. The empty assignment identifies the unconditional default. Map
// ordering carries no significance.
type VariationAssignment map[string]string

// Specificity is the number of properties the assignment constrains.
func (a VariationAssignment) Specificity() int {
	return len(a)
}

// Matches reports whether every property the assignment specifies agrees
// with the query. The query may carry extra properties; a property the
// assignment specifies but the query omits is a mismatch.
func (a VariationAssignment) Matches(query VariationAssignment) bool {
	for name, want := range a {
		got, ok := query[name]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Equal reports whether two assignments constrain the same properties to the
// same values.
func (a VariationAssignment) Equal(other VariationAssignment) bool {
	if len(a) != len(other) {
		return false
	}
	return a.Matches(other)
}

// CompatibleWith reports whether no property present in both assignments
// carries conflicting values. Two distinct compatible assignments of equal
// specificity would tie on a query covering their union, so writes must
// reject that shape.
func (a VariationAssignment) CompatibleWith(other VariationAssignment) bool {
	for name, want := range a {
		if got, ok := other[name]; ok && got != want {
			return false
		}
	}
	return true
}

// Clone returns a copy, preserving nil-ness.
func (a VariationAssignment) Clone() VariationAssignment {
	if a == nil {
		return nil
	}
	clone := make(VariationAssignment, len(a))
	for name, value := range a {
		clone[name] = value
	}
	return clone
}

// Canonical renders the assignment as "name=value" pairs sorted by property
// name, suitable as a uniqueness key. The default assignment renders as "".
func (a VariationAssignment) Canonical() string {
	if len(a) == 0 {
		return ""
	}
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+a[name])
	}
	return strings.Join(parts, ",")
}
