// Package variation resolves which stored value variant applies to a query
// assignment, and enforces the non-overlap rule that keeps resolution
// deterministic.
package variation

import (
	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/domain"
)

// Resolve selects the best-matching value for the query assignment.
//
// A value matches when every property its assignment specifies agrees with
// the query. Among matches the highest specificity wins; the default value
// (empty assignment) matches everything at specificity zero. Two surviving
// matches at equal specificity indicate overlapping values that the write
// path should have rejected, and surface as a BadParameter error. No match
// at all is NotFound.
func Resolve(values []domain.Value, query domain.VariationAssignment) (domain.Value, error) {
	var (
		best      []domain.Value
		bestScore = -1
	)
	for _, value := range values {
		if !value.Assignment.Matches(query) {
			continue
		}
		score := value.Assignment.Specificity()
		switch {
		case score > bestScore:
			best = append(best[:0], value)
			bestScore = score
		case score == bestScore:
			best = append(best, value)
		}
	}
	if len(best) == 0 {
		return domain.Value{}, trace.NotFound("no value matches assignment %q", query.Canonical())
	}
	if len(best) > 1 {
		return domain.Value{}, trace.BadParameter(
			"assignment %q matches %d values at specificity %d", query.Canonical(), len(best), bestScore)
	}
	return best[0], nil
}

// CheckNonOverlapping verifies that a candidate assignment can be written
// alongside the existing values of a key version. A candidate conflicts when
// another value of equal specificity has a compatible assignment: a query
// covering the union of both would tie. Equal assignments are not a conflict
// here; the write path treats them as an update of the existing value.
func CheckNonOverlapping(existing []domain.Value, candidate domain.VariationAssignment) error {
	for _, value := range existing {
		if value.Assignment.Equal(candidate) {
			continue
		}
		if value.Assignment.Specificity() != candidate.Specificity() {
			continue
		}
		if value.Assignment.CompatibleWith(candidate) {
			return trace.BadParameter(
				"assignment %q overlaps existing value %q at equal specificity",
				candidate.Canonical(), value.Assignment.Canonical())
		}
	}
	return nil
}
