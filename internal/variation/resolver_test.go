package variation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/domain"
)

func value(assignment domain.VariationAssignment, raw string) domain.Value {
	return domain.NewValue(uuid.Nil, assignment, raw)
}

func TestResolvePrefersSpecificity(t *testing.T) {
	values := []domain.Value{
		value(nil, "A"),
		value(domain.VariationAssignment{"env": "staging"}, "B"),
	}

	got, err := Resolve(values, domain.VariationAssignment{"env": "staging", "region": "eu"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Raw != "B" {
		t.Fatalf("resolved %q, want the more specific value B", got.Raw)
	}

	got, err = Resolve(values, domain.VariationAssignment{"env": "prod"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Raw != "A" {
		t.Fatalf("resolved %q, want the default value A", got.Raw)
	}
}

func TestResolveDeterministic(t *testing.T) {
	values := []domain.Value{
		value(nil, "A"),
		value(domain.VariationAssignment{"env": "staging"}, "B"),
		value(domain.VariationAssignment{"env": "staging", "region": "eu"}, "C"),
	}
	query := domain.VariationAssignment{"env": "staging", "region": "eu"}
	for i := 0; i < 10; i++ {
		got, err := Resolve(values, query)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got.Raw != "C" {
			t.Fatalf("run %d resolved %q, want C", i, got.Raw)
		}
	}
}

func TestResolveExactAssignment(t *testing.T) {
	values := []domain.Value{
		value(domain.VariationAssignment{"env": "staging"}, "B"),
	}
	got, err := Resolve(values, domain.VariationAssignment{"env": "staging"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Raw != "B" {
		t.Fatalf("resolved %q, want B", got.Raw)
	}
}

func TestResolveNoMatch(t *testing.T) {
	values := []domain.Value{
		value(domain.VariationAssignment{"env": "staging"}, "B"),
	}
	_, err := Resolve(values, domain.VariationAssignment{"env": "prod"})
	if !trace.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolveTieIsAnError(t *testing.T) {
	// Two compatible assignments at equal specificity; a union query ties.
	values := []domain.Value{
		value(domain.VariationAssignment{"env": "staging"}, "B"),
		value(domain.VariationAssignment{"region": "eu"}, "D"),
	}
	_, err := Resolve(values, domain.VariationAssignment{"env": "staging", "region": "eu"})
	if !trace.IsBadParameter(err) {
		t.Fatalf("expected BadParameter on tie, got %v", err)
	}
}

func TestCheckNonOverlapping(t *testing.T) {
	existing := []domain.Value{
		value(domain.VariationAssignment{"env": "staging"}, "B"),
	}
	// Same assignment is an update, not an overlap.
	if err := CheckNonOverlapping(existing, domain.VariationAssignment{"env": "staging"}); err != nil {
		t.Fatalf("equal assignment should pass: %v", err)
	}
	// Conflicting value on the shared property cannot tie.
	if err := CheckNonOverlapping(existing, domain.VariationAssignment{"env": "prod"}); err != nil {
		t.Fatalf("incompatible assignment should pass: %v", err)
	}
	// Different property at equal specificity would tie on a union query.
	err := CheckNonOverlapping(existing, domain.VariationAssignment{"region": "eu"})
	if !trace.IsBadParameter(err) {
		t.Fatalf("expected BadParameter for overlapping assignment, got %v", err)
	}
	// Higher specificity never ties with lower.
	if err := CheckNonOverlapping(existing, domain.VariationAssignment{"env": "staging", "region": "eu"}); err != nil {
		t.Fatalf("more specific assignment should pass: %v", err)
	}
}
