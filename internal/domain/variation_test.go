package domain

import "testing"

func TestAssignmentMatches(t *testing.T) {
	assignment := VariationAssignment{"env": "staging"}
	if !assignment.Matches(VariationAssignment{"env": "staging", "region": "eu"}) {
		t.Fatalf("expected assignment to match query with extra properties")
	}
	if assignment.Matches(VariationAssignment{"env": "prod"}) {
		t.Fatalf("expected conflicting property to mismatch")
	}
	if assignment.Matches(VariationAssignment{"region": "eu"}) {
		t.Fatalf("expected missing property to mismatch")
	}
	if !(VariationAssignment{}).Matches(VariationAssignment{"env": "prod"}) {
		t.Fatalf("expected the default assignment to match any query")
	}
}

func TestAssignmentEqual(t *testing.T) {
	a := VariationAssignment{"env": "staging", "region": "eu"}
	b := VariationAssignment{"region": "eu", "env": "staging"}
	if !a.Equal(b) {
		t.Fatalf("expected assignments with identical pairs to be equal")
	}
	if a.Equal(VariationAssignment{"env": "staging"}) {
		t.Fatalf("expected different cardinality to be unequal")
	}
}

func TestAssignmentCompatibleWith(t *testing.T) {
	a := VariationAssignment{"env": "staging"}
	if !a.CompatibleWith(VariationAssignment{"region": "eu"}) {
		t.Fatalf("disjoint assignments are compatible")
	}
	if a.CompatibleWith(VariationAssignment{"env": "prod"}) {
		t.Fatalf("conflicting values are incompatible")
	}
}

func TestAssignmentCanonical(t *testing.T) {
	a := VariationAssignment{"region": "eu", "env": "staging"}
	if got, want := a.Canonical(), "env=staging,region=eu"; got != want {
		t.Fatalf("Canonical() = %q, want %q", got, want)
	}
	if got := (VariationAssignment{}).Canonical(); got != "" {
		t.Fatalf("default assignment Canonical() = %q, want empty", got)
	}
	var nilAssignment VariationAssignment
	if got := nilAssignment.Canonical(); got != "" {
		t.Fatalf("nil assignment Canonical() = %q, want empty", got)
	}
}

func TestAssignmentClone(t *testing.T) {
	a := VariationAssignment{"env": "staging"}
	clone := a.Clone()
	clone["env"] = "prod"
	if a["env"] != "staging" {
		t.Fatalf("clone mutated the original assignment")
	}
	var nilAssignment VariationAssignment
	if nilAssignment.Clone() != nil {
		t.Fatalf("cloning nil should stay nil")
	}
}
