package validator

import (
	"strings"
	"testing"

	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/domain"
)

func TestCoerce(t *testing.T) {
	cases := []struct {
		valueType domain.ValueType
		raw       string
		wantErr   bool
	}{
		{domain.ValueTypeString, "anything", false},
		{domain.ValueTypeNumber, "42.5", false},
		{domain.ValueTypeNumber, "forty two", true},
		{domain.ValueTypeBoolean, "true", false},
		{domain.ValueTypeBoolean, "yep", true},
		{domain.ValueTypeJSON, `{"a": [1, 2]}`, false},
		{domain.ValueTypeJSON, `{"a": `, true},
		{domain.ValueType("blob"), "x", true},
	}
	for _, tc := range cases {
		_, err := Coerce(tc.valueType, tc.raw)
		if tc.wantErr && err == nil {
			t.Fatalf("Coerce(%s, %q): expected error", tc.valueType, tc.raw)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("Coerce(%s, %q): %v", tc.valueType, tc.raw, err)
		}
	}
}

func TestValidateRequired(t *testing.T) {
	validators := []domain.Validator{{Type: domain.ValidatorRequired}}
	if err := Validate(domain.ValueTypeString, validators, "present"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	err := Validate(domain.ValueTypeString, validators, "   ")
	if !trace.IsBadParameter(err) {
		t.Fatalf("expected BadParameter for blank value, got %v", err)
	}
}

func TestValidateRegex(t *testing.T) {
	validators := []domain.Validator{{Type: domain.ValidatorRegex, Parameter: `^[a-z]+-\d+$`}}
	if err := Validate(domain.ValueTypeString, validators, "host-12"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Validate(domain.ValueTypeString, validators, "HOST"); err == nil {
		t.Fatalf("expected regex mismatch to fail")
	}
}

func TestValidateRange(t *testing.T) {
	validators := []domain.Validator{{Type: domain.ValidatorRange, Parameter: "1..10"}}
	if err := Validate(domain.ValueTypeNumber, validators, "5"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Validate(domain.ValueTypeNumber, validators, "11"); err == nil {
		t.Fatalf("expected out-of-range value to fail")
	}
	// Range validators need a number key to have anything to compare.
	if err := Validate(domain.ValueTypeString, validators, "5"); err == nil {
		t.Fatalf("expected range on a string key to fail")
	}
}

func TestValidateExpression(t *testing.T) {
	validators := []domain.Validator{{Type: domain.ValidatorExpression, Parameter: `value >= 0 && value <= 100`}}
	if err := Validate(domain.ValueTypeNumber, validators, "99"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Validate(domain.ValueTypeNumber, validators, "101"); err == nil {
		t.Fatalf("expected expression rejection")
	}
	nonBool := []domain.Validator{{Type: domain.ValidatorExpression, Parameter: `value + 1`}}
	if err := Validate(domain.ValueTypeNumber, nonBool, "1"); err == nil {
		t.Fatalf("expected non-boolean expression result to fail")
	}
}

func TestValidateErrorText(t *testing.T) {
	validators := []domain.Validator{{
		Type:      domain.ValidatorRange,
		Parameter: "0..1",
		ErrorText: "ratio must be between 0 and 1",
	}}
	err := Validate(domain.ValueTypeNumber, validators, "2")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "ratio must be between 0 and 1") {
		t.Fatalf("expected configured error text, got %v", err)
	}
}

func TestValidateStopsAtFirstFailure(t *testing.T) {
	validators := []domain.Validator{
		{Type: domain.ValidatorRequired, ErrorText: "first"},
		{Type: domain.ValidatorRegex, Parameter: `^x$`, ErrorText: "second"},
	}
	err := Validate(domain.ValueTypeString, validators, "")
	if err == nil || !strings.Contains(err.Error(), "first") {
		t.Fatalf("expected the first validator's failure, got %v", err)
	}
}
