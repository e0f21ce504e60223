// Package validator evaluates a key's validator list against candidate raw
// values before they are written.
package validator

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/domain"
)

// Validate checks a raw value against the key's value type and ordered
// validator list. The first failing validator aborts with a BadParameter
// error carrying the validator's configured error text.
func Validate(valueType domain.ValueType, validators []domain.Validator, raw string) error {
	typed, err := Coerce(valueType, raw)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, v := range validators {
		if err := apply(v, typed, raw); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Coerce parses the raw value according to the key's value type.
func Coerce(valueType domain.ValueType, raw string) (any, error) {
	switch valueType {
	case domain.ValueTypeString:
		return raw, nil
	case domain.ValueTypeNumber:
		number, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, trace.BadParameter("value %q is not a number", raw)
		}
		return number, nil
	case domain.ValueTypeBoolean:
		boolean, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, trace.BadParameter("value %q is not a boolean", raw)
		}
		return boolean, nil
	case domain.ValueTypeJSON:
		if !json.Valid([]byte(raw)) {
			return nil, trace.BadParameter("value is not valid JSON")
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, trace.BadParameter("value is not valid JSON: %v", err)
		}
		return decoded, nil
	default:
		return nil, trace.BadParameter("unknown value type %q", valueType)
	}
}

func apply(v domain.Validator, typed any, raw string) error {
	switch v.Type {
	case domain.ValidatorRequired:
		if strings.TrimSpace(raw) == "" {
			return failure(v, "value is required")
		}
		return nil
	case domain.ValidatorRegex:
		pattern, err := regexp.Compile(v.Parameter)
		if err != nil {
			return trace.BadParameter("invalid regex validator pattern %q: %v", v.Parameter, err)
		}
		if !pattern.MatchString(raw) {
			return failure(v, "value does not match pattern")
		}
		return nil
	case domain.ValidatorRange:
		number, ok := typed.(float64)
		if !ok {
			return trace.BadParameter("range validator requires a number key")
		}
		min, max, err := parseRange(v.Parameter)
		if err != nil {
			return trace.Wrap(err)
		}
		if number < min || number > max {
			return failure(v, "value is out of range")
		}
		return nil
	case domain.ValidatorExpression:
		result, err := expr.Eval(v.Parameter, map[string]any{"value": typed})
		if err != nil {
			return trace.BadParameter("expression validator failed: %v", err)
		}
		passed, ok := result.(bool)
		if !ok {
			return trace.BadParameter("expression validator %q did not yield a boolean", v.Parameter)
		}
		if !passed {
			return failure(v, "value rejected by expression")
		}
		return nil
	default:
		return trace.BadParameter("unknown validator type %q", v.Type)
	}
}

// parseRange parses a "min..max" bound expression.
func parseRange(parameter string) (float64, float64, error) {
	parts := strings.SplitN(parameter, "..", 2)
	if len(parts) != 2 {
		return 0, 0, trace.BadParameter("invalid range parameter %q, want \"min..max\"", parameter)
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, trace.BadParameter("invalid range lower bound %q", parts[0])
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, trace.BadParameter("invalid range upper bound %q", parts[1])
	}
	return min, max, nil
}

func failure(v domain.Validator, fallback string) error {
	if v.ErrorText != "" {
		return trace.BadParameter("%s", v.ErrorText)
	}
	return trace.BadParameter("%s", fallback)
}
