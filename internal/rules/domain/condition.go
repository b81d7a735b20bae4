package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"leadscore_backend/platform/apperr"
)

// Fields is the flat view of event metadata or lead attributes a predicate
// evaluates against.
type Fields map[string]any

// StringValue returns the field as a string, converting numerics.
func (f Fields) StringValue(name string) (string, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// NumericValue returns the field as a float64 when it is numeric or a
// numeric string.
func (f Fields) NumericValue(name string) (float64, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Predicate is a closed tagged variant over rule conditions. Conditions are
// parsed once at snapshot load time; evaluation never sees malformed input.
type Predicate interface {
	// Matches evaluates the predicate against the given fields. A missing
	// field never matches.
	Matches(fields Fields) bool
	predicate()
}

// FieldEquals matches when the field equals the value (case-insensitive).
type FieldEquals struct {
	Field string
	Value string
}

func (p FieldEquals) Matches(fields Fields) bool {
	v, ok := fields.StringValue(p.Field)
	return ok && strings.EqualFold(v, p.Value)
}

// FieldIn matches when the field equals any of the values.
type FieldIn struct {
	Field  string
	Values []string
}

func (p FieldIn) Matches(fields Fields) bool {
	v, ok := fields.StringValue(p.Field)
	if !ok {
		return false
	}
	for _, candidate := range p.Values {
		if strings.EqualFold(v, candidate) {
			return true
		}
	}
	return false
}

// FieldContains matches when the field contains the substring (case-insensitive).
type FieldContains struct {
	Field     string
	Substring string
}

func (p FieldContains) Matches(fields Fields) bool {
	v, ok := fields.StringValue(p.Field)
	return ok && strings.Contains(strings.ToLower(v), strings.ToLower(p.Substring))
}

// NumericGTE matches when the field is numeric and >= the bound.
type NumericGTE struct {
	Field string
	Bound float64
}

func (p NumericGTE) Matches(fields Fields) bool {
	v, ok := fields.NumericValue(p.Field)
	return ok && v >= p.Bound
}

// NumericLTE matches when the field is numeric and <= the bound.
type NumericLTE struct {
	Field string
	Bound float64
}

func (p NumericLTE) Matches(fields Fields) bool {
	v, ok := fields.NumericValue(p.Field)
	return ok && v <= p.Bound
}

// PatternMatch matches when the field matches the compiled regexp.
type PatternMatch struct {
	Field   string
	Pattern *regexp.Regexp
}

func (p PatternMatch) Matches(fields Fields) bool {
	v, ok := fields.StringValue(p.Field)
	return ok && p.Pattern.MatchString(v)
}

func (FieldEquals) predicate()   {}
func (FieldIn) predicate()       {}
func (FieldContains) predicate() {}
func (NumericGTE) predicate()    {}
func (NumericLTE) predicate()    {}
func (PatternMatch) predicate()  {}

// rawCondition is the untyped JSON shape of a stored rule condition.
type rawCondition struct {
	Field    string          `json:"field"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// ParseCondition parses an untyped JSON condition into a Predicate.
// A null or empty condition yields nil, which callers treat as always-true.
// Malformed conditions are rejected here, at load time, never at evaluation.
func ParseCondition(raw json.RawMessage) (Predicate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var cond rawCondition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "condition is not an object", err)
	}
	if cond.Field == "" {
		return nil, apperr.Validation("condition field is required")
	}

	switch cond.Operator {
	case "equals":
		value, err := stringValue(cond.Value)
		if err != nil {
			return nil, err
		}
		return FieldEquals{Field: cond.Field, Value: value}, nil

	case "in":
		var values []string
		if err := json.Unmarshal(cond.Value, &values); err != nil {
			return nil, apperr.Validation("in operator requires an array of strings")
		}
		if len(values) == 0 {
			return nil, apperr.Validation("in operator requires at least one value")
		}
		return FieldIn{Field: cond.Field, Values: values}, nil

	case "contains":
		value, err := stringValue(cond.Value)
		if err != nil {
			return nil, err
		}
		return FieldContains{Field: cond.Field, Substring: value}, nil

	case "gte":
		bound, err := numericValue(cond.Value)
		if err != nil {
			return nil, err
		}
		return NumericGTE{Field: cond.Field, Bound: bound}, nil

	case "lte":
		bound, err := numericValue(cond.Value)
		if err != nil {
			return nil, err
		}
		return NumericLTE{Field: cond.Field, Bound: bound}, nil

	case "pattern":
		value, err := stringValue(cond.Value)
		if err != nil {
			return nil, err
		}
		compiled, err := regexp.Compile(value)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "invalid pattern", err)
		}
		return PatternMatch{Field: cond.Field, Pattern: compiled}, nil

	default:
		return nil, apperr.Validation("unknown operator: " + cond.Operator)
	}
}

func stringValue(raw json.RawMessage) (string, error) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", apperr.Validation("operator requires a string value")
	}
	return value, nil
}

func numericValue(raw json.RawMessage) (float64, error) {
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, apperr.Validation("operator requires a numeric value")
	}
	return value, nil
}
