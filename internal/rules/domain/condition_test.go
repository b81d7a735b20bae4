package domain

import (
	"encoding/json"
	"testing"
)

func mustParse(t *testing.T, raw string) Predicate {
	t.Helper()
	p, err := ParseCondition(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return p
}

func TestParseCondition_NullYieldsNil(t *testing.T) {
	for _, raw := range []string{"", "null"} {
		p, err := ParseCondition(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("expected nil predicate for %q, got error %v", raw, err)
		}
		if p != nil {
			t.Fatalf("expected nil predicate for %q, got %#v", raw, p)
		}
	}
}

func TestParseCondition_UnknownOperatorRejected(t *testing.T) {
	_, err := ParseCondition(json.RawMessage(`{"field":"x","operator":"between","value":5}`))
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestParseCondition_MissingFieldRejected(t *testing.T) {
	_, err := ParseCondition(json.RawMessage(`{"operator":"equals","value":"a"}`))
	if err == nil {
		t.Fatal("expected error for missing field")
	}
}

func TestFieldEquals_CaseInsensitive(t *testing.T) {
	p := mustParse(t, `{"field":"industry","operator":"equals","value":"SaaS"}`)

	if !p.Matches(Fields{"industry": "saas"}) {
		t.Fatal("expected case-insensitive match")
	}
	if p.Matches(Fields{"industry": "retail"}) {
		t.Fatal("expected mismatch for different value")
	}
	if p.Matches(Fields{}) {
		t.Fatal("missing field must not match")
	}
}

func TestFieldIn(t *testing.T) {
	p := mustParse(t, `{"field":"country","operator":"in","value":["NL","BE"]}`)

	if !p.Matches(Fields{"country": "nl"}) {
		t.Fatal("expected match for listed value")
	}
	if p.Matches(Fields{"country": "DE"}) {
		t.Fatal("expected mismatch for unlisted value")
	}
}

func TestNumericBounds(t *testing.T) {
	gte := mustParse(t, `{"field":"employees","operator":"gte","value":50}`)
	lte := mustParse(t, `{"field":"employees","operator":"lte","value":50}`)

	if !gte.Matches(Fields{"employees": float64(50)}) {
		t.Fatal("gte must include the bound")
	}
	if gte.Matches(Fields{"employees": float64(49)}) {
		t.Fatal("gte must reject below the bound")
	}
	if !lte.Matches(Fields{"employees": "50"}) {
		t.Fatal("lte must accept a numeric string at the bound")
	}
	if gte.Matches(Fields{"employees": "many"}) {
		t.Fatal("non-numeric value must not match a numeric bound")
	}
}

func TestPatternMatch(t *testing.T) {
	p := mustParse(t, `{"field":"email","operator":"pattern","value":".*@example\\.com$"}`)

	if !p.Matches(Fields{"email": "jan@example.com"}) {
		t.Fatal("expected pattern match")
	}
	if p.Matches(Fields{"email": "jan@other.org"}) {
		t.Fatal("expected pattern mismatch")
	}

	if _, err := ParseCondition(json.RawMessage(`{"field":"email","operator":"pattern","value":"("}`)); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestFieldContains(t *testing.T) {
	p := mustParse(t, `{"field":"title","operator":"contains","value":"Engineer"}`)

	if !p.Matches(Fields{"title": "senior engineer"}) {
		t.Fatal("expected substring match")
	}
	if p.Matches(Fields{"title": "designer"}) {
		t.Fatal("expected substring mismatch")
	}
}
