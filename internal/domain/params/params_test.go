package params

import (
	"errors"
	"testing"
	"time"
)

func testParameters(t *testing.T) *Parameters {
	t.Helper()
	p, err := Create(map[string]map[string]any{
		"A":     {"type": "number", "default": 4},
		"title": {"type": "string", "default": "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("create parameters: %v", err)
	}
	return p
}

func TestResolveValuesDefaultsOnly(t *testing.T) {
	p := testParameters(t)
	got, err := p.ResolveValues(nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got["A"] != 4.0 {
		t.Fatalf("expected A=4.0, got %v", got["A"])
	}
	if got["title"] != "hi" {
		t.Fatalf("expected title=hi, got %v", got["title"])
	}
}

func TestResolveValuesCastsInput(t *testing.T) {
	p := testParameters(t)
	got, err := p.ResolveValues(map[string]any{"A": "2"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got["A"] != 2.0 {
		t.Fatalf("expected A=2.0, got %v", got["A"])
	}
	if got["title"] != "hi" {
		t.Fatalf("expected default title, got %v", got["title"])
	}
}

func TestResolveValuesIgnoresUnknownKeys(t *testing.T) {
	p := testParameters(t)
	got, err := p.ResolveValues(map[string]any{"B": "x"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := got["B"]; ok {
		t.Fatal("undeclared key must not appear in resolved values")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 resolved values, got %d", len(got))
	}
}

func TestResolveValuesFailsWithParameterName(t *testing.T) {
	p := testParameters(t)
	_, err := p.ResolveValues(map[string]any{"A": "abc"}, time.Now().UTC())
	if err == nil {
		t.Fatal("expected resolution error")
	}
	var valErr *ValueError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValueError, got %T", err)
	}
	if valErr.Name != "A" {
		t.Fatalf("expected failure attributed to A, got %s", valErr.Name)
	}
}

func TestResolveValuesSchemaViolation(t *testing.T) {
	p, err := Create(map[string]map[string]any{
		"A": {"type": "number", "default": 4, "minimum": 0, "maximum": 10},
	}, nil)
	if err != nil {
		t.Fatalf("create parameters: %v", err)
	}
	_, err = p.ResolveValues(map[string]any{"A": "99"}, time.Now().UTC())
	var valErr *ValueError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValueError, got %v", err)
	}
}

func TestResolveValuesDynamicDefault(t *testing.T) {
	p, err := Create(map[string]map[string]any{
		"report_date": {
			"type":              "string",
			"format":            "date",
			"X-Dynamic-Default": "yesterday",
		},
	}, nil)
	if err != nil {
		t.Fatalf("create parameters: %v", err)
	}
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	got, err := p.ResolveValues(nil, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d := got["report_date"].(time.Time).Format("2006-01-02"); d != "2025-05-01" {
		t.Fatalf("expected 2025-05-01, got %s", d)
	}
}

func TestResolveValuesExplicitValueSkipsDynamicDefault(t *testing.T) {
	p, err := Create(map[string]map[string]any{
		"report_date": {
			"type":              "string",
			"format":            "date",
			"X-Dynamic-Default": "yesterday",
		},
	}, nil)
	if err != nil {
		t.Fatalf("create parameters: %v", err)
	}
	got, err := p.ResolveValues(map[string]any{"report_date": "2020-12-25"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d := got["report_date"].(time.Time).Format("2006-01-02"); d != "2020-12-25" {
		t.Fatalf("expected explicit date to win, got %s", d)
	}
}

func TestCreateRejectsInvalidNames(t *testing.T) {
	for _, name := range []string{"lambda", "9lives", "a-b", ""} {
		_, err := Create(map[string]map[string]any{
			name: {"type": "string", "default": "x"},
		}, nil)
		if err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}

func TestParametersOrdering(t *testing.T) {
	p, err := Create(map[string]map[string]any{
		"zeta":  {"type": "string", "default": "z"},
		"alpha": {"type": "string", "default": "a"},
	}, nil)
	if err != nil {
		t.Fatalf("create parameters: %v", err)
	}
	names := p.Names()
	if names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted order, got %v", names)
	}
}

func TestQueryStringValues(t *testing.T) {
	p := testParameters(t)
	resolved, err := p.ResolveValues(map[string]any{"A": "2"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	qs, err := p.QueryStringValues(resolved)
	if err != nil {
		t.Fatalf("query strings: %v", err)
	}
	if qs["A"] != "2" || qs["title"] != "hi" {
		t.Fatalf("unexpected query strings: %v", qs)
	}
}
