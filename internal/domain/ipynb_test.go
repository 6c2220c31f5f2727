package domain

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain/params"
)

const testIpynb = `{
  "cells": [
    {
      "cell_type": "markdown",
      "metadata": {},
      "source": ["# Report for {{ params.report_date }}\n", "Threshold: {{params.A}}"]
    },
    {
      "cell_type": "code",
      "execution_count": 3,
      "metadata": {},
      "outputs": [{"output_type": "stream", "name": "stdout", "text": "old"}],
      "source": "A = 0"
    },
    {
      "cell_type": "code",
      "metadata": {},
      "outputs": [],
      "source": "print(A)"
    }
  ],
  "metadata": {},
  "nbformat": 4,
  "nbformat_minor": 5
}`

func testPage(t *testing.T) *Page {
	t.Helper()
	p, err := params.Create(map[string]map[string]any{
		"A": {"type": "number", "default": 4},
		"report_date": {
			"type":    "string",
			"format":  "date",
			"default": "2025-05-01",
		},
	}, nil)
	if err != nil {
		t.Fatalf("create parameters: %v", err)
	}
	return &Page{
		Name:       "test-page",
		Title:      "Test Page",
		Ipynb:      testIpynb,
		Parameters: p,
		DateAdded:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRenderIpynb(t *testing.T) {
	page := testPage(t)
	inst, err := NewInstance(page, map[string]any{"A": "2"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}

	rendered, err := inst.RenderIpynb()
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	nb, err := ParseNotebook([]byte(rendered))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}

	// Markdown template references are substituted.
	md := string(nb.Cells[0].Source)
	if !strings.Contains(md, "Report for 2025-05-01") {
		t.Fatalf("date not substituted: %q", md)
	}
	if !strings.Contains(md, "Threshold: 2") {
		t.Fatalf("number not substituted: %q", md)
	}

	// The first code cell becomes the generated parameter cell, with
	// prior outputs dropped.
	first := nb.Cells[1]
	src := string(first.Source)
	if !strings.HasPrefix(src, "# Parameters\n") {
		t.Fatalf("missing parameter header: %q", src)
	}
	if !strings.Contains(src, "import datetime") {
		t.Fatalf("missing import: %q", src)
	}
	if !strings.Contains(src, "A = 2.0") {
		t.Fatalf("missing assignment: %q", src)
	}
	if !strings.Contains(src, `report_date = datetime.date.fromisoformat("2025-05-01")`) {
		t.Fatalf("missing date assignment: %q", src)
	}
	if len(first.Outputs) != 0 || first.ExecutionCount != nil {
		t.Fatal("expected stale outputs to be cleared")
	}

	// Later code cells are untouched.
	if got := string(nb.Cells[2].Source); got != "print(A)" {
		t.Fatalf("second code cell changed: %q", got)
	}

	// Resolved values are recorded in metadata.
	values, ok := nb.ResolvedValues()
	if !ok {
		t.Fatal("expected recorded values")
	}
	if values["report_date"] != "2025-05-01" {
		t.Fatalf("unexpected recorded date: %v", values["report_date"])
	}
}

func TestSourceTextAcceptsBothForms(t *testing.T) {
	raw := `{"cells": [
		{"cell_type": "markdown", "metadata": {}, "source": "one line"},
		{"cell_type": "markdown", "metadata": {}, "source": ["a\n", "b"]}
	], "metadata": {}, "nbformat": 4, "nbformat_minor": 5}`
	nb, err := ParseNotebook([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(nb.Cells[0].Source) != "one line" {
		t.Fatalf("unexpected scalar source: %q", nb.Cells[0].Source)
	}
	if string(nb.Cells[1].Source) != "a\nb" {
		t.Fatalf("unexpected list source: %q", nb.Cells[1].Source)
	}
}

func TestUnknownTemplateReferenceIsLeftAlone(t *testing.T) {
	got := substituteTemplates("x {{ params.unknown }} y", map[string]string{"A": "1"})
	if got != "x {{ params.unknown }} y" {
		t.Fatalf("unexpected substitution: %q", got)
	}
}

func TestDisplaySettingsFromQuery(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"ts_hide_code=1", true},
		{"ts_hide_code=0", false},
		{"ts_hide_code=false", false},
	}
	for _, tc := range cases {
		q, err := url.ParseQuery(tc.query)
		if err != nil {
			t.Fatalf("parse query %q: %v", tc.query, err)
		}
		if ds := DisplaySettingsFromQuery(q); ds.HideCode != tc.want {
			t.Fatalf("query %q: expected hide_code=%v", tc.query, tc.want)
		}
	}
}
