package params

import (
	"testing"
	"time"
)

func TestDynamicDefaultSimple(t *testing.T) {
	// A Friday.
	ref := time.Date(2025, 5, 2, 15, 30, 0, 0, time.UTC)

	cases := []struct {
		expr string
		want string
	}{
		{"today", "2025-05-02"},
		{"yesterday", "2025-05-01"},
		{"tomorrow", "2025-05-03"},
		{"+7d", "2025-05-09"},
		{"-7d", "2025-04-25"},
		{"+1w", "2025-05-09"},
		{"-2w", "2025-04-18"},
		{"+1m", "2025-06-02"},
		{"-1m", "2025-04-02"},
		{"+1y", "2026-05-02"},
		{"-1y", "2024-05-02"},
		{"week_start", "2025-04-28"},
		{"week_end", "2025-05-04"},
		{"month_start", "2025-05-01"},
		{"month_end", "2025-05-31"},
		{"year_start", "2025-01-01"},
		{"year_end", "2025-12-31"},
		{"-1month_start", "2025-04-01"},
		{"-1month_end", "2025-04-30"},
		{"+1week_start", "2025-05-05"},
		{"-1year_start", "2024-01-01"},
		{"+2year_end", "2027-12-31"},
	}
	for _, tc := range cases {
		d, err := ParseDynamicDefault(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		got := d.Evaluate(ref).Format("2006-01-02")
		if got != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.expr, tc.want, got)
		}
	}
}

func TestDynamicDefaultMonthOverflowClamps(t *testing.T) {
	ref := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	d, err := ParseDynamicDefault("+1m")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := d.Evaluate(ref).Format("2006-01-02"); got != "2025-02-28" {
		t.Fatalf("expected clamp to 2025-02-28, got %s", got)
	}
}

func TestDynamicDefaultRejectsMalformed(t *testing.T) {
	for _, expr := range []string{"", "sometime", "7d", "+d", "++1d", "+1day", "-1 d", "today tomorrow"} {
		if _, err := ParseDynamicDefault(expr); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}
