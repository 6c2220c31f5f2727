package sidecar

import (
	"testing"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
)

const testSidecar = `
title: Nightly Report
description: Summary plots for the previous night.
authors:
  - name: Vera Rubin
    slack_name: vrubin
tags:
  - reporting
  - nightly
cache_ttl: 86400
timeout: 600
parameters:
  night:
    type: string
    format: dayobs
    dynamic_default: yesterday
    description: Observation night
  threshold:
    type: number
    default: 4
    minimum: 0
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(testSidecar))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if s.Title != "Nightly Report" {
		t.Fatalf("unexpected title: %q", s.Title)
	}
	if len(s.Authors) != 1 || s.Authors[0].Slack != "vrubin" {
		t.Fatalf("unexpected authors: %+v", s.Authors)
	}
	if !s.IsEnabled() {
		t.Fatal("absent enabled flag must mean enabled")
	}

	p, err := s.CompileParameters()
	if err != nil {
		t.Fatalf("compile parameters: %v", err)
	}
	night, ok := p.Get("night")
	if !ok {
		t.Fatal("missing night parameter")
	}
	if !night.HasDynamicDefault() {
		t.Fatal("dynamic_default not translated")
	}
	if night.Kind() != "dayobs" {
		t.Fatalf("format not translated: %q", night.Kind())
	}
	if _, hasFormat := night.JSONSchema()["format"]; hasFormat {
		t.Fatal("dayobs format must move to X-TS-Format")
	}

	def, err := night.Default(time.Date(2025, 5, 2, 20, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	// 20:00 UTC is 08:00 May 2 in UTC-12; yesterday is May 1.
	if def != 20250501 {
		t.Fatalf("unexpected dynamic default: %v", def)
	}
}

func TestParseRejectsBrokenParameter(t *testing.T) {
	_, err := Parse([]byte(`
title: Broken
parameters:
  p:
    type: string
`))
	if err == nil {
		t.Fatal("expected error for parameter without default")
	}
}

func TestApplyToPage(t *testing.T) {
	s, err := Parse([]byte(testSidecar))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	page := &domain.Page{Name: "nightly", Ipynb: "{}"}
	if err := s.ApplyToPage(page); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if page.Title != "Nightly Report" {
		t.Fatalf("title not applied: %q", page.Title)
	}
	if page.CacheTTL != 24*time.Hour {
		t.Fatalf("cache TTL not applied: %v", page.CacheTTL)
	}
	if page.ExecutionTimeout != 10*time.Minute {
		t.Fatalf("timeout not applied: %v", page.ExecutionTimeout)
	}
	if page.Parameters.Len() != 2 {
		t.Fatalf("parameters not applied: %d", page.Parameters.Len())
	}
	if len(page.Authors) != 1 || page.Authors[0].Name != "Vera Rubin" {
		t.Fatalf("authors not applied: %+v", page.Authors)
	}
}

func TestDisabledSidecar(t *testing.T) {
	s, err := Parse([]byte("title: Off\nenabled: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.IsEnabled() {
		t.Fatal("expected disabled")
	}
}
