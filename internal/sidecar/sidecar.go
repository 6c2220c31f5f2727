// Package sidecar parses the YAML settings file that accompanies a
// notebook in a GitHub-backed repository. The sidecar carries the page's
// presentation metadata and its parameter schemas.
package sidecar

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/domain/params"
)

// Author mirrors the sidecar's author entries.
type Author struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Slack string `yaml:"slack_name"`
}

// Sidecar is a parsed settings file. Durations are whole seconds in the
// file; zero means unset.
type Sidecar struct {
	Title       string                    `yaml:"title"`
	Description string                    `yaml:"description"`
	Authors     []Author                  `yaml:"authors"`
	Tags        []string                  `yaml:"tags"`
	Enabled     *bool                     `yaml:"enabled"`
	CacheTTL    int                       `yaml:"cache_ttl"`
	Timeout     int                       `yaml:"timeout"`
	Parameters  map[string]map[string]any `yaml:"parameters"`
}

// Parse decodes and validates a sidecar file. Parameter schemas are fully
// compiled so a broken sidecar is rejected before a page is stored.
func Parse(raw []byte) (*Sidecar, error) {
	var s Sidecar
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode sidecar: %w", err)
	}
	if _, err := s.CompileParameters(); err != nil {
		return nil, err
	}
	return &s, nil
}

// IsEnabled reports whether the page should be published. Absent means
// enabled.
func (s *Sidecar) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// CompileParameters builds the parameter set from the sidecar's schemas,
// translating the sidecar spellings to the canonical schema keys.
func (s *Sidecar) CompileParameters() (*params.Parameters, error) {
	schemas := make(map[string]map[string]any, len(s.Parameters))
	for name, doc := range s.Parameters {
		schemas[name] = canonicalSchema(doc)
	}
	return params.Create(schemas, nil)
}

// canonicalSchema rewrites sidecar-only keys: dynamic_default becomes
// X-Dynamic-Default, and the nonstandard dayobs formats move from format to
// X-TS-Format so the stored schema stays valid JSON schema.
func canonicalSchema(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	if dyn, ok := out["dynamic_default"]; ok {
		delete(out, "dynamic_default")
		out["X-Dynamic-Default"] = dyn
	}
	if format, ok := out["format"].(string); ok {
		switch format {
		case "dayobs", "dayobs-date":
			delete(out, "format")
			out["X-TS-Format"] = format
		}
	}
	return out
}

// ApplyToPage copies the sidecar's metadata onto a page record. The page's
// name, notebook source and repository provenance are owned by the caller.
func (s *Sidecar) ApplyToPage(page *domain.Page) error {
	parameters, err := s.CompileParameters()
	if err != nil {
		return err
	}
	page.Title = s.Title
	page.Description = s.Description
	page.Tags = append([]string(nil), s.Tags...)
	page.Authors = make([]domain.Person, 0, len(s.Authors))
	for _, a := range s.Authors {
		page.Authors = append(page.Authors, domain.Person{
			Name:  a.Name,
			Email: a.Email,
			Slack: a.Slack,
		})
	}
	page.CacheTTL = time.Duration(s.CacheTTL) * time.Second
	page.ExecutionTimeout = time.Duration(s.Timeout) * time.Second
	page.Parameters = parameters
	return nil
}
