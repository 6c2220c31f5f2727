// Package domain holds the core page model: pages, their notebook source,
// display settings, and rendered-HTML records.
package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lsst-sqre/times-square/internal/domain/params"
)

// Person identifies a page author.
type Person struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Slack string `json:"slack_name,omitempty"`
}

// Page is a parameterized notebook registered with the service. The Ipynb
// field carries the notebook source verbatim; Parameters is the compiled
// schema set for its template variables.
type Page struct {
	Name        string
	Title       string
	Description string
	Ipynb       string
	Parameters  *params.Parameters

	Authors []Person
	Tags    []string

	// CacheTTL bounds how long a rendered result may be served before it
	// expires from the cache. Zero means cache forever.
	CacheTTL time.Duration

	// ExecutionTimeout bounds a single notebook execution. Zero applies
	// the service default.
	ExecutionTimeout time.Duration

	// UploaderUsername is set for API-uploaded pages.
	UploaderUsername string

	// GitHub-backed pages track their source location and content hashes
	// so a repository check can tell whether the stored page is current.
	GitHubOwner           string
	GitHubRepo            string
	RepositoryPath        string
	RepositorySidecarPath string
	RepositorySourceSha   string
	RepositorySidecarSha  string

	DateAdded   time.Time
	DateDeleted *time.Time
}

// NewPageName generates the URL slug for an API-uploaded page.
func NewPageName() string {
	return uuid.NewString()
}

// IsDeleted reports whether the page has been soft deleted.
func (p *Page) IsDeleted() bool { return p.DateDeleted != nil }

// GitHubBacked reports whether the page is sourced from a repository rather
// than an API upload.
func (p *Page) GitHubBacked() bool { return p.GitHubOwner != "" && p.GitHubRepo != "" }

// DisplayPath is the human-facing identifier: owner/repo/path for
// repository pages, the slug otherwise.
func (p *Page) DisplayPath() string {
	if p.GitHubBacked() {
		return fmt.Sprintf("%s/%s/%s", p.GitHubOwner, p.GitHubRepo, p.RepositoryPath)
	}
	return p.Name
}

// Instance binds a page to one fully-resolved set of parameter values. The
// values map must come from Parameters.ResolveValues; an Instance never
// carries raw input.
type Instance struct {
	Page   *Page
	Values map[string]any
}

// NewInstance resolves raw input values against the page's parameters and
// binds the result.
func NewInstance(p *Page, input map[string]any, now time.Time) (*Instance, error) {
	resolved, err := p.Parameters.ResolveValues(input, now)
	if err != nil {
		return nil, err
	}
	return &Instance{Page: p, Values: resolved}, nil
}

// QueryStringValues returns the canonical string form of every value, the
// representation cache keys and URLs are built from.
func (i *Instance) QueryStringValues() (map[string]string, error) {
	return i.Page.Parameters.QueryStringValues(i.Values)
}

// JSONValues returns the JSON-compatible form of every value.
func (i *Instance) JSONValues() (map[string]any, error) {
	return i.Page.Parameters.JSONValues(i.Values)
}

// RenderIpynb renders the page's notebook source with this instance's
// values and returns the notebook JSON ready for execution.
func (i *Instance) RenderIpynb() (string, error) {
	nb, err := ParseNotebook([]byte(i.Page.Ipynb))
	if err != nil {
		return "", fmt.Errorf("parse notebook for page %s: %w", i.Page.Name, err)
	}
	if err := nb.RenderParameters(i.Page.Parameters, i.Values); err != nil {
		return "", fmt.Errorf("render notebook for page %s: %w", i.Page.Name, err)
	}
	raw, err := nb.Marshal()
	if err != nil {
		return "", fmt.Errorf("serialize notebook for page %s: %w", i.Page.Name, err)
	}
	return string(raw), nil
}

// PageSummary is the listing projection of a page.
type PageSummary struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// SortSummaries orders page listings by title, falling back to name.
func SortSummaries(pages []PageSummary) {
	sort.Slice(pages, func(a, b int) bool {
		if pages[a].Title != pages[b].Title {
			return pages[a].Title < pages[b].Title
		}
		return pages[a].Name < pages[b].Name
	})
}
