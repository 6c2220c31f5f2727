// Package repo defines the persistence contracts for page records.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PageFilter narrows page listings.
type PageFilter struct {
	// GitHubOwner and GitHubRepo select the pages backed by one
	// repository.
	GitHubOwner string
	GitHubRepo  string
	// IncludeDeleted keeps soft-deleted pages in the result.
	IncludeDeleted bool
	Limit          int
}

// PageRepository manages page records. Names are immutable; a page is
// soft deleted by setting its deletion date, never removed.
type PageRepository interface {
	Add(ctx context.Context, page *domain.Page) error
	Get(ctx context.Context, name string) (*domain.Page, error)
	Update(ctx context.Context, page *domain.Page) error
	SoftDelete(ctx context.Context, name string, when time.Time) error
	List(ctx context.Context, filter PageFilter) ([]domain.PageSummary, error)
}
