package pages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/domain/params"
	"github.com/lsst-sqre/times-square/internal/repo"
	"github.com/lsst-sqre/times-square/internal/sidecar"
)

// CreatePageRequest is an API page upload.
type CreatePageRequest struct {
	Title            string
	Description      string
	Ipynb            string
	ParameterSchemas map[string]map[string]any
	Authors          []domain.Person
	Tags             []string
	CacheTTLSeconds  int
	TimeoutSeconds   int
	UploaderUsername string
}

// CreatePage registers an uploaded page under a fresh slug and eagerly
// executes its default parameter values so the first reader usually hits
// the cache.
func (s *Service) CreatePage(ctx context.Context, req CreatePageRequest) (*domain.Page, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("page title is required")
	}
	if req.Ipynb == "" {
		return nil, fmt.Errorf("page notebook is required")
	}
	if _, err := domain.ParseNotebook([]byte(req.Ipynb)); err != nil {
		return nil, err
	}

	parameters, err := params.Create(req.ParameterSchemas, nil)
	if err != nil {
		return nil, err
	}

	page := &domain.Page{
		Name:             domain.NewPageName(),
		Title:            req.Title,
		Description:      req.Description,
		Ipynb:            req.Ipynb,
		Parameters:       parameters,
		Authors:          req.Authors,
		Tags:             req.Tags,
		CacheTTL:         secondsDuration(req.CacheTTLSeconds),
		ExecutionTimeout: secondsDuration(req.TimeoutSeconds),
		UploaderUsername: req.UploaderUsername,
		DateAdded:        s.clock.Now(),
	}
	if err := s.pages.Add(ctx, page); err != nil {
		return nil, fmt.Errorf("store page: %w", err)
	}

	// Warm the cache with the default instance. The submission is best
	// effort: the page exists either way.
	if res, err := s.Resolve(ctx, page.Name, url.Values{}); err == nil {
		if _, err := s.submit(ctx, res, true); err != nil {
			s.logger.Warn("default execution submit failed",
				slog.String("page", page.Name),
				slog.String("error", err.Error()))
		}
	}

	return page, nil
}

// GetPage loads a page, excluding soft-deleted ones.
func (s *Service) GetPage(ctx context.Context, name string) (*domain.Page, error) {
	page, err := s.pages.Get(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if page.IsDeleted() {
		return nil, ErrNotFound
	}
	return page, nil
}

// ListPages lists live pages.
func (s *Service) ListPages(ctx context.Context) ([]domain.PageSummary, error) {
	return s.pages.List(ctx, repo.PageFilter{})
}

// UpdatePage replaces a page's content and metadata, then drops every
// cached rendering: the old renders no longer correspond to the page.
func (s *Service) UpdatePage(ctx context.Context, page *domain.Page) error {
	if err := s.pages.Update(ctx, page); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	n, err := s.dropRenders(ctx, page.Name)
	if err != nil {
		return fmt.Errorf("invalidate renders for page %s: %w", page.Name, err)
	}
	s.logger.Info("page updated",
		slog.String("page", page.Name),
		slog.Int("invalidated", n))
	return nil
}

// dropRenders removes every cached rendering for a page, sweeping the
// archived copies first while their keys are still enumerable.
func (s *Service) dropRenders(ctx context.Context, pageName string) (int, error) {
	if s.archive != nil {
		keys, err := s.htmls.KeysForPage(ctx, pageName)
		if err != nil {
			return 0, err
		}
		for _, key := range keys {
			if err := s.archive.Delete(ctx, key); err != nil {
				s.logger.Warn("archive delete failed",
					slog.String("key", key),
					slog.String("error", err.Error()))
			}
		}
	}
	return s.htmls.DeleteAllForPage(ctx, pageName)
}

func secondsDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// RepositoryPage is one page synced from a notebook repository: the notebook
// source, its sidecar settings file, and the content hashes of both.
type RepositoryPage struct {
	Owner       string
	Repo        string
	Path        string
	SidecarPath string
	Ipynb       string
	SidecarYAML []byte
	SourceSha   string
	SidecarSha  string
}

// SyncRepositoryPage creates or updates a repository-backed page from its
// checked-out source. A sidecar marked disabled soft-deletes an existing
// page and is otherwise ignored.
func (s *Service) SyncRepositoryPage(ctx context.Context, src RepositoryPage) (*domain.Page, error) {
	sc, err := sidecar.Parse(src.SidecarYAML)
	if err != nil {
		return nil, fmt.Errorf("sidecar for %s/%s/%s: %w", src.Owner, src.Repo, src.Path, err)
	}

	existing, err := s.findRepositoryPage(ctx, src)
	if err != nil {
		return nil, err
	}

	if !sc.IsEnabled() {
		if existing != nil {
			if err := s.SoftDeletePage(ctx, existing.Name); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	if _, err := domain.ParseNotebook([]byte(src.Ipynb)); err != nil {
		return nil, err
	}

	page := existing
	if page == nil {
		page = &domain.Page{
			Name:      domain.NewPageName(),
			DateAdded: s.clock.Now(),
		}
	}
	page.Ipynb = src.Ipynb
	page.GitHubOwner = src.Owner
	page.GitHubRepo = src.Repo
	page.RepositoryPath = src.Path
	page.RepositorySidecarPath = src.SidecarPath
	page.RepositorySourceSha = src.SourceSha
	page.RepositorySidecarSha = src.SidecarSha
	if err := sc.ApplyToPage(page); err != nil {
		return nil, err
	}

	if existing == nil {
		if err := s.pages.Add(ctx, page); err != nil {
			return nil, fmt.Errorf("store repository page: %w", err)
		}
		return page, nil
	}
	if err := s.UpdatePage(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// findRepositoryPage locates an existing page by repository coordinates.
func (s *Service) findRepositoryPage(ctx context.Context, src RepositoryPage) (*domain.Page, error) {
	summaries, err := s.pages.List(ctx, repo.PageFilter{
		GitHubOwner: src.Owner,
		GitHubRepo:  src.Repo,
	})
	if err != nil {
		return nil, err
	}
	for _, summary := range summaries {
		page, err := s.pages.Get(ctx, summary.Name)
		if err != nil {
			return nil, err
		}
		if page.RepositoryPath == src.Path && !page.IsDeleted() {
			return page, nil
		}
	}
	return nil, nil
}

// SoftDeletePage marks a page deleted and drops its cached renderings. The
// record survives for provenance.
func (s *Service) SoftDeletePage(ctx context.Context, name string) error {
	if err := s.pages.SoftDelete(ctx, name, s.clock.Now()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if _, err := s.dropRenders(ctx, name); err != nil {
		return fmt.Errorf("drop renders for page %s: %w", name, err)
	}
	s.logger.Info("page deleted", slog.String("page", name))
	return nil
}
