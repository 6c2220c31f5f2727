package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/domain/params"
	"github.com/lsst-sqre/times-square/internal/repo"
)

type PageStore struct {
	db DB
}

func NewPageStore(db DB) *PageStore {
	if db == nil {
		return nil
	}
	return &PageStore{db: db}
}

// storedParameters is the JSONB shape of a page's parameter set. The order
// list preserves declaration order across reloads.
type storedParameters struct {
	Order   []string                  `json:"order"`
	Schemas map[string]map[string]any `json:"schemas"`
}

func encodeParameters(p *params.Parameters) ([]byte, error) {
	stored := storedParameters{Order: []string{}, Schemas: map[string]map[string]any{}}
	if p != nil {
		stored.Order = p.Names()
		stored.Schemas = p.JSONSchemas()
	}
	return json.Marshal(stored)
}

func decodeParameters(raw []byte) (*params.Parameters, error) {
	var stored storedParameters
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	if len(stored.Schemas) == 0 {
		return params.Create(nil, nil)
	}
	return params.Create(stored.Schemas, stored.Order)
}

const pageColumns = `name, title, description, ipynb, parameters, authors, tags,
	cache_ttl_seconds, execution_timeout_seconds, uploader_username,
	github_owner, github_repo, repository_path, repository_sidecar_path,
	repository_source_sha, repository_sidecar_sha, date_added, date_deleted`

func (s *PageStore) Add(ctx context.Context, page *domain.Page) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("page store not initialized")
	}
	name := strings.TrimSpace(page.Name)
	if name == "" {
		return fmt.Errorf("page name is required")
	}

	parametersJSON, err := encodeParameters(page.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	authorsJSON, err := encodeJSON(page.Authors)
	if err != nil {
		return fmt.Errorf("encode authors: %w", err)
	}
	tagsJSON, err := encodeJSON(page.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO pages (`+pageColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		name,
		page.Title,
		page.Description,
		page.Ipynb,
		parametersJSON,
		authorsJSON,
		tagsJSON,
		int64(page.CacheTTL.Seconds()),
		int64(page.ExecutionTimeout.Seconds()),
		page.UploaderUsername,
		page.GitHubOwner,
		page.GitHubRepo,
		page.RepositoryPath,
		page.RepositorySidecarPath,
		page.RepositorySourceSha,
		page.RepositorySidecarSha,
		normalizeTime(page.DateAdded),
		page.DateDeleted,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (s *PageStore) Get(ctx context.Context, name string) (*domain.Page, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("page store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("page name is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+pageColumns+` FROM pages WHERE name = $1`,
		name,
	)
	return scanPage(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*domain.Page, error) {
	var (
		page            domain.Page
		parametersJSON  []byte
		authorsJSON     []byte
		tagsJSON        []byte
		cacheTTLSeconds int64
		timeoutSeconds  int64
		dateDeleted     sql.NullTime
	)
	err := row.Scan(
		&page.Name,
		&page.Title,
		&page.Description,
		&page.Ipynb,
		&parametersJSON,
		&authorsJSON,
		&tagsJSON,
		&cacheTTLSeconds,
		&timeoutSeconds,
		&page.UploaderUsername,
		&page.GitHubOwner,
		&page.GitHubRepo,
		&page.RepositoryPath,
		&page.RepositorySidecarPath,
		&page.RepositorySourceSha,
		&page.RepositorySidecarSha,
		&page.DateAdded,
		&dateDeleted,
	)
	if err != nil {
		return nil, handleNotFound(err)
	}

	page.Parameters, err = decodeParameters(parametersJSON)
	if err != nil {
		return nil, fmt.Errorf("decode parameters for page %s: %w", page.Name, err)
	}
	if len(authorsJSON) > 0 {
		if err := json.Unmarshal(authorsJSON, &page.Authors); err != nil {
			return nil, fmt.Errorf("decode authors for page %s: %w", page.Name, err)
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &page.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for page %s: %w", page.Name, err)
		}
	}
	page.CacheTTL = time.Duration(cacheTTLSeconds) * time.Second
	page.ExecutionTimeout = time.Duration(timeoutSeconds) * time.Second
	if dateDeleted.Valid {
		t := dateDeleted.Time.UTC()
		page.DateDeleted = &t
	}
	return &page, nil
}

func (s *PageStore) Update(ctx context.Context, page *domain.Page) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("page store not initialized")
	}
	parametersJSON, err := encodeParameters(page.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	authorsJSON, err := encodeJSON(page.Authors)
	if err != nil {
		return fmt.Errorf("encode authors: %w", err)
	}
	tagsJSON, err := encodeJSON(page.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pages SET
			title = $2,
			description = $3,
			ipynb = $4,
			parameters = $5,
			authors = $6,
			tags = $7,
			cache_ttl_seconds = $8,
			execution_timeout_seconds = $9,
			repository_source_sha = $10,
			repository_sidecar_sha = $11,
			date_deleted = $12
		 WHERE name = $1`,
		page.Name,
		page.Title,
		page.Description,
		page.Ipynb,
		parametersJSON,
		authorsJSON,
		tagsJSON,
		int64(page.CacheTTL.Seconds()),
		int64(page.ExecutionTimeout.Seconds()),
		page.RepositorySourceSha,
		page.RepositorySidecarSha,
		page.DateDeleted,
	)
	if err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	return requireRowAffected(res)
}

func (s *PageStore) SoftDelete(ctx context.Context, name string, when time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("page store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pages SET date_deleted = $2 WHERE name = $1 AND date_deleted IS NULL`,
		strings.TrimSpace(name),
		normalizeTime(when),
	)
	if err != nil {
		return fmt.Errorf("soft delete page: %w", err)
	}
	return requireRowAffected(res)
}

func (s *PageStore) List(ctx context.Context, filter repo.PageFilter) ([]domain.PageSummary, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("page store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if !filter.IncludeDeleted {
		clauses = append(clauses, "date_deleted IS NULL")
	}
	if filter.GitHubOwner != "" {
		args = append(args, filter.GitHubOwner)
		clauses = append(clauses, fmt.Sprintf("github_owner = $%d", len(args)))
	}
	if filter.GitHubRepo != "" {
		args = append(args, filter.GitHubRepo)
		clauses = append(clauses, fmt.Sprintf("github_repo = $%d", len(args)))
	}

	query := `SELECT name, title FROM pages`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY title, name"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	pages := make([]domain.PageSummary, 0)
	for rows.Next() {
		var p domain.PageSummary
		if err := rows.Scan(&p.Name, &p.Title); err != nil {
			return nil, fmt.Errorf("scan page summary: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}
