// Package postgres implements the page repository on PostgreSQL. Parameter
// schemas, author lists and tags persist as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lsst-sqre/times-square/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func encodeJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

const pagesSchema = `
CREATE TABLE IF NOT EXISTS pages (
	name TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	ipynb TEXT NOT NULL,
	parameters JSONB NOT NULL DEFAULT '{}'::jsonb,
	authors JSONB NOT NULL DEFAULT '[]'::jsonb,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	cache_ttl_seconds BIGINT NOT NULL DEFAULT 0,
	execution_timeout_seconds BIGINT NOT NULL DEFAULT 0,
	uploader_username TEXT NOT NULL DEFAULT '',
	github_owner TEXT NOT NULL DEFAULT '',
	github_repo TEXT NOT NULL DEFAULT '',
	repository_path TEXT NOT NULL DEFAULT '',
	repository_sidecar_path TEXT NOT NULL DEFAULT '',
	repository_source_sha TEXT NOT NULL DEFAULT '',
	repository_sidecar_sha TEXT NOT NULL DEFAULT '',
	date_added TIMESTAMPTZ NOT NULL,
	date_deleted TIMESTAMPTZ
)`

// Migrate creates the pages table if it does not exist.
func Migrate(ctx context.Context, db DB) error {
	_, err := db.ExecContext(ctx, pagesSchema)
	return err
}
