// Package objectstore archives rendered HTML in a MinIO bucket, keyed by
// the render's cache key. The archive is a secondary copy for shareable
// links and postmortems; the Redis cache stays the serving path.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	platformstore "github.com/lsst-sqre/times-square/internal/platform/objectstore"
)

// HTMLArchive writes render artifacts to one bucket.
type HTMLArchive struct {
	client *minio.Client
	bucket string
}

func NewHTMLArchive(cfg platformstore.Config) (*HTMLArchive, error) {
	client, err := platformstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &HTMLArchive{client: client, bucket: cfg.BucketRenders}, nil
}

func NewHTMLArchiveWithClient(client *minio.Client, bucket string) (*HTMLArchive, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &HTMLArchive{client: client, bucket: bucket}, nil
}

// Put archives one rendered document under its cache key.
func (a *HTMLArchive) Put(ctx context.Context, cacheKey, html string) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("html archive not initialized")
	}
	body := strings.NewReader(html)
	_, err := a.client.PutObject(ctx, a.bucket, cacheKey, body, int64(body.Len()),
		minio.PutObjectOptions{ContentType: "text/html; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("archive render %s: %w", cacheKey, err)
	}
	return nil
}

// Delete removes one archived document.
func (a *HTMLArchive) Delete(ctx context.Context, cacheKey string) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("html archive not initialized")
	}
	return a.client.RemoveObject(ctx, a.bucket, cacheKey, minio.RemoveObjectOptions{})
}

// PresignGet returns a time-limited shareable URL for an archived render.
func (a *HTMLArchive) PresignGet(ctx context.Context, cacheKey string, ttl time.Duration) (string, error) {
	if a == nil || a.client == nil {
		return "", fmt.Errorf("html archive not initialized")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	u, err := a.client.PresignedGetObject(ctx, a.bucket, cacheKey, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign archived render %s: %w", cacheKey, err)
	}
	return u.String(), nil
}
