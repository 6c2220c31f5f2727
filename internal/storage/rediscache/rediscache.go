// Package rediscache persists rendered-HTML records and pending execution
// jobs in Redis, keyed by the page instance they belong to.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lsst-sqre/times-square/internal/cachekey"
	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/noteburst"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("rediscache: record not found")

const (
	htmlPrefix = "nbhtml"
	jobPrefix  = "noteburst"

	// DefaultJobLifetime bounds how long a pending job record may sit in
	// the store before it is considered abandoned.
	DefaultJobLifetime = 10 * time.Minute
)

// HTMLKey is the cache key a rendering is stored under. The HTML archive
// reuses it as the object key so both copies of a render share one name.
func HTMLKey(pageName string, values, display map[string]string) string {
	return cachekey.Encode(htmlPrefix, pageName, values, display)
}

// store is the shared JSON-over-Redis persistence used by both record types.
type store struct {
	client *goredis.Client
	prefix string
}

func (s *store) set(ctx context.Context, key string, record any, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record for %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (s *store) get(ctx context.Context, key string, record any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("fetch %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, record); err != nil {
		return fmt.Errorf("decode record for %s: %w", key, err)
	}
	return nil
}

func (s *store) delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *store) keysForPage(ctx context.Context, pageName string) ([]string, error) {
	pattern := cachekey.EncodePagePattern(s.prefix, pageName)
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

// HTMLStore holds rendered-HTML records. A record's TTL comes from its
// page's cache policy; zero means it never expires.
type HTMLStore struct {
	store
}

func NewHTMLStore(client *goredis.Client) *HTMLStore {
	return &HTMLStore{store: store{client: client, prefix: htmlPrefix}}
}

func (s *HTMLStore) key(pageName string, values, display map[string]string) string {
	return cachekey.Encode(s.prefix, pageName, values, display)
}

func (s *HTMLStore) Store(ctx context.Context, record *domain.HTMLRecord,
	values, display map[string]string, ttl time.Duration) error {
	return s.set(ctx, s.key(record.PageName, values, display), record, ttl)
}

func (s *HTMLStore) Fetch(ctx context.Context, pageName string,
	values, display map[string]string) (*domain.HTMLRecord, error) {
	var record domain.HTMLRecord
	if err := s.get(ctx, s.key(pageName, values, display), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *HTMLStore) Delete(ctx context.Context, pageName string,
	values, display map[string]string) (bool, error) {
	return s.delete(ctx, s.key(pageName, values, display))
}

// MarkStale rewrites a record in place with its stale flag set, preserving
// the remaining TTL so an expiring record does not get a new lease.
func (s *HTMLStore) MarkStale(ctx context.Context, pageName string,
	values, display map[string]string) error {
	key := s.key(pageName, values, display)

	var record domain.HTMLRecord
	if err := s.get(ctx, key, &record); err != nil {
		return err
	}
	if record.Stale {
		return nil
	}
	record.Stale = true

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0 // no expiry
	}
	return s.set(ctx, key, &record, ttl)
}

// KeysForPage lists every stored render for a page.
func (s *HTMLStore) KeysForPage(ctx context.Context, pageName string) ([]string, error) {
	return s.keysForPage(ctx, pageName)
}

// DeleteAllForPage removes every stored render for a page and returns how
// many records were dropped.
func (s *HTMLStore) DeleteAllForPage(ctx context.Context, pageName string) (int, error) {
	keys, err := s.keysForPage(ctx, pageName)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete renders for page %s: %w", pageName, err)
	}
	return int(n), nil
}

// JobRecord tracks a pending execution for one page instance. Jobs are
// keyed by parameter values only: display settings do not affect execution,
// and all display variants come from the same job.
type JobRecord struct {
	PageName string         `json:"page_name"`
	Job      noteburst.Job  `json:"job"`
	Values   map[string]any `json:"values"`
}

// JobStore holds pending execution jobs with a bounded lifetime.
type JobStore struct {
	store
	lifetime time.Duration
}

func NewJobStore(client *goredis.Client, lifetime time.Duration) *JobStore {
	if lifetime <= 0 {
		lifetime = DefaultJobLifetime
	}
	return &JobStore{store: store{client: client, prefix: jobPrefix}, lifetime: lifetime}
}

func (s *JobStore) key(pageName string, values map[string]string) string {
	return cachekey.Encode(s.prefix, pageName, values, nil)
}

func (s *JobStore) Store(ctx context.Context, record *JobRecord, values map[string]string) error {
	return s.set(ctx, s.key(record.PageName, values), record, s.lifetime)
}

func (s *JobStore) Fetch(ctx context.Context, pageName string,
	values map[string]string) (*JobRecord, error) {
	var record JobRecord
	if err := s.get(ctx, s.key(pageName, values), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *JobStore) Delete(ctx context.Context, pageName string,
	values map[string]string) (bool, error) {
	return s.delete(ctx, s.key(pageName, values))
}
