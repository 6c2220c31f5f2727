// Package cachekey derives the Redis keys under which rendered pages and
// execution jobs are stored. Keys are pure functions of their inputs and
// independent of map iteration order, so any two requests for the same page
// instance and display settings land on the same key.
package cachekey

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key is a parsed cache key.
type Key struct {
	Prefix   string
	PageName string
	Values   map[string]string
	Display  map[string]string
}

// Encode builds the key <prefix>/<pageName>/<b64(values)>/<b64(display)>.
// Both maps are serialized as sorted URL-encoded k=v pairs before encoding,
// which makes the key order-independent.
func Encode(prefix, pageName string, values, display map[string]string) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		prefix, pageName, encodeSegment(values), encodeSegment(display))
}

// EncodePagePattern returns the match pattern selecting every key for a
// page under a prefix, for SCAN-based enumeration.
func EncodePagePattern(prefix, pageName string) string {
	return fmt.Sprintf("%s/%s/*", prefix, pageName)
}

// Decode parses a key produced by Encode. Decoding is best effort: it is
// used for diagnostics and listing, never to authorize a lookup.
func Decode(key string) (*Key, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return nil, fmt.Errorf("cache key %q: expected 4 segments, got %d", key, len(parts))
	}
	values, err := decodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("cache key %q: values segment: %w", key, err)
	}
	display, err := decodeSegment(parts[3])
	if err != nil {
		return nil, fmt.Errorf("cache key %q: display segment: %w", key, err)
	}
	return &Key{
		Prefix:   parts[0],
		PageName: parts[1],
		Values:   values,
		Display:  display,
	}, nil
}

func encodeSegment(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(m[k]))
	}
	return base64.URLEncoding.EncodeToString([]byte(strings.Join(pairs, "&")))
}

func decodeSegment(segment string) (map[string]string, error) {
	raw, err := base64.URLEncoding.DecodeString(segment)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	parsed, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(parsed))
	for k := range parsed {
		out[k] = parsed.Get(k)
	}
	return out, nil
}
