package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"time"
)

// DisplaySettings are the presentation options a rendered page can vary
// over, independent of its parameter values.
type DisplaySettings struct {
	HideCode bool `json:"hide_code"`
}

// DisplaySettingsMatrix enumerates every settings combination a render pass
// produces, so any later display request hits the cache.
func DisplaySettingsMatrix() []DisplaySettings {
	return []DisplaySettings{{HideCode: true}, {HideCode: false}}
}

// DisplaySettingsFromQuery reads display options from URL query parameters.
// Unset options take their defaults; hide_code defaults to on.
func DisplaySettingsFromQuery(q url.Values) DisplaySettings {
	ds := DisplaySettings{HideCode: true}
	switch q.Get("ts_hide_code") {
	case "0", "false":
		ds.HideCode = false
	}
	return ds
}

// QueryStringValues returns the canonical string form of each option, the
// representation cache keys are built from.
func (ds DisplaySettings) QueryStringValues() map[string]string {
	hide := "0"
	if ds.HideCode {
		hide = "1"
	}
	return map[string]string{"ts_hide_code": hide}
}

// HTMLRecord is one rendered page: the HTML for a specific page instance
// and display settings, plus execution provenance.
type HTMLRecord struct {
	PageName string          `json:"page_name"`
	HTML     string          `json:"html"`
	HTMLHash string          `json:"html_hash"`
	Values   map[string]any  `json:"values"`
	Display  DisplaySettings `json:"display_settings"`

	DateExecuted      time.Time     `json:"date_executed"`
	ExecutionDuration time.Duration `json:"execution_duration"`
	DateRendered      time.Time     `json:"date_rendered"`

	// Stale marks a record scheduled for recomputation. Readers keep
	// serving stale HTML until the fresh render overwrites it.
	Stale bool `json:"stale,omitempty"`
}

// NewHTMLRecord packages rendered HTML with its provenance. The hash is
// the hex SHA-256 of the HTML body.
func NewHTMLRecord(pageName, html string, values map[string]any, ds DisplaySettings,
	executed time.Time, duration time.Duration, rendered time.Time) *HTMLRecord {
	return &HTMLRecord{
		PageName:          pageName,
		HTML:              html,
		HTMLHash:          HashHTML(html),
		Values:            values,
		Display:           ds,
		DateExecuted:      executed,
		ExecutionDuration: duration,
		DateRendered:      rendered,
	}
}

// HashHTML returns the hex SHA-256 digest of an HTML body.
func HashHTML(html string) string {
	sum := sha256.Sum256([]byte(html))
	return hex.EncodeToString(sum[:])
}
