// Package events projects the execution state of a page instance into
// status snapshots for server-sent event streams. A snapshot is a pure
// function of the pending job record and the cached rendering; no state
// lives here, so any number of subscribers can project concurrently.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/noteburst"
	"github.com/lsst-sqre/times-square/internal/storage/rediscache"
)

// ExecutionStatus is the projected lifecycle state.
type ExecutionStatus string

const (
	StatusUnknown    ExecutionStatus = "unknown"
	StatusQueued     ExecutionStatus = "queued"
	StatusInProgress ExecutionStatus = "in_progress"
	StatusComplete   ExecutionStatus = "complete"
)

// Snapshot is one observed state of a page instance's execution.
type Snapshot struct {
	DateSubmitted     *time.Time      `json:"date_submitted"`
	DateStarted       *time.Time      `json:"date_started"`
	DateFinished      *time.Time      `json:"date_finished"`
	ExecutionStatus   ExecutionStatus `json:"execution_status"`
	ExecutionDuration *float64        `json:"execution_duration"`
	HTMLHash          string          `json:"html_hash,omitempty"`
	HTMLURL           string          `json:"html_url,omitempty"`
	HTMLShareURL      string          `json:"html_share_url,omitempty"`
	Recomputing       bool            `json:"recomputing,omitempty"`
}

// Terminal reports whether the stream can end: once a fresh rendering
// exists and no job is pending, no further snapshot will differ.
func (s Snapshot) Terminal() bool {
	return s.ExecutionStatus == StatusComplete && !s.Recomputing
}

// Project derives a snapshot. A cached rendering wins over the job record;
// a stale rendering reports complete but recomputing, so subscribers keep
// listening for the overwrite.
func Project(job *rediscache.JobRecord, html *domain.HTMLRecord, htmlURL string) Snapshot {
	if html != nil {
		finished := html.DateExecuted.Add(html.ExecutionDuration)
		duration := html.ExecutionDuration.Seconds()
		return Snapshot{
			DateSubmitted:     timePtr(html.DateExecuted),
			DateStarted:       timePtr(html.DateExecuted),
			DateFinished:      timePtr(finished),
			ExecutionStatus:   StatusComplete,
			ExecutionDuration: &duration,
			HTMLHash:          html.HTMLHash,
			HTMLURL:           htmlURL,
			Recomputing:       html.Stale || job != nil,
		}
	}
	if job != nil {
		snap := Snapshot{
			DateSubmitted:   timePtr(job.Job.EnqueueTime),
			DateStarted:     job.Job.StartTime,
			ExecutionStatus: statusFromJob(job.Job.Status),
		}
		return snap
	}
	return Snapshot{ExecutionStatus: StatusUnknown}
}

func statusFromJob(status noteburst.JobStatus) ExecutionStatus {
	switch status {
	case noteburst.StatusDeferred, noteburst.StatusQueued:
		return StatusQueued
	case noteburst.StatusInProgress:
		return StatusInProgress
	case noteburst.StatusComplete:
		// The job finished but the rendering has not landed yet; report
		// in-progress until the cache write makes it observable.
		return StatusInProgress
	default:
		return StatusUnknown
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// WriteSSE encodes a snapshot as one server-sent event.
func WriteSSE(w io.Writer, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
