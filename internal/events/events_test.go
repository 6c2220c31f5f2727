package events

import (
	"strings"
	"testing"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/noteburst"
	"github.com/lsst-sqre/times-square/internal/storage/rediscache"
)

func TestProjectNothingKnown(t *testing.T) {
	snap := Project(nil, nil, "")
	if snap.ExecutionStatus != StatusUnknown {
		t.Fatalf("unexpected status: %q", snap.ExecutionStatus)
	}
	if snap.Terminal() {
		t.Fatal("unknown must not be terminal")
	}
}

func TestProjectPendingJob(t *testing.T) {
	enqueued := time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)
	job := &rediscache.JobRecord{
		PageName: "p",
		Job: noteburst.Job{
			Status:      noteburst.StatusQueued,
			EnqueueTime: enqueued,
		},
	}
	snap := Project(job, nil, "")
	if snap.ExecutionStatus != StatusQueued {
		t.Fatalf("unexpected status: %q", snap.ExecutionStatus)
	}
	if snap.DateSubmitted == nil || !snap.DateSubmitted.Equal(enqueued) {
		t.Fatalf("unexpected submit time: %v", snap.DateSubmitted)
	}
	if snap.Terminal() {
		t.Fatal("queued must not be terminal")
	}

	started := enqueued.Add(2 * time.Second)
	job.Job.Status = noteburst.StatusInProgress
	job.Job.StartTime = &started
	snap = Project(job, nil, "")
	if snap.ExecutionStatus != StatusInProgress {
		t.Fatalf("unexpected status: %q", snap.ExecutionStatus)
	}
	if snap.DateStarted == nil || !snap.DateStarted.Equal(started) {
		t.Fatalf("unexpected start time: %v", snap.DateStarted)
	}
}

func TestProjectCompletedRender(t *testing.T) {
	executed := time.Date(2025, 5, 2, 12, 0, 5, 0, time.UTC)
	html := domain.NewHTMLRecord("p", "<html>x</html>", nil,
		domain.DisplaySettings{HideCode: true},
		executed, 10*time.Second, executed.Add(11*time.Second))

	snap := Project(nil, html, "https://example.org/v1/pages/p/html")
	if snap.ExecutionStatus != StatusComplete {
		t.Fatalf("unexpected status: %q", snap.ExecutionStatus)
	}
	if !snap.Terminal() {
		t.Fatal("fresh render must be terminal")
	}
	if snap.HTMLHash != html.HTMLHash {
		t.Fatalf("hash mismatch: %q", snap.HTMLHash)
	}
	if snap.HTMLURL == "" {
		t.Fatal("missing html URL")
	}
	if snap.ExecutionDuration == nil || *snap.ExecutionDuration != 10.0 {
		t.Fatalf("unexpected duration: %v", snap.ExecutionDuration)
	}
	if snap.DateFinished == nil || !snap.DateFinished.Equal(executed.Add(10*time.Second)) {
		t.Fatalf("unexpected finish time: %v", snap.DateFinished)
	}
}

func TestProjectStaleRenderKeepsStreaming(t *testing.T) {
	executed := time.Date(2025, 5, 2, 12, 0, 5, 0, time.UTC)
	html := domain.NewHTMLRecord("p", "<html>x</html>", nil,
		domain.DisplaySettings{}, executed, time.Second, executed)
	html.Stale = true

	snap := Project(nil, html, "")
	if snap.ExecutionStatus != StatusComplete {
		t.Fatalf("stale render still serves: %q", snap.ExecutionStatus)
	}
	if !snap.Recomputing {
		t.Fatal("stale render must report recomputing")
	}
	if snap.Terminal() {
		t.Fatal("recomputing must not be terminal")
	}
}

func TestProjectRenderWithPendingJob(t *testing.T) {
	executed := time.Date(2025, 5, 2, 12, 0, 5, 0, time.UTC)
	html := domain.NewHTMLRecord("p", "<html>x</html>", nil,
		domain.DisplaySettings{}, executed, time.Second, executed)
	job := &rediscache.JobRecord{PageName: "p", Job: noteburst.Job{Status: noteburst.StatusQueued}}

	snap := Project(job, html, "")
	if !snap.Recomputing || snap.Terminal() {
		t.Fatal("a pending job alongside a render means recomputation")
	}
}

func TestWriteSSE(t *testing.T) {
	var b strings.Builder
	snap := Project(nil, nil, "")
	if err := WriteSSE(&b, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := b.String()
	if !strings.HasPrefix(out, "data: {") {
		t.Fatalf("unexpected frame: %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("frame must end with blank line: %q", out)
	}
	if !strings.Contains(out, `"execution_status":"unknown"`) {
		t.Fatalf("missing status field: %q", out)
	}
}
