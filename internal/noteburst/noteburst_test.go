package noteburst

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSubmitJob(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/noteburst/v1/notebooks/" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotBody, _ = req["ipynb"].(string)
		if retry, _ := req["enable_retry"].(bool); retry {
			t.Error("expected enable_retry=false")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"self_url":     "http://noteburst/jobs/abc",
			"status":       "queued",
			"enqueue_time": "2025-05-02T12:00:00Z",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok", Timeout: 5 * time.Second})
	job, err := c.SubmitJob(context.Background(), `{"cells":[]}`, SubmitOptions{EnableRetry: false})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotBody != `{"cells":[]}` {
		t.Fatalf("unexpected ipynb payload: %q", gotBody)
	}
	if job.SelfURL != "http://noteburst/jobs/abc" {
		t.Fatalf("unexpected job URL: %q", job.SelfURL)
	}
	if job.Status != StatusQueued {
		t.Fatalf("unexpected status: %q", job.Status)
	}
	if !job.EnqueueTime.Equal(time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected enqueue time: %v", job.EnqueueTime)
	}
}

func TestGetJobComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("source") != "true" {
			t.Errorf("expected source=true, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"self_url":    "http://noteburst/jobs/abc",
			"status":      "complete",
			"start_time":  "2025-05-02T12:00:01Z",
			"finish_time": "2025-05-02T12:00:11Z",
			"success":     true,
			"ipynb":       `{"cells":[]}`,
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	job, err := c.GetJob(context.Background(), srv.URL+"/jobs/abc")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != StatusComplete {
		t.Fatalf("unexpected status: %q", job.Status)
	}
	if job.Success == nil || !*job.Success {
		t.Fatal("expected success")
	}
	d, ok := job.RuntimeDuration()
	if !ok || d != 10*time.Second {
		t.Fatalf("unexpected runtime: %v (%v)", d, ok)
	}
	if job.Ipynb == "" {
		t.Fatal("expected source notebook in response")
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	job, err := c.GetJob(context.Background(), srv.URL+"/jobs/gone")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != StatusNotFound {
		t.Fatalf("expected not_found, got %q", job.Status)
	}
	if !job.Status.Terminal() {
		t.Fatal("not_found must be terminal")
	}
}

func TestSubmitJobServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if _, err := c.SubmitJob(context.Background(), "{}", SubmitOptions{}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestStatusTerminality(t *testing.T) {
	terminal := map[JobStatus]bool{
		StatusDeferred:   false,
		StatusQueued:     false,
		StatusInProgress: false,
		StatusComplete:   true,
		StatusNotFound:   true,
	}
	for status, want := range terminal {
		if status.Terminal() != want {
			t.Fatalf("%s: expected terminal=%v", status, want)
		}
	}
}
