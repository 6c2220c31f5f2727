package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/domain/params"
	"github.com/lsst-sqre/times-square/internal/noteburst"
	"github.com/lsst-sqre/times-square/internal/platform/clock"
	"github.com/lsst-sqre/times-square/internal/queue"
	"github.com/lsst-sqre/times-square/internal/render"
	"github.com/lsst-sqre/times-square/internal/repo"
	"github.com/lsst-sqre/times-square/internal/service/pages"
	"github.com/lsst-sqre/times-square/internal/storage/rediscache"
)

const testIpynb = `{
  "cells": [
    {"cell_type": "code", "metadata": {}, "source": "A = 0", "outputs": []}
  ],
  "metadata": {}, "nbformat": 4, "nbformat_minor": 5
}`

type fakePageRepo struct {
	pages map[string]*domain.Page
}

func (r *fakePageRepo) Add(ctx context.Context, page *domain.Page) error {
	r.pages[page.Name] = page
	return nil
}

func (r *fakePageRepo) Get(ctx context.Context, name string) (*domain.Page, error) {
	page, ok := r.pages[name]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return page, nil
}

func (r *fakePageRepo) Update(ctx context.Context, page *domain.Page) error { return nil }

func (r *fakePageRepo) SoftDelete(ctx context.Context, name string, when time.Time) error {
	return nil
}

func (r *fakePageRepo) List(ctx context.Context, filter repo.PageFilter) ([]domain.PageSummary, error) {
	return nil, nil
}

type fakeExecutor struct {
	mu        sync.Mutex
	jobs      map[string]*noteburst.Job
	submitted []string
	nextID    int
}

func (f *fakeExecutor) SubmitJob(ctx context.Context, ipynb string, opts noteburst.SubmitOptions) (*noteburst.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.submitted = append(f.submitted, ipynb)
	job := &noteburst.Job{
		SelfURL:     fmt.Sprintf("http://noteburst/jobs/%d", f.nextID),
		Status:      noteburst.StatusQueued,
		EnqueueTime: time.Now().UTC(),
	}
	f.jobs[job.SelfURL] = job
	copied := *job
	return &copied, nil
}

func (f *fakeExecutor) GetJob(ctx context.Context, jobURL string) (*noteburst.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobURL]
	if !ok {
		return &noteburst.Job{SelfURL: jobURL, Status: noteburst.StatusNotFound}, nil
	}
	copied := *job
	return &copied, nil
}

func (f *fakeExecutor) complete(jobURL, ipynb string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobURL]
	start := job.EnqueueTime
	finish := start.Add(5 * time.Second)
	success := true
	job.Status = noteburst.StatusComplete
	job.StartTime = &start
	job.FinishTime = &finish
	job.Success = &success
	job.Ipynb = ipynb
}

func (f *fakeExecutor) submissionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func (f *fakeExecutor) lastSubmission() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := fmt.Sprintf("http://noteburst/jobs/%d", f.nextID)
	return url, f.submitted[len(f.submitted)-1]
}

func (f *fakeExecutor) drop(jobURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobURL)
}

func (f *fakeExecutor) statusOf(jobURL string) (noteburst.JobStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobURL]
	if !ok {
		return "", false
	}
	return job.Status, true
}

type sliceSource struct {
	tasks []*queue.Task
}

func (s *sliceSource) Dequeue(ctx context.Context, wait time.Duration) (*queue.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.tasks) == 0 {
		return nil, queue.ErrEmpty
	}
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	return task, nil
}

type testEnv struct {
	worker *Worker
	svc    *pages.Service
	exec   *fakeExecutor
	htmls  *rediscache.HTMLStore
	jobs   *rediscache.JobStore
	source *sliceSource
}

func newTestEnv(t *testing.T, executionTimeout time.Duration) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	parameters, err := params.Create(map[string]map[string]any{
		"A": {"type": "number", "default": 4},
	}, nil)
	if err != nil {
		t.Fatalf("create parameters: %v", err)
	}
	pageRepo := &fakePageRepo{pages: map[string]*domain.Page{
		"my-page": {
			Name:             "my-page",
			Title:            "My Page",
			Ipynb:            testIpynb,
			Parameters:       parameters,
			ExecutionTimeout: executionTimeout,
		},
	}}

	exec := &fakeExecutor{jobs: map[string]*noteburst.Job{}}
	htmls := rediscache.NewHTMLStore(client)
	jobs := rediscache.NewJobStore(client, time.Minute)
	renderer := func(nb *domain.Notebook, title string, hideCode bool) (string, error) {
		return render.HTML(nb, render.Options{Title: title, HideCode: hideCode})
	}
	source := &sliceSource{}

	svc := pages.New(pageRepo, htmls, jobs, exec, nil, renderer, clock.Real{}, slog.Default(), pages.Config{})
	worker := NewWorker(svc, jobs, source, clock.Real{}, slog.Default(), Config{
		PollInterval: 5 * time.Millisecond,
		DequeueWait:  10 * time.Millisecond,
	})
	return &testEnv{worker: worker, svc: svc, exec: exec, htmls: htmls, jobs: jobs, source: source}
}

// startExecution seeds a pending job the way SoftDeleteHTML would.
func startExecution(t *testing.T, env *testEnv) *queue.Task {
	t.Helper()
	ctx := context.Background()
	res, err := env.svc.Resolve(ctx, "my-page", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := env.svc.Resubmit(ctx, res); err != nil {
		t.Fatalf("submit: %v", err)
	}
	values, err := res.Instance.JSONValues()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	return &queue.Task{Name: queue.TaskReplaceHTML, PageName: "my-page", Values: values}
}

func TestReplaceHTMLOverwritesCache(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()
	task := startExecution(t, env)

	lastURL, submitted := env.exec.lastSubmission()
	env.exec.complete(lastURL, submitted)

	if err := env.worker.Process(ctx, task); err != nil {
		t.Fatalf("process: %v", err)
	}

	values := map[string]string{"A": "4"}
	for _, ds := range domain.DisplaySettingsMatrix() {
		record, err := env.htmls.Fetch(ctx, "my-page", values, ds.QueryStringValues())
		if err != nil {
			t.Fatalf("variant %+v missing: %v", ds, err)
		}
		if record.Stale {
			t.Fatal("fresh rendering must not be stale")
		}
	}
	if _, err := env.jobs.Fetch(ctx, "my-page", values); !errors.Is(err, rediscache.ErrNotFound) {
		t.Fatalf("job record should be deleted, got %v", err)
	}
}

func TestReplaceHTMLPollsUntilComplete(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()
	task := startExecution(t, env)

	// Complete the job shortly after the worker starts polling.
	lastURL, submitted := env.exec.lastSubmission()
	go func() {
		time.Sleep(20 * time.Millisecond)
		env.exec.complete(lastURL, submitted)
	}()

	if err := env.worker.Process(ctx, task); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestReplaceHTMLTimesOutWithoutRetry(t *testing.T) {
	env := newTestEnv(t, 30*time.Millisecond)
	ctx := context.Background()
	task := startExecution(t, env)

	err := env.worker.Process(ctx, task)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout, got %v", err)
	}
	// Exactly one submission: a timeout is not retried.
	if n := env.exec.submissionCount(); n != 1 {
		t.Fatalf("timeout must not resubmit, got %d submissions", n)
	}
}

func TestReplaceHTMLResubmitsLostJob(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()
	task := startExecution(t, env)

	// The execution service lost the first job; the resubmitted one
	// completes.
	firstURL, _ := env.exec.lastSubmission()
	env.exec.drop(firstURL)
	go func() {
		// Wait for the resubmission to land, then complete it.
		for i := 0; i < 100; i++ {
			time.Sleep(10 * time.Millisecond)
			url, submitted := env.exec.lastSubmission()
			if status, ok := env.exec.statusOf(url); ok && status == noteburst.StatusQueued {
				env.exec.complete(url, submitted)
				return
			}
		}
	}()

	deadline := time.After(2 * time.Second)
	done := make(chan error, 1)
	go func() { done <- env.worker.Process(ctx, task) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("process: %v", err)
		}
	case <-deadline:
		t.Fatal("worker did not finish")
	}
	if n := env.exec.submissionCount(); n != 2 {
		t.Fatalf("expected one resubmission, got %d submissions", n)
	}
}

func TestProcessUnknownTask(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	err := env.worker.Process(context.Background(), &queue.Task{Name: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestProcessMissingJobRecord(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	task := &queue.Task{Name: queue.TaskReplaceHTML, PageName: "my-page", Values: map[string]any{"A": 4.0}}
	err := env.worker.Process(context.Background(), task)
	if err == nil || !strings.Contains(err.Error(), "no pending execution") {
		t.Fatalf("expected missing-job error, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.worker.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
