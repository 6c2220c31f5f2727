// Package background runs the deferred execution path: it consumes
// recompute tasks from the task queue and polls each execution to
// completion, overwriting the cached rendering when it lands.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/lsst-sqre/times-square/internal/noteburst"
	"github.com/lsst-sqre/times-square/internal/platform/clock"
	"github.com/lsst-sqre/times-square/internal/queue"
	"github.com/lsst-sqre/times-square/internal/service/pages"
	"github.com/lsst-sqre/times-square/internal/storage/rediscache"
)

// TaskSource yields background tasks.
type TaskSource interface {
	Dequeue(ctx context.Context, wait time.Duration) (*queue.Task, error)
}

// Config tunes the worker loop.
type Config struct {
	// PollInterval is the fixed delay between job status checks.
	PollInterval time.Duration
	// DequeueWait bounds one blocking queue read.
	DequeueWait time.Duration
	// DefaultExecutionTimeout bounds a poll loop for pages without their
	// own timeout.
	DefaultExecutionTimeout time.Duration
	// ResubmitBudget is how many times a lost job is resubmitted before
	// the task is abandoned.
	ResubmitBudget int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.DequeueWait <= 0 {
		c.DequeueWait = 5 * time.Second
	}
	if c.DefaultExecutionTimeout <= 0 {
		c.DefaultExecutionTimeout = 5 * time.Minute
	}
	if c.ResubmitBudget <= 0 {
		c.ResubmitBudget = 2
	}
}

// Worker consumes tasks until its context ends.
type Worker struct {
	svc    *pages.Service
	jobs   pages.JobCache
	source TaskSource
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config
}

func NewWorker(svc *pages.Service, jobs pages.JobCache, source TaskSource,
	clk clock.Clock, logger *slog.Logger, cfg Config) *Worker {
	if svc == nil || jobs == nil || source == nil {
		return nil
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Worker{svc: svc, jobs: jobs, source: source, clock: clk, logger: logger, cfg: cfg}
}

// Run consumes tasks until ctx is canceled. Task failures are logged and
// the loop moves on; a poisoned task never wedges the worker.
func (w *Worker) Run(ctx context.Context) error {
	for {
		task, err := w.source.Dequeue(ctx, w.cfg.DequeueWait)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", slog.String("error", err.Error()))
			continue
		}
		if err := w.Process(ctx, task); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("task failed",
				slog.String("task", task.Name),
				slog.String("page", task.PageName),
				slog.String("error", err.Error()))
		}
	}
}

// Process executes one task.
func (w *Worker) Process(ctx context.Context, task *queue.Task) error {
	switch task.Name {
	case queue.TaskReplaceHTML:
		return w.replaceHTML(ctx, task)
	default:
		return fmt.Errorf("unknown task %q", task.Name)
	}
}

// replaceHTML polls the pending execution for a page instance and
// overwrites the cached rendering when it completes. The loop is bounded
// by the page's execution timeout; on timeout the task fails without
// retry, leaving the stale rendering in place.
func (w *Worker) replaceHTML(ctx context.Context, task *queue.Task) error {
	res, err := w.svc.Resolve(ctx, task.PageName, valuesToQuery(task.Values))
	if err != nil {
		return fmt.Errorf("resolve task instance: %w", err)
	}

	jobRecord, err := w.jobs.Fetch(ctx, res.Page.Name, res.Values)
	if errors.Is(err, rediscache.ErrNotFound) {
		// The job record expired before we got here; nothing to poll.
		return fmt.Errorf("no pending execution for page %s", res.Page.Name)
	}
	if err != nil {
		return err
	}

	timeout := res.Page.ExecutionTimeout
	if timeout <= 0 {
		timeout = w.cfg.DefaultExecutionTimeout
	}
	deadline := w.clock.Now().Add(timeout)
	resubmits := 0

	for {
		job, err := w.svc.Executor().GetJob(ctx, jobRecord.Job.SelfURL)
		if err != nil {
			return err
		}

		switch job.Status {
		case noteburst.StatusComplete:
			if _, err := w.svc.HarvestJob(ctx, res, job); err != nil {
				return err
			}
			w.logger.Info("rendering replaced", slog.String("page", res.Page.Name))
			return nil

		case noteburst.StatusNotFound:
			if resubmits >= w.cfg.ResubmitBudget {
				return fmt.Errorf("execution lost %d times for page %s", resubmits+1, res.Page.Name)
			}
			resubmits++
			jobRecord, err = w.svc.Resubmit(ctx, res)
			if err != nil {
				return err
			}
		}

		if w.clock.Now().After(deadline) {
			return fmt.Errorf("execution timed out after %s for page %s", timeout, res.Page.Name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// valuesToQuery turns a task's JSON value map back into query form for
// resolution. JSON forms are always castable inputs.
func valuesToQuery(values map[string]any) url.Values {
	q := url.Values{}
	for name, value := range values {
		q.Set(name, fmt.Sprint(value))
	}
	return q
}
