// Package pages is the interactive orchestrator: it resolves page requests
// into cached renderings, submitting and polling executions as needed.
package pages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/noteburst"
	"github.com/lsst-sqre/times-square/internal/platform/clock"
	"github.com/lsst-sqre/times-square/internal/queue"
	"github.com/lsst-sqre/times-square/internal/repo"
	"github.com/lsst-sqre/times-square/internal/storage/rediscache"
)

// ErrNotFound is returned for unknown or deleted pages.
var ErrNotFound = errors.New("page not found")

// HTMLCache is the rendered-result store the orchestrator reads and writes.
type HTMLCache interface {
	Store(ctx context.Context, record *domain.HTMLRecord, values, display map[string]string, ttl time.Duration) error
	Fetch(ctx context.Context, pageName string, values, display map[string]string) (*domain.HTMLRecord, error)
	MarkStale(ctx context.Context, pageName string, values, display map[string]string) error
	KeysForPage(ctx context.Context, pageName string) ([]string, error)
	DeleteAllForPage(ctx context.Context, pageName string) (int, error)
}

// JobCache tracks pending executions per page instance.
type JobCache interface {
	Store(ctx context.Context, record *rediscache.JobRecord, values map[string]string) error
	Fetch(ctx context.Context, pageName string, values map[string]string) (*rediscache.JobRecord, error)
	Delete(ctx context.Context, pageName string, values map[string]string) (bool, error)
}

// Executor runs notebooks remotely.
type Executor interface {
	SubmitJob(ctx context.Context, ipynb string, opts noteburst.SubmitOptions) (*noteburst.Job, error)
	GetJob(ctx context.Context, jobURL string) (*noteburst.Job, error)
}

// TaskQueue hands recompute work to the background worker.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *queue.Task) error
}

// Archive receives a secondary copy of every successful render, backs
// presigned share links, and is swept when a page goes away. Archive write
// failures are logged, never surfaced: the cache write is what serves.
type Archive interface {
	Put(ctx context.Context, cacheKey string, html string) error
	Delete(ctx context.Context, cacheKey string) error
	PresignGet(ctx context.Context, cacheKey string, ttl time.Duration) (string, error)
}

// Renderer turns an executed notebook into HTML.
type Renderer func(nb *domain.Notebook, title string, hideCode bool) (string, error)

// Config tunes orchestrator behavior.
type Config struct {
	// KernelName is passed to the execution service.
	KernelName string
	// DefaultExecutionTimeout applies to pages without their own.
	DefaultExecutionTimeout time.Duration
	// ShareLinkTTL bounds presigned archive links. Zero uses the
	// archive's own default.
	ShareLinkTTL time.Duration
}

type Service struct {
	pages    repo.PageRepository
	htmls    HTMLCache
	jobs     JobCache
	executor Executor
	tasks    TaskQueue
	archive  Archive
	render   Renderer
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config
}

func New(pageRepo repo.PageRepository, htmls HTMLCache, jobs JobCache,
	executor Executor, tasks TaskQueue, render Renderer,
	clk clock.Clock, logger *slog.Logger, cfg Config) *Service {
	if pageRepo == nil || htmls == nil || jobs == nil || executor == nil || render == nil {
		return nil
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultExecutionTimeout <= 0 {
		cfg.DefaultExecutionTimeout = 5 * time.Minute
	}
	return &Service{
		pages:    pageRepo,
		htmls:    htmls,
		jobs:     jobs,
		executor: executor,
		tasks:    tasks,
		render:   render,
		clock:    clk,
		logger:   logger,
		cfg:      cfg,
	}
}

// WithArchive attaches the optional HTML archive.
func (s *Service) WithArchive(archive Archive) *Service {
	s.archive = archive
	return s
}

// Resolved carries one fully-resolved request: the page, its instance, and
// the canonical cache-key inputs.
type Resolved struct {
	Page     *domain.Page
	Instance *domain.Instance
	Values   map[string]string
	Display  domain.DisplaySettings
}

// Resolve turns a request's page name and query into a resolved instance.
// Unknown pages and deleted pages are both ErrNotFound.
func (s *Service) Resolve(ctx context.Context, name string, query url.Values) (*Resolved, error) {
	page, err := s.pages.Get(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load page %s: %w", name, err)
	}
	if page.IsDeleted() {
		return nil, ErrNotFound
	}

	input := make(map[string]any, len(query))
	for key := range query {
		input[key] = query.Get(key)
	}
	instance, err := domain.NewInstance(page, input, s.clock.Now())
	if err != nil {
		return nil, err
	}
	values, err := instance.QueryStringValues()
	if err != nil {
		return nil, err
	}
	return &Resolved{
		Page:     page,
		Instance: instance,
		Values:   values,
		Display:  domain.DisplaySettingsFromQuery(query),
	}, nil
}

// GetHTML returns the rendering for a page instance, or nil when no result
// is ready yet. A nil result means an execution is underway (or was just
// submitted) and the caller should retry.
func (s *Service) GetHTML(ctx context.Context, name string, query url.Values) (*domain.HTMLRecord, error) {
	res, err := s.Resolve(ctx, name, query)
	if err != nil {
		return nil, err
	}

	record, err := s.htmls.Fetch(ctx, res.Page.Name, res.Values, res.Display.QueryStringValues())
	if err == nil {
		// Stale records still serve; the background worker overwrites
		// them in place.
		return record, nil
	}
	if !errors.Is(err, rediscache.ErrNotFound) {
		return nil, err
	}

	jobRecord, err := s.jobs.Fetch(ctx, res.Page.Name, res.Values)
	if errors.Is(err, rediscache.ErrNotFound) {
		if _, err := s.submit(ctx, res, false); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return s.pollOnce(ctx, res, jobRecord)
}

// Status reports the pending job and cached rendering for a page instance,
// for status endpoints and event streams.
func (s *Service) Status(ctx context.Context, name string, query url.Values) (*rediscache.JobRecord, *domain.HTMLRecord, error) {
	res, err := s.Resolve(ctx, name, query)
	if err != nil {
		return nil, nil, err
	}

	var job *rediscache.JobRecord
	if j, err := s.jobs.Fetch(ctx, res.Page.Name, res.Values); err == nil {
		job = j
	} else if !errors.Is(err, rediscache.ErrNotFound) {
		return nil, nil, err
	}

	var record *domain.HTMLRecord
	if r, err := s.htmls.Fetch(ctx, res.Page.Name, res.Values, res.Display.QueryStringValues()); err == nil {
		record = r
	} else if !errors.Is(err, rediscache.ErrNotFound) {
		return nil, nil, err
	}

	return job, record, nil
}

// SoftDeleteHTML marks every cached rendering for the instance stale and
// schedules a background recompute. Readers keep the stale result until the
// worker overwrites it.
func (s *Service) SoftDeleteHTML(ctx context.Context, name string, query url.Values) error {
	res, err := s.Resolve(ctx, name, query)
	if err != nil {
		return err
	}

	for _, ds := range domain.DisplaySettingsMatrix() {
		err := s.htmls.MarkStale(ctx, res.Page.Name, res.Values, ds.QueryStringValues())
		if err != nil && !errors.Is(err, rediscache.ErrNotFound) {
			return err
		}
	}

	if _, err := s.submit(ctx, res, true); err != nil {
		return err
	}

	if s.tasks != nil {
		jsonValues, err := res.Instance.JSONValues()
		if err != nil {
			return err
		}
		task := &queue.Task{
			Name:     queue.TaskReplaceHTML,
			PageName: res.Page.Name,
			Values:   jsonValues,
		}
		if err := s.tasks.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("enqueue recompute for page %s: %w", res.Page.Name, err)
		}
	}
	return nil
}

// ShareURL returns a presigned link to the archived copy of the instance's
// rendering. Empty when no archive is attached.
func (s *Service) ShareURL(ctx context.Context, name string, query url.Values) (string, error) {
	if s.archive == nil {
		return "", nil
	}
	res, err := s.Resolve(ctx, name, query)
	if err != nil {
		return "", err
	}
	key := rediscache.HTMLKey(res.Page.Name, res.Values, res.Display.QueryStringValues())
	return s.archive.PresignGet(ctx, key, s.cfg.ShareLinkTTL)
}

// Executor exposes the execution client for the background worker's poll
// loop.
func (s *Service) Executor() Executor { return s.executor }

// Resubmit replaces the pending job for an already-resolved instance with a
// fresh background execution.
func (s *Service) Resubmit(ctx context.Context, res *Resolved) (*rediscache.JobRecord, error) {
	if _, err := s.jobs.Delete(ctx, res.Page.Name, res.Values); err != nil {
		return nil, err
	}
	return s.submit(ctx, res, true)
}

// submit renders the instance's notebook and hands it to the execution
// service, recording the pending job. Two concurrent submissions for the
// same instance are tolerated: the later record wins, both jobs run, and
// the cache write is idempotent.
func (s *Service) submit(ctx context.Context, res *Resolved, enableRetry bool) (*rediscache.JobRecord, error) {
	ipynb, err := res.Instance.RenderIpynb()
	if err != nil {
		return nil, err
	}

	job, err := s.executor.SubmitJob(ctx, ipynb, noteburst.SubmitOptions{
		KernelName:  s.cfg.KernelName,
		EnableRetry: enableRetry,
		Timeout:     s.executionTimeout(res.Page),
	})
	if err != nil {
		return nil, fmt.Errorf("submit execution for page %s: %w", res.Page.Name, err)
	}

	jsonValues, err := res.Instance.JSONValues()
	if err != nil {
		return nil, err
	}
	record := &rediscache.JobRecord{
		PageName: res.Page.Name,
		Job:      *job,
		Values:   jsonValues,
	}
	if err := s.jobs.Store(ctx, record, res.Values); err != nil {
		return nil, err
	}
	s.logger.Info("execution submitted",
		slog.String("page", res.Page.Name),
		slog.String("job_url", job.SelfURL))
	return record, nil
}

// pollOnce checks a pending job a single time and harvests it if complete.
func (s *Service) pollOnce(ctx context.Context, res *Resolved, jobRecord *rediscache.JobRecord) (*domain.HTMLRecord, error) {
	job, err := s.executor.GetJob(ctx, jobRecord.Job.SelfURL)
	if err != nil {
		return nil, fmt.Errorf("poll execution for page %s: %w", res.Page.Name, err)
	}

	switch {
	case job.Status == noteburst.StatusComplete:
		records, err := s.HarvestJob(ctx, res, job)
		if err != nil {
			return nil, err
		}
		return records[res.Display], nil

	case job.Status == noteburst.StatusNotFound:
		// The execution service lost the job; start over.
		if _, err := s.jobs.Delete(ctx, res.Page.Name, res.Values); err != nil {
			return nil, err
		}
		if _, err := s.submit(ctx, res, false); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		if job.Status != jobRecord.Job.Status {
			jobRecord.Job = *job
			if err := s.jobs.Store(ctx, jobRecord, res.Values); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

// HarvestJob renders a completed execution into the full display-settings
// matrix, stores every variant, and drops the job record. It returns the
// stored records by display settings.
func (s *Service) HarvestJob(ctx context.Context, res *Resolved, job *noteburst.Job) (map[domain.DisplaySettings]*domain.HTMLRecord, error) {
	if job.Success != nil && !*job.Success {
		// A failed execution leaves no rendering; drop the job record so
		// the next request resubmits.
		if _, err := s.jobs.Delete(ctx, res.Page.Name, res.Values); err != nil {
			return nil, err
		}
		reason := "execution failed"
		if job.IpynbError != nil {
			reason = fmt.Sprintf("%s: %s", job.IpynbError.Name, job.IpynbError.Message)
		}
		return nil, fmt.Errorf("execution failed for page %s: %s", res.Page.Name, reason)
	}

	nb, err := domain.ParseNotebook([]byte(job.Ipynb))
	if err != nil {
		return nil, fmt.Errorf("parse executed notebook for page %s: %w", res.Page.Name, err)
	}

	jsonValues, err := res.Instance.JSONValues()
	if err != nil {
		return nil, err
	}

	executed := job.EnqueueTime
	if job.StartTime != nil {
		executed = *job.StartTime
	}
	var duration time.Duration
	if d, ok := job.RuntimeDuration(); ok {
		duration = d
	}
	now := s.clock.Now()

	records := make(map[domain.DisplaySettings]*domain.HTMLRecord, 2)
	for _, ds := range domain.DisplaySettingsMatrix() {
		html, err := s.render(nb, res.Page.Title, ds.HideCode)
		if err != nil {
			return nil, fmt.Errorf("render page %s: %w", res.Page.Name, err)
		}
		record := domain.NewHTMLRecord(res.Page.Name, html, jsonValues, ds, executed, duration, now)
		if err := s.htmls.Store(ctx, record, res.Values, ds.QueryStringValues(), res.Page.CacheTTL); err != nil {
			return nil, err
		}
		s.archivePut(ctx, res, ds, html)
		records[ds] = record
	}

	if _, err := s.jobs.Delete(ctx, res.Page.Name, res.Values); err != nil {
		return nil, err
	}
	s.logger.Info("execution harvested",
		slog.String("page", res.Page.Name),
		slog.Duration("duration", duration))
	return records, nil
}

func (s *Service) archivePut(ctx context.Context, res *Resolved, ds domain.DisplaySettings, html string) {
	if s.archive == nil {
		return
	}
	key := rediscache.HTMLKey(res.Page.Name, res.Values, ds.QueryStringValues())
	if err := s.archive.Put(ctx, key, html); err != nil {
		s.logger.Warn("archive write failed",
			slog.String("page", res.Page.Name),
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

func (s *Service) executionTimeout(page *domain.Page) time.Duration {
	if page.ExecutionTimeout > 0 {
		return page.ExecutionTimeout
	}
	return s.cfg.DefaultExecutionTimeout
}
