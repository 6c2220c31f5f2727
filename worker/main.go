package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/noteburst"
	"github.com/lsst-sqre/times-square/internal/platform/clock"
	"github.com/lsst-sqre/times-square/internal/platform/env"
	platformstore "github.com/lsst-sqre/times-square/internal/platform/objectstore"
	"github.com/lsst-sqre/times-square/internal/platform/postgres"
	"github.com/lsst-sqre/times-square/internal/platform/redis"
	"github.com/lsst-sqre/times-square/internal/queue"
	"github.com/lsst-sqre/times-square/internal/render"
	repopg "github.com/lsst-sqre/times-square/internal/repo/postgres"
	"github.com/lsst-sqre/times-square/internal/service/background"
	"github.com/lsst-sqre/times-square/internal/service/pages"
	"github.com/lsst-sqre/times-square/internal/storage/objectstore"
	"github.com/lsst-sqre/times-square/internal/storage/rediscache"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	redisCfg, err := redis.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid redis config", "error", err)
		os.Exit(2)
	}
	redisClient, err := redis.Open(ctx, redisCfg)
	if err != nil {
		logger.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	nbCfg, err := noteburst.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid noteburst config", "error", err)
		os.Exit(2)
	}
	executor := noteburst.NewClient(nbCfg)

	jobLifetime, err := env.Duration("JOB_LIFETIME", rediscache.DefaultJobLifetime)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	htmls := rediscache.NewHTMLStore(redisClient)
	jobs := rediscache.NewJobStore(redisClient, jobLifetime)
	source := queue.New(redisClient, env.String("QUEUE_KEY", queue.DefaultKey))

	executionTimeout, err := env.Duration("EXECUTION_TIMEOUT", 5*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pollInterval, err := env.Duration("WORKER_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	dequeueWait, err := env.Duration("WORKER_DEQUEUE_WAIT", 5*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	resubmitBudget, err := env.Int("WORKER_RESUBMIT_BUDGET", 2)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	renderer := func(nb *domain.Notebook, title string, hideCode bool) (string, error) {
		return render.HTML(nb, render.Options{Title: title, HideCode: hideCode})
	}
	// The worker never enqueues follow-up tasks, so no queue is attached
	// to its service.
	svc := pages.New(repopg.NewPageStore(db), htmls, jobs, executor, nil, renderer,
		clock.Real{}, logger, pages.Config{
			KernelName:              env.String("KERNEL_NAME", ""),
			DefaultExecutionTimeout: executionTimeout,
		})
	if svc == nil {
		logger.Error("service init failed")
		os.Exit(2)
	}

	archiveEnabled, err := env.Bool("ARCHIVE_ENABLED", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	if archiveEnabled {
		storeCfg, err := platformstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		storeClient, err := platformstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		archive, err := objectstore.NewHTMLArchiveWithClient(storeClient, storeCfg.BucketRenders)
		if err != nil {
			logger.Error("archive init failed", "error", err)
			os.Exit(2)
		}
		svc = svc.WithArchive(archive)
	}

	worker := background.NewWorker(svc, jobs, source, clock.Real{}, logger, background.Config{
		PollInterval:            pollInterval,
		DequeueWait:             dequeueWait,
		DefaultExecutionTimeout: executionTimeout,
		ResubmitBudget:          resubmitBudget,
	})
	if worker == nil {
		logger.Error("worker init failed")
		os.Exit(2)
	}

	logger.Info("worker started", "queue", env.String("QUEUE_KEY", queue.DefaultKey))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
