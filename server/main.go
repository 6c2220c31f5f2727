package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lsst-sqre/times-square/internal/domain"
	"github.com/lsst-sqre/times-square/internal/noteburst"
	"github.com/lsst-sqre/times-square/internal/platform/clock"
	"github.com/lsst-sqre/times-square/internal/platform/env"
	"github.com/lsst-sqre/times-square/internal/platform/httpserver"
	platformstore "github.com/lsst-sqre/times-square/internal/platform/objectstore"
	"github.com/lsst-sqre/times-square/internal/platform/postgres"
	"github.com/lsst-sqre/times-square/internal/platform/redis"
	"github.com/lsst-sqre/times-square/internal/queue"
	"github.com/lsst-sqre/times-square/internal/render"
	repopg "github.com/lsst-sqre/times-square/internal/repo/postgres"
	"github.com/lsst-sqre/times-square/internal/service/pages"
	"github.com/lsst-sqre/times-square/internal/storage/objectstore"
	"github.com/lsst-sqre/times-square/internal/storage/rediscache"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	eventsInterval, err := env.Duration("EVENTS_INTERVAL", time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

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
	if err := repopg.Migrate(ctx, db); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

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
	tasks := queue.New(redisClient, env.String("QUEUE_KEY", queue.DefaultKey))

	executionTimeout, err := env.Duration("EXECUTION_TIMEOUT", 5*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	renderer := func(nb *domain.Notebook, title string, hideCode bool) (string, error) {
		return render.HTML(nb, render.Options{Title: title, HideCode: hideCode})
	}
	svc := pages.New(repopg.NewPageStore(db), htmls, jobs, executor, tasks, renderer,
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
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := platformstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		archive, err := objectstore.NewHTMLArchiveWithClient(storeClient, storeCfg.BucketRenders)
		if err != nil {
			logger.Error("archive init failed", "error", err)
			os.Exit(2)
		}
		svc = svc.WithArchive(archive)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("times-square"))
	mux.HandleFunc(
		"/readyz",
		httpserver.Readyz(
			"times-square",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "redis",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return redisClient.Ping(checkCtx).Err()
				},
			},
		),
	)

	api := newPagesAPI(logger, svc, eventsInterval)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "times-square",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	handler := httpserver.Wrap(logger, mux)
	if err := httpserver.Run(ctx, logger, cfg, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
