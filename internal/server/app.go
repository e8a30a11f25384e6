// Package server assembles the application from its configured backends and
// manages startup and shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arkivist/mediavault/internal/api"
	cachemem "github.com/arkivist/mediavault/internal/cache/memory"
	rediscache "github.com/arkivist/mediavault/internal/cache/redis"
	"github.com/arkivist/mediavault/internal/clock/system"
	"github.com/arkivist/mediavault/internal/config"
	"github.com/arkivist/mediavault/internal/dispatcher"
	"github.com/arkivist/mediavault/internal/extractor"
	directextractor "github.com/arkivist/mediavault/internal/extractor/direct"
	ytdlpextractor "github.com/arkivist/mediavault/internal/extractor/ytdlp"
	"github.com/arkivist/mediavault/internal/hash/sha256"
	"github.com/arkivist/mediavault/internal/id/uuid"
	"github.com/arkivist/mediavault/internal/library"
	"github.com/arkivist/mediavault/internal/logging"
	"github.com/arkivist/mediavault/internal/metrics"
	"github.com/arkivist/mediavault/internal/policy/ratelimit"
	"github.com/arkivist/mediavault/internal/policy/simple"
	"github.com/arkivist/mediavault/internal/progress"
	progresssinks "github.com/arkivist/mediavault/internal/progress/sinks"
	memorypublisher "github.com/arkivist/mediavault/internal/publisher/memory"
	gcppublisher "github.com/arkivist/mediavault/internal/publisher/pubsub"
	queuemem "github.com/arkivist/mediavault/internal/queue/memory"
	gcsstorage "github.com/arkivist/mediavault/internal/storage/gcs"
	localstorage "github.com/arkivist/mediavault/internal/storage/local"
	storagemem "github.com/arkivist/mediavault/internal/storage/memory"
	pgstore "github.com/arkivist/mediavault/internal/storage/postgres"
	"github.com/arkivist/mediavault/internal/storage/prefixed"
	"github.com/arkivist/mediavault/internal/store"
	"github.com/arkivist/mediavault/internal/syncer"
	"github.com/arkivist/mediavault/internal/vault"
	"github.com/arkivist/mediavault/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	progressHub *progress.Hub
	queue       *queuemem.Queue
	gcsClient   *storage.Client
	pubsubClose func() error
	redisCache  *rediscache.Cache
	pgLedger    *pgstore.LedgerStore
	pgStats     *pgstore.StatsStore
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("concurrency", cfg.Downloads.Concurrency),
	)

	// Fetch the download backend binary up front rather than on the first
	// task. Failure is not fatal: a copy may already be on PATH.
	if err := ytdlpextractor.Install(ctx); err != nil {
		app.logger.Warn("download backend install check failed", zap.Error(err))
	}

	tasks := storagemem.NewTaskStore()

	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	cache, err := setupCache(ctx, app)
	if err != nil {
		return nil, err
	}
	ledger, err := setupLedger(ctx, app)
	if err != nil {
		return nil, err
	}
	stats, err := setupStats(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(ctx, app, stats)
	if err != nil {
		return nil, err
	}

	app.queue = queuemem.NewQueue(cfg.Downloads.QueueDepth)
	app.dispatch = setupDispatcher(app, tasks, ledger, blobs, cache, publisher, emitter)

	app.apiServer = api.NewServer(
		tasks,
		app.dispatch,
		library.New(blobs, cache, logger.Named("library")),
		stats,
		uuid.NewUUIDGenerator(),
		system.New(),
		*cfg,
		readyCheck(blobs, cache, ledger),
		logger.Named("api"),
	)

	return app, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubClose != nil {
		if err := a.pubsubClose(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			a.logger.Warn("redis cache close failed", zap.Error(err))
		}
	}
	if a.pgLedger != nil {
		a.pgLedger.Close()
	}
	if a.pgStats != nil {
		a.pgStats.Close()
	}
}

func setupStorage(ctx context.Context, app *App) (vault.BlobStore, error) {
	var blobs vault.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		app.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err = gcsstorage.New(app.gcsClient, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		app.logger.Info("using local storage backend", zap.String("base_dir", app.cfg.Storage.Local.BaseDir))
		blobs, err = localstorage.New(localstorage.Config{
			BaseDir: app.cfg.Storage.Local.BaseDir,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		app.logger.Info("using in-memory storage backend")
		blobs = storagemem.NewBlobStore()
	}
	return prefixed.Wrap(blobs, app.cfg.Storage.Prefix), nil
}

func setupCache(ctx context.Context, app *App) (vault.ListingCache, error) {
	if app.cfg.Cache.Backend == "redis" {
		cache, err := rediscache.New(ctx, rediscache.Config{
			Addr:     app.cfg.Cache.Redis.Addr,
			Password: app.cfg.Cache.Redis.Password,
			DB:       app.cfg.Cache.Redis.DB,
			TTL:      app.cfg.CacheTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache init failed: %w", err)
		}
		app.redisCache = cache
		app.logger.Info("using redis listing cache", zap.String("addr", app.cfg.Cache.Redis.Addr))
		return cache, nil
	}
	app.logger.Info("using in-memory listing cache", zap.Duration("ttl", app.cfg.CacheTTL()))
	return cachemem.New(app.cfg.CacheTTL()), nil
}

func setupLedger(ctx context.Context, app *App) (vault.Ledger, error) {
	if app.cfg.Database.DSN == "" {
		app.logger.Info("no database DSN configured, using in-memory dedup ledger")
		return storagemem.NewLedger(), nil
	}
	ledger, err := pgstore.NewLedgerStore(ctx, pgstore.LedgerConfig{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.LedgerTable,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger store init failed: %w", err)
	}
	app.pgLedger = ledger
	app.logger.Info("dedup ledger initialized", zap.String("table", app.cfg.Database.LedgerTable))
	return ledger, nil
}

func setupStats(ctx context.Context, app *App) (store.StatsRepository, error) {
	if app.cfg.Database.DSN == "" {
		return storagemem.NewStatsRepo(), nil
	}
	stats, err := pgstore.NewStatsStore(ctx, app.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("stats store init failed: %w", err)
	}
	app.pgStats = stats
	app.logger.Info("platform stats store initialized")
	return stats, nil
}

func setupPublisher(ctx context.Context, app *App) (vault.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.PubSub.TopicName == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, closeFn, err := gcppublisher.Connect(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsubClose = closeFn
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupProgress(ctx context.Context, app *App, stats store.StatsRepository) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(stats, app.logger.Named("progress_store")),
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return app.progressHub, nil
}

func setupDispatcher(
	app *App,
	tasks vault.TaskStore,
	ledger vault.Ledger,
	blobs vault.BlobStore,
	cache vault.ListingCache,
	publisher vault.Publisher,
	emitter progress.Emitter,
) *dispatcher.Dispatcher {
	clock := system.New()
	sync := syncer.New(blobs, cache, sha256.New(), clock, app.logger.Named("syncer"), app.cfg.Storage.Backend)

	var policy vault.Policy
	if app.cfg.RateLimit.Enabled {
		policy = ratelimit.New(ratelimit.Config{
			DefaultRPS:   app.cfg.RateLimit.DefaultRPS,
			DefaultBurst: app.cfg.RateLimit.DefaultBurst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", app.cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", app.cfg.RateLimit.DefaultBurst),
		)
	} else {
		policy = simple.New()
		app.logger.Info("rate limiter disabled, using pass-through policy")
	}

	extr := extractor.NewSelector(
		directextractor.New(directextractor.Config{
			Timeout: app.cfg.SocketTimeout(),
		}, policy),
		ytdlpextractor.New(ytdlpextractor.Config{
			Format:        app.cfg.Downloads.Quality,
			SocketTimeout: app.cfg.SocketTimeout(),
			Proxy:         app.cfg.Extractor.Proxy,
		}, policy),
	)

	workerCfg := worker.Config{
		TaskTimeout:      app.cfg.TaskTimeout(),
		OutputDir:        app.cfg.Downloads.OutputDir,
		Quality:          app.cfg.Downloads.Quality,
		IncludeSubtitles: app.cfg.Downloads.IncludeSubtitles,
		CollectionLimit:  app.cfg.Downloads.CollectionLimit,
	}
	app.logger.Info("worker config",
		zap.Duration("task_timeout", workerCfg.TaskTimeout),
		zap.String("output_dir", workerCfg.OutputDir),
		zap.String("quality", workerCfg.Quality),
		zap.Int("collection_limit", workerCfg.CollectionLimit),
	)

	locks := worker.NewIdentityLocks()
	retry := vault.NewRetryPolicy(
		app.cfg.Retry.MaxAttempts,
		app.cfg.RetryBaseDelay(),
		app.cfg.RetryMaxDelay(),
	)

	var workers []*worker.Worker
	for i := 0; i < app.cfg.Downloads.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			tasks,
			ledger,
			extr,
			sync,
			publisher,
			clock,
			locks,
			retry,
			emitter,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers)
}

// readyCheck probes the backends the request path depends on. The ledger
// probe asks for a sentinel identity; ErrNotFound is the healthy answer.
func readyCheck(blobs vault.BlobStore, cache vault.ListingCache, ledger vault.Ledger) api.ReadyCheck {
	sentinel := vault.Identity{Platform: "readyz", Kind: vault.KindItem, ContentID: "probe"}
	return func(ctx context.Context) error {
		if _, err := blobs.List(ctx, ""); err != nil {
			return fmt.Errorf("storage unavailable: %w", err)
		}
		if _, _, err := cache.Get(ctx, "readyz"); err != nil {
			return fmt.Errorf("cache unavailable: %w", err)
		}
		if _, err := ledger.Lookup(ctx, sentinel); err != nil && !errors.Is(err, vault.ErrNotFound) {
			return fmt.Errorf("ledger unavailable: %w", err)
		}
		return nil
	}
}
