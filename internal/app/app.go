// Package app builds and holds the long-lived services of the download
// service, acting as the composition root.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tunepull/internal/api"
	"tunepull/internal/clock/system"
	"tunepull/internal/config"
	"tunepull/internal/engine"
	"tunepull/internal/extract/ytdlp"
	"tunepull/internal/id/uuid"
	"tunepull/internal/logging"
	"tunepull/internal/metrics"
	"tunepull/internal/orchestrator"
	"tunepull/internal/policy/ratelimit"
	"tunepull/internal/progress"
	"tunepull/internal/progress/sinks"
	"tunepull/internal/reaper"
	"tunepull/internal/storage/local"
	"tunepull/internal/store"
	"tunepull/internal/store/postgres"
)

// shutdownTimeout bounds the HTTP drain during graceful shutdown.
const shutdownTimeout = 15 * time.Second

// App holds every long-lived service. Build it once with New, run it with
// Run, and it tears itself down when the context is cancelled.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store        *store.Store
	workspace    *local.Workspace
	cache        *progress.SnapshotCache
	hub          *progress.Hub
	engine       *engine.Engine
	orchestrator *orchestrator.Orchestrator
	reaper       *reaper.Reaper
	server       *api.Server
}

// New initializes all services from configuration. It fails fast: any
// service that cannot come up aborts startup.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	clk := system.New()
	idGen := uuid.New()

	st := store.New(store.Config{
		MaxSessions:       cfg.Session.MaxSessions,
		MaxJobsPerSession: cfg.Session.MaxJobs,
		SessionTTL:        cfg.Session.TTL,
	}, clk, idGen, logger)

	workspace, err := local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	extractor := ytdlp.New(ytdlp.Config{
		Binary:  cfg.Extractor.Binary,
		Quality: cfg.Extractor.Quality,
		Format:  cfg.Extractor.Format,
		Bitrate: cfg.Extractor.Bitrate,
	}, logger)
	if err := extractor.CheckDependencies(); err != nil {
		return nil, fmt.Errorf("check extractor dependencies: %w", err)
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	cache := progress.NewSnapshotCache()

	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}

	hubSinks := []progress.Sink{cache, promSink}
	if cfg.Logging.Development {
		hubSinks = append(hubSinks, sinks.NewLogSink(logger))
	}
	if cfg.Mirror.Enabled {
		mirror, err := postgres.NewMirror(ctx, postgres.MirrorConfig{DSN: cfg.Mirror.DSN})
		if err != nil {
			return nil, fmt.Errorf("init mirror: %w", err)
		}
		if err := mirror.CreateSchema(ctx); err != nil {
			return nil, fmt.Errorf("create mirror schema: %w", err)
		}
		hubSinks = append(hubSinks, mirror)
		logger.Info("job record mirror enabled")
	}

	hub := progress.NewHub(progress.Config{Logger: logger}, hubSinks...)

	eng := engine.New(engine.Config{
		Workers:     cfg.Engine.Workers,
		QueueDepth:  cfg.Engine.QueueDepth,
		GracePeriod: cfg.Engine.GracePeriod,
	}, st, workspace, extractor, hub, clk, logger)

	limiter := ratelimit.New(ratelimit.Config{
		JobsPerMinute: float64(cfg.Limits.JobsPerMinute),
	})

	orch := orchestrator.New(st, eng, cache, limiter, workspace, hub, clk, logger)

	if err := registry.Register(metrics.NewStatsCollector(orch.Stats)); err != nil {
		return nil, fmt.Errorf("register stats collector: %w", err)
	}

	rp := reaper.New(st, orch, cfg.Session.ReapInterval, logger)

	server := api.NewServer(orch, logger,
		api.WithMiddleware(m.Middleware),
		api.WithMetricsHandler(metrics.Handler(registry)),
	)

	return &App{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		workspace:    workspace,
		cache:        cache,
		hub:          hub,
		engine:       eng,
		orchestrator: orch,
		reaper:       rp,
		server:       server,
	}, nil
}

// Logger exposes the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Orchestrator exposes the orchestration facade.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Handler exposes the HTTP handler, mostly for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run starts the worker pool, the reaper, and the HTTP server, then blocks
// until ctx is cancelled or the server fails. Shutdown order matters: stop
// accepting requests first, then the reaper, then drain workers, and flush
// progress sinks last so no event is lost.
func (a *App) Run(ctx context.Context) error {
	a.engine.Start()

	reapCtx, stopReaper := context.WithCancel(context.Background())
	go a.reaper.Run(reapCtx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: a.server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("http server failed", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	stopReaper()
	if err := a.engine.Stop(shutdownCtx); err != nil {
		a.logger.Warn("worker pool stop incomplete", zap.Error(err))
	}
	if err := a.hub.Close(shutdownCtx); err != nil {
		a.logger.Warn("progress hub close incomplete", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		// Syncing stderr is expected to fail on some platforms.
		_ = err
	}
	return serveErr
}
