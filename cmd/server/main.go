// Package main is the entry point for the Ranking Hub API server.
//
// The server composes the Funifier gamification API, the tiered ranking
// cache (Redis with an in-process fallback), and PostgreSQL snapshot
// history into the REST API the dashboard frontend consumes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gamifyhub/ranking-hub/config"
	"github.com/gamifyhub/ranking-hub/internal/application/dashboard"
	"github.com/gamifyhub/ranking-hub/internal/infrastructure/external/funifier"
	"github.com/gamifyhub/ranking-hub/internal/infrastructure/persistence/cache"
	"github.com/gamifyhub/ranking-hub/internal/infrastructure/persistence/postgres"
	"github.com/gamifyhub/ranking-hub/internal/infrastructure/scheduler"
	"github.com/gamifyhub/ranking-hub/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/gamifyhub/ranking-hub/internal/interface/http"
	"github.com/gamifyhub/ranking-hub/internal/metrics"
	"github.com/gamifyhub/ranking-hub/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
	})
	log.Info("starting Ranking Hub",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Bool("debug", cfg.App.Debug))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. METRICS
	// ─────────────────────────────────────────────────────────────────────────
	metricsService := metrics.NewService()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. RANKING CACHE (Redis primary, in-process fallback)
	// ─────────────────────────────────────────────────────────────────────────
	var primary cache.Backend
	if cfg.Redis.Disabled {
		log.Warn("redis disabled, cache runs on the in-process tier only")
		primary = cache.NewMemoryBackend()
	} else {
		redisCfg := cache.DefaultRedisConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
		primary = cache.NewRedisBackend(redisCfg)
	}

	store := cache.NewTieredStore(primary, log)
	defer store.Close()

	cacheCfg := cache.DefaultConfig()
	cacheCfg.LeaderboardsTTL = cfg.Cache.LeaderboardsTTL
	cacheCfg.LeaderboardDataTTL = cfg.Cache.LeaderboardDataTTL
	cacheCfg.ProcessedTTL = cfg.Cache.ProcessedTTL
	cacheCfg.PersonalTTL = cfg.Cache.PersonalTTL
	cacheCfg.GlobalTTL = cfg.Cache.GlobalTTL
	cacheCfg.MaxCacheSize = cfg.Cache.MaxCacheSize
	cacheCfg.Compress = cfg.Cache.Compress
	cacheCfg.SweepInterval = cfg.Cache.SweepInterval

	rankingCache := cache.NewRankingCache(store, cacheCfg, log)
	defer rankingCache.Stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SNAPSHOT HISTORY (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var dbConn *postgres.Connection
	var snapshots *postgres.SnapshotRepository

	if cfg.Database.URL != "" && cfg.Features.SnapshotsEnabled() {
		log.Info("connecting to database")
		dbConn, err = postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbConn.Close()

		log.Info("running database migrations")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		snapshots = postgres.NewSnapshotRepository(dbConn)
	} else {
		log.Warn("snapshot history disabled, position trends degrade to new")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. FUNIFIER CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	funifierCfg := funifier.DefaultClientConfig(cfg.Funifier.BaseURL)
	funifierCfg.APIKey = cfg.Funifier.APIKey
	funifierCfg.APISecret = cfg.Funifier.APISecret
	funifierCfg.Timeout = cfg.Funifier.RequestTimeout
	funifierCfg.Logger = log
	funifierClient := funifier.NewClient(funifierCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ORCHESTRATOR
	// ─────────────────────────────────────────────────────────────────────────
	orchCfg := dashboard.DefaultConfig()
	orchCfg.MaxRetries = cfg.Funifier.MaxRetries
	orchCfg.RetryBaseDelay = cfg.Funifier.RetryBaseDelay
	orchCfg.TopPlayersCount = cfg.Orchestrator.TopPlayersCount
	orchCfg.ContextSize = cfg.Orchestrator.ContextSize
	orchCfg.RaceSize = cfg.Orchestrator.RaceSize

	orchOpts := []dashboard.Option{
		dashboard.WithConfig(orchCfg),
		dashboard.WithCache(rankingCache),
		dashboard.WithMetrics(metricsService),
		dashboard.WithLogger(log),
	}
	if cfg.Features.IsEnabled(config.FeatureEnrichmentLevel, nil) {
		orchOpts = append(orchOpts, dashboard.WithPlayerStatus(funifierClient))
	}
	if snapshots != nil {
		orchOpts = append(orchOpts, dashboard.WithSnapshots(snapshots))
	}
	orchestrator := dashboard.NewService(funifierClient, orchOpts...)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. BACKGROUND JOBS
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(log, scheduler.WithMetrics(metricsService))

	if snapshots != nil && cfg.Database.SnapshotRetention > 0 {
		pruneJob := jobs.NewPruneSnapshotsJob(snapshots, cfg.Database.SnapshotRetention, log)
		if err := sched.Register(pruneJob, scheduler.NewDailySchedule(3, 0)); err != nil {
			return fmt.Errorf("failed to register prune job: %w", err)
		}
	}

	if cfg.Cache.ProcessedTTL > 0 {
		warmJob := jobs.NewWarmCacheJob(orchestrator, log)
		if err := sched.Register(warmJob, scheduler.NewIntervalSchedule(cfg.Cache.ProcessedTTL)); err != nil {
			return fmt.Errorf("failed to register cache warm job: %w", err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.EnableCORS = cfg.HTTP.EnableCORS
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.EnableMetrics = cfg.Observability.MetricsEnabled
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpCfg.APIKeys = cfg.HTTP.APIKeys

	server := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		Orchestrator: orchestrator,
		Cache:        rankingCache,
		Logger:       log,
		HealthChecker: &healthChecker{
			store:    store,
			db:       dbConn,
			funifier: funifierClient,
		},
	})

	errCh := server.StartAsync()
	log.Info("Ranking Hub is running", logger.String("address", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("server error", logger.Err(err))
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	log.Info("shutdown completed")
	return nil
}

// healthChecker aggregates component health for the probes. The cache
// degrading does not make the service unhealthy: the fallback tier
// keeps serving.
type healthChecker struct {
	store    *cache.TieredStore
	db       *postgres.Connection
	funifier *funifier.Client
}

func (h *healthChecker) Check(ctx context.Context) httpserver.HealthStatus {
	status := httpserver.HealthStatus{
		Healthy:    true,
		Ready:      true,
		Components: make(map[string]string),
	}

	cacheReport := h.store.HealthCheck(ctx)
	if cacheReport.Degraded {
		status.Components["cache"] = "degraded"
	} else {
		status.Components["cache"] = "ok"
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			status.Components["database"] = "down"
		} else {
			status.Components["database"] = "ok"
		}
	}

	if h.funifier.IsHealthy(ctx) {
		status.Components["funifier"] = "ok"
	} else {
		// Without the upstream no ranking can be served.
		status.Components["funifier"] = "down"
		status.Healthy = false
		status.Ready = false
		status.Message = "funifier api unreachable"
	}

	return status
}
