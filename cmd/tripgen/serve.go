package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"tripgen/internal/cache"
	"tripgen/internal/config"
	"tripgen/internal/handler"
	"tripgen/internal/hub"
	"tripgen/internal/ingestor"
	"tripgen/internal/middleware"
	"tripgen/internal/store"
)

const warmLimit = 100

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("serve")
	scenarioPath := fs.StringP("scenario", "s", cfg.ScenarioPath, "scenario YAML file")
	addr := fs.String("addr", cfg.HTTPAddr, "HTTP listen address")
	fs.Parse(args)

	s, err := loadScenario(*scenarioPath)
	if err != nil {
		return err
	}

	logger.Info("starting tripgen server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", *addr,
		"scenario", s.Name,
		"redis_enabled", cfg.RedisEnabled,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runStore := store.New(cfg.RunRetention)
	loader := ingestor.NewLoader(s, cfg.GTFSCacheDir, cfg.RefreshInterval, logger)

	var runCache handler.RunCache
	if cfg.RedisEnabled {
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, serving runs from memory only", "error", err)
		} else {
			defer rc.Close()
			runs := cache.NewRunCache(rc, cfg.CacheTTL)
			runCache = runs
			if cfg.CacheWarmOnStart {
				go func() {
					if _, err := cache.NewWarmer(runs, runStore, warmLimit, logger).WarmAll(ctx); err != nil {
						logger.Error("cache warming failed", "error", err)
					}
				}()
			}
		}
	}

	loader.SetOnUpdate(func(_ context.Context, refs *ingestor.References) {
		logger.Info("references ready",
			"scenario", refs.Scenario.Name,
			"zones", refs.Zones.Len(),
			"loaded_at", refs.LoadedAt,
		)
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	defer limiter.Stop()
	limiter.OnBlocked(func(string) { handler.ServerStats.IncRateLimitBlocked() })

	events := hub.NewHub(logger)
	runService := handler.NewRunService(loader, runStore, runCache, cfg.MaxRunTrips, logger)
	runService.PublishTo(events)

	httpHandler := handler.NewHTTPHandler(runService, runStore, logger)
	wsHandler := handler.NewWSHandler(runService, events, logger)
	healthHandler := handler.NewHealthHandler(loader, runStore)
	statsHandler := handler.NewStatsHandler(runStore, loader, limiter)

	api := http.NewServeMux()
	api.Handle("POST /v1/runs", limiter.Middleware(http.HandlerFunc(httpHandler.CreateRun)))
	api.HandleFunc("GET /v1/runs", httpHandler.ListRuns)
	api.HandleFunc("GET /v1/runs/{id}", httpHandler.GetRun)
	api.HandleFunc("GET /v1/runs/{id}/trips", httpHandler.GetRunTrips)
	api.HandleFunc("GET /v1/stats", statsHandler.GetStats)
	api.HandleFunc("GET /healthz", healthHandler.Healthz)
	api.HandleFunc("GET /readyz", healthHandler.Readyz)

	// websocket upgrades need the raw ResponseWriter
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/runs/ws", wsHandler.ServeWS)
	mux.Handle("/", handler.CORSMiddleware(handler.GzipMiddleware(handler.LoggingMiddleware(logger)(api))))

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go events.Run(ctx)
	go loader.Start(ctx)
	go pruneLoop(ctx, runStore, cfg.RunRetention, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("HTTP server error", "error", serveErr)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// pruneLoop drops runs older than the retention window.
func pruneLoop(ctx context.Context, s *store.Store, retention time.Duration, logger *slog.Logger) {
	every := max(retention/2, time.Minute)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := s.PruneStale(); len(pruned) > 0 {
				logger.Info("pruned stale runs", "count", len(pruned), "remaining", s.Count())
			}
		}
	}
}
