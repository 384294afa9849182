package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/janakkhadka100/fb-post-ai/internal/api"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
	"github.com/janakkhadka100/fb-post-ai/pkg/middleware"
	"github.com/janakkhadka100/fb-post-ai/pkg/monitoring"
	"github.com/janakkhadka100/fb-post-ai/pkg/server"
	"github.com/janakkhadka100/fb-post-ai/pkg/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	logger := logging.NewLoggerWithService(serviceName)
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)

	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(cfg.RequiredSettings()))
	healthChecker.AddCheck("audit_dir", monitoring.WritableDirHealthCheck(a.store.Dir()))
	healthChecker.AddCheck("media_dir", monitoring.WritableDirHealthCheck(a.media.Dir()))
	if a.redis != nil {
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(a.redis))
	}
	if a.producer != nil {
		healthChecker.AddCheck("kafka", monitoring.PingHealthCheck("kafka", a.producer, true))
	}

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)

	handler := api.NewHandler(api.Config{
		Pipeline: a.pipeline,
		Pages:    a.graph,
		Jobs:     a.queue,
		Audit:    a.trail,
		Logger:   logger,
		DryRun:   cfg.DryRun,
	})
	routes := router.Group("/")
	routes.Use(middleware.APIKeyMiddleware(cfg.APIKey))
	handler.Register(routes)

	if cfg.APIKey == "" {
		logger.Warn("API_KEY not set, HTTP API is unauthenticated")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, server.DefaultConfig(serviceName, cfg.Port), router, logger)
	})
	g.Go(func() error {
		return a.pool.Run(gctx)
	})
	g.Go(func() error {
		a.runMediaCleanup(gctx)
		return nil
	})
	return g.Wait()
}
