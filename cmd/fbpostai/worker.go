package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the worker pool against the shared queue",
		Long:  "Run only the worker pool. Useful with a Redis queue, where API and workers scale separately.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.NewLoggerWithService(serviceName + "-worker")
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.redis == nil {
				logger.Warn("Worker started without Redis; it can only see jobs enqueued by this process")
			}
			go a.runMediaCleanup(ctx)
			return a.pool.Run(ctx)
		},
	}
}
