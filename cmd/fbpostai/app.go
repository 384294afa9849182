package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/janakkhadka100/fb-post-ai/internal/audit"
	appconfig "github.com/janakkhadka100/fb-post-ai/internal/config"
	"github.com/janakkhadka100/fb-post-ai/internal/generator"
	"github.com/janakkhadka100/fb-post-ai/internal/graph"
	"github.com/janakkhadka100/fb-post-ai/internal/media"
	"github.com/janakkhadka100/fb-post-ai/internal/moderation"
	"github.com/janakkhadka100/fb-post-ai/internal/pipeline"
	"github.com/janakkhadka100/fb-post-ai/internal/queue"
	"github.com/janakkhadka100/fb-post-ai/internal/worker"
	"github.com/janakkhadka100/fb-post-ai/pkg/clients"
	"github.com/janakkhadka100/fb-post-ai/pkg/config"
	"github.com/janakkhadka100/fb-post-ai/pkg/kafka"
	"github.com/janakkhadka100/fb-post-ai/pkg/llm"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
	"github.com/janakkhadka100/fb-post-ai/pkg/redis"
)

const mediaCleanupInterval = 6 * time.Hour

// app holds every wired component. Build it once per process.
type app struct {
	cfg    appconfig.Config
	logger logging.Logger

	redis    goredis.UniversalClient
	queue    queue.Queue
	store    *audit.FileStore
	trail    *audit.Trail
	producer *kafka.Producer
	graph    *graph.Client
	media    *media.Resolver
	pool     *worker.Pool
	pipeline *pipeline.Pipeline
}

func loadConfig(logger logging.Logger) (appconfig.Config, error) {
	config.LoadEnv(logger)
	cfg := appconfig.Load()
	if dryRunFlag {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func buildApp(ctx context.Context, cfg appconfig.Config, logger logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if err := a.openQueue(ctx); err != nil {
		return nil, err
	}
	if err := a.openAudit(); err != nil {
		a.Close()
		return nil, err
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	gen := generator.New(generator.Config{
		Provider: provider,
		Model:    cfg.LLM.Model,
		Logger:   logger,
		Timeout:  cfg.CallTimeout,
	})

	gate := moderation.NewGate(moderation.Config{
		Classifier: moderation.NewClient(moderation.ClientConfig{
			APIURL:     cfg.ModerationAPIURL,
			APIKey:     cfg.ModerationAPIKey,
			Model:      cfg.ModerationModel,
			HTTPClient: clients.NewHTTPClient(cfg.CallTimeout),
			Logger:     logger,
		}),
		Logger:  logger,
		Timeout: cfg.CallTimeout,
	})

	a.media = media.New(media.Config{
		StorageConnection: cfg.StorageConnection,
		MaxBytes:          cfg.MediaMaxBytes,
		Timeout:           cfg.CallTimeout,
		Logger:            logger,
	})
	if err := os.MkdirAll(a.media.Dir(), 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("media storage: %w", err)
	}

	a.graph = graph.NewClient(graph.Config{
		BaseURL:    cfg.FacebookGraphURL,
		APIVersion: cfg.FacebookAPIVersion,
		AppID:      cfg.FacebookAppID,
		AppSecret:  cfg.FacebookAppSecret,
		UserToken:  cfg.FacebookAccessToken,
		Timeout:    cfg.CallTimeout,
		Logger:     logger,
	})

	poolCfg := worker.Config{
		Queue:          a.queue,
		Moderator:      gate,
		Publisher:      a.graph,
		Media:          a.media,
		Audit:          a.trail,
		Logger:         logger,
		Concurrency:    cfg.WorkerConcurrency,
		PollInterval:   cfg.WorkerPoll,
		RetryBase:      cfg.RetryDelay,
		RateLimitDelay: cfg.RateLimitDelay,
		CallTimeout:    cfg.CallTimeout,
		DryRun:         cfg.DryRun,
	}
	if !cfg.DryRun {
		poolCfg.Credentials = a.graph
	}
	a.pool, err = worker.New(poolCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Generator:   gen,
		Moderator:   gate,
		Media:       a.media,
		Queue:       a.queue,
		Audit:       a.trail,
		Logger:      logger,
		MaxAttempts: cfg.MaxRetries,
		DryRun:      cfg.DryRun,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.WithFields(logging.Fields{
		"dry_run":      cfg.DryRun,
		"redis":        a.redis != nil,
		"kafka_mirror": a.producer != nil,
		"concurrency":  cfg.WorkerConcurrency,
	}).Info("Components wired")
	return a, nil
}

// openQueue uses Redis when configured and the in-memory queue otherwise.
func (a *app) openQueue(ctx context.Context) error {
	if !a.cfg.Redis.Enabled() {
		a.logger.Warn("Redis not configured, using in-memory queue; scheduled jobs do not survive restarts")
		a.queue = queue.NewMemoryQueue(queue.WithMemoryLease(a.cfg.JobLease))
		return nil
	}
	client, err := redis.Open(ctx, a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	q, err := queue.NewRedisQueue(queue.RedisConfig{Client: client, Name: a.cfg.QueueName, Lease: a.cfg.JobLease})
	if err != nil {
		_ = client.Close()
		return err
	}
	a.redis = client
	a.queue = q
	return nil
}

func (a *app) openAudit() error {
	store, err := audit.NewFileStore(a.cfg.AuditDir)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	a.store = store

	var mirrors []audit.Mirror
	if a.cfg.KafkaMirrorEnabled() {
		producer, err := kafka.NewProducer(a.cfg.KafkaBrokers, serviceName, a.logger)
		if err != nil {
			return fmt.Errorf("audit mirror: %w", err)
		}
		mirror, err := audit.NewKafkaMirror(producer, a.cfg.AuditKafkaTopic)
		if err != nil {
			_ = producer.Close()
			return fmt.Errorf("audit mirror: %w", err)
		}
		a.producer = producer
		mirrors = append(mirrors, mirror)
	}

	a.trail = audit.New(audit.Config{Store: store, Mirrors: mirrors, Logger: a.logger})
	return nil
}

// runMediaCleanup removes downloaded media older than the retention window
// until ctx ends.
func (a *app) runMediaCleanup(ctx context.Context) {
	sweep := func() {
		removed, err := a.media.Cleanup(a.cfg.MediaRetention)
		if err != nil {
			a.logger.WithError(err).Warn("Media cleanup failed")
			return
		}
		if removed > 0 {
			a.logger.WithField("removed", removed).Info("Old media files removed")
		}
	}

	sweep()
	ticker := time.NewTicker(mediaCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func (a *app) Close() {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.WithError(err).Warn("Error while closing connections")
	}
}
