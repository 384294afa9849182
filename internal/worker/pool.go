// Package worker drains the publish queue: each claimed job is
// re-moderated, published and settled under the retry policy.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/janakkhadka100/fb-post-ai/internal/audit"
	"github.com/janakkhadka100/fb-post-ai/internal/graph"
	"github.com/janakkhadka100/fb-post-ai/internal/metrics"
	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/internal/queue"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

const (
	DefaultConcurrency    = 5
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultRetryBase      = time.Second
	DefaultRateLimitDelay = 60 * time.Second
	DefaultCallTimeout    = 30 * time.Second
	DefaultStatsInterval  = 15 * time.Second
)

type Moderator interface {
	Check(ctx context.Context, text string) post.ModerationResult
}

// Publisher is the only path to the external platform.
type Publisher interface {
	PublishText(ctx context.Context, p graph.Post) (graph.Published, error)
	PublishPhotoURL(ctx context.Context, p graph.Post) (graph.Published, error)
	PublishPhotoBytes(ctx context.Context, p graph.Post) (graph.Published, error)
}

type CredentialRefresher interface {
	RefreshCredential(ctx context.Context, pageID, token string) (graph.Credential, error)
}

type MediaReader interface {
	Read(path string) ([]byte, error)
}

type Recorder interface {
	Record(ctx context.Context, e audit.Entry)
}

type Config struct {
	Queue     queue.Queue
	Moderator Moderator
	Publisher Publisher
	// DryRunPublisher serves dry-run jobs. Defaults to graph.DryRunPublisher.
	DryRunPublisher Publisher
	Credentials     CredentialRefresher
	Media           MediaReader
	Audit           Recorder
	Logger          logging.Logger

	Concurrency    int
	PollInterval   time.Duration
	RetryBase      time.Duration
	RateLimitDelay time.Duration
	CallTimeout    time.Duration
	StatsInterval  time.Duration

	// DryRun routes every job to DryRunPublisher.
	DryRun bool
}

type Pool struct {
	queue          queue.Queue
	moderator      Moderator
	publisher      Publisher
	dryRunner      Publisher
	credentials    CredentialRefresher
	media          MediaReader
	audit          Recorder
	logger         logging.Logger
	concurrency    int
	pollInterval   time.Duration
	retryBase      time.Duration
	rateLimitDelay time.Duration
	callTimeout    time.Duration
	statsInterval  time.Duration
	dryRun         bool
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Entry) {}

func New(cfg Config) (*Pool, error) {
	if cfg.Queue == nil {
		return nil, errors.New("worker: queue is required")
	}
	if cfg.Moderator == nil {
		return nil, errors.New("worker: moderator is required")
	}
	if cfg.Publisher == nil && !cfg.DryRun {
		return nil, errors.New("worker: publisher is required unless dry-run is set")
	}
	p := &Pool{
		queue:          cfg.Queue,
		moderator:      cfg.Moderator,
		publisher:      cfg.Publisher,
		dryRunner:      cfg.DryRunPublisher,
		credentials:    cfg.Credentials,
		media:          cfg.Media,
		audit:          cfg.Audit,
		logger:         cfg.Logger,
		concurrency:    cfg.Concurrency,
		pollInterval:   cfg.PollInterval,
		retryBase:      cfg.RetryBase,
		rateLimitDelay: cfg.RateLimitDelay,
		callTimeout:    cfg.CallTimeout,
		statsInterval:  cfg.StatsInterval,
		dryRun:         cfg.DryRun,
	}
	if p.logger == nil {
		p.logger = logging.NewDiscardLogger()
	}
	if p.dryRunner == nil {
		p.dryRunner = graph.DryRunPublisher{Logger: p.logger}
	}
	if p.audit == nil {
		p.audit = nopRecorder{}
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.retryBase <= 0 {
		p.retryBase = DefaultRetryBase
	}
	if p.rateLimitDelay <= 0 {
		p.rateLimitDelay = DefaultRateLimitDelay
	}
	if p.callTimeout <= 0 {
		p.callTimeout = DefaultCallTimeout
	}
	if p.statsInterval <= 0 {
		p.statsInterval = DefaultStatsInterval
	}
	return p, nil
}

// Run starts the executors and blocks until ctx is canceled. Attempts in
// flight when ctx ends run to completion before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.WithFields(logging.Fields{
		"concurrency": p.concurrency,
		"dry_run":     p.dryRun,
	}).Info("Publish worker pool started")

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.concurrency {
		g.Go(func() error {
			p.loop(gctx, i)
			return nil
		})
	}
	g.Go(func() error {
		p.reportStats(gctx)
		return nil
	})
	err := g.Wait()
	p.logger.Info("Publish worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, executor int) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.WithFields(logging.Fields{
				"executor": executor,
				"error":    err.Error(),
			}).Warn("Failed to claim job")
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Pool) reportStats(ctx context.Context) {
	ticker := time.NewTicker(p.statsInterval)
	defer ticker.Stop()
	for {
		p.refreshStats(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) refreshStats(ctx context.Context) {
	stats, err := p.queue.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.WithError(err).Debug("Failed to read queue stats")
		}
		return
	}
	metrics.QueueJobs.WithLabelValues(string(queue.StateWaiting)).Set(float64(stats.Waiting))
	metrics.QueueJobs.WithLabelValues(string(queue.StateDelayed)).Set(float64(stats.Delayed))
	metrics.QueueJobs.WithLabelValues(string(queue.StateActive)).Set(float64(stats.Active))
	metrics.QueueJobs.WithLabelValues(string(queue.StateCompleted)).Set(float64(stats.Completed))
	metrics.QueueJobs.WithLabelValues(string(queue.StateFailed)).Set(float64(stats.Failed))
	metrics.QueueJobs.WithLabelValues("total").Set(float64(stats.Total))
}

// ProcessNext claims one due job and runs a single attempt on it. It
// reports false when nothing was due.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.queue.Claim(ctx)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return false, nil
	}
	p.execute(context.WithoutCancel(ctx), job)
	return true, nil
}
