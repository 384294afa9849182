package worker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/janakkhadka100/fb-post-ai/internal/audit"
	"github.com/janakkhadka100/fb-post-ai/internal/graph"
	"github.com/janakkhadka100/fb-post-ai/internal/metrics"
	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/internal/queue"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

var (
	errUnsafeContent = errors.New("content failed final moderation check")
	errNoMedia       = errors.New("no media provided for photo post")
)

func (p *Pool) entry(job *queue.Job, t audit.EventType, status string, details map[string]any) audit.Entry {
	return audit.Entry{
		Type:      t,
		RequestID: job.Payload.RequestID,
		VariantID: job.Payload.VariantID,
		PageID:    job.Payload.PageID,
		Status:    status,
		Details:   details,
	}
}

// execute runs one attempt and settles the job. ctx is never canceled by
// shutdown so the attempt always reaches a queue transition.
func (p *Pool) execute(ctx context.Context, job *queue.Job) {
	payload := job.Payload
	attempt := job.AttemptsMade + 1
	log := p.logger.WithFields(logging.Fields{
		"job_id":     job.ID,
		"request_id": payload.RequestID,
		"variant_id": payload.VariantID,
		"page_id":    payload.PageID,
		"post_type":  string(payload.Kind),
		"attempt":    attempt,
	})
	log.Info("Processing publish job")

	p.audit.Record(ctx, p.entry(job, audit.EventPublishAttempted, "active", map[string]any{
		"jobId":       job.ID,
		"attempt":     attempt,
		"maxAttempts": job.MaxAttempts,
		"postType":    string(payload.Kind),
	}))

	published, err := p.attemptSafely(ctx, job)
	if err != nil {
		p.settleFailure(ctx, job, err)
		return
	}

	result := queue.Result{PostID: published.PostIdentifier(), DryRun: published.DryRun, CompletedAt: time.Now().UTC()}
	details := map[string]any{
		"jobId":   job.ID,
		"postId":  result.PostID,
		"photoId": published.ID,
		"dryRun":  result.DryRun,
		"attempt": attempt,
	}
	// The post exists on the page either way; the entry says whether the
	// queue agrees.
	if err := p.queue.Complete(ctx, job.ID, result); err != nil {
		details["queueError"] = audit.RedactString(err.Error())
		metrics.PublishAttempts.WithLabelValues("unsettled").Inc()
		p.audit.Record(ctx, p.entry(job, audit.EventPublishSucceeded, "unsettled", details))
		log.WithError(err).WithField("post_id", result.PostID).Error("Published but failed to mark job completed")
		return
	}
	metrics.PublishAttempts.WithLabelValues("succeeded").Inc()
	p.audit.Record(ctx, p.entry(job, audit.EventPublishSucceeded, "completed", details))
	log.WithFields(logging.Fields{
		"post_id": result.PostID,
		"dry_run": result.DryRun,
	}).Info("Publish job completed")
}

// attemptSafely turns a panic inside an attempt into a transient failure.
func (p *Pool) attemptSafely(ctx context.Context, job *queue.Job) (published graph.Published, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logging.Fields{
				"job_id": job.ID,
				"panic":  fmt.Sprint(r),
			}).Error("Recovered panic in publish attempt")
			err = post.Transient(fmt.Errorf("panic: %v", r))
		}
	}()
	return p.attempt(ctx, job)
}

func (p *Pool) attempt(ctx context.Context, job *queue.Job) (graph.Published, error) {
	payload := job.Payload

	mctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	verdict := p.moderator.Check(mctx, payload.Content)
	cancel()
	if !verdict.Safe {
		reason := errUnsafeContent
		if !verdict.Success && verdict.Error != "" {
			reason = fmt.Errorf("%w: %s", errUnsafeContent, verdict.Error)
		} else if len(verdict.Categories) > 0 {
			reason = fmt.Errorf("%w: %s", errUnsafeContent, strings.Join(verdict.Categories, ", "))
		}
		return graph.Published{}, post.Permanent(reason)
	}

	dryRun := p.dryRun || payload.DryRun
	publisher := p.publisher
	if dryRun {
		publisher = p.dryRunner
	}

	token := payload.PageAccessToken
	if !dryRun {
		token = p.refreshCredential(ctx, payload)
	}

	req := graph.Post{
		PageID:      payload.PageID,
		AccessToken: token,
		Message:     payload.Content,
		Options:     maps.Clone(payload.Options),
	}

	switch {
	case payload.Kind == post.KindText:
		return p.call(ctx, publisher.PublishText, req)

	case payload.Kind.IsImage():
		if payload.AltText != "" {
			if req.Options == nil {
				req.Options = map[string]string{}
			}
			req.Options["alt_text"] = payload.AltText
		}
		if payload.MediaPath != "" {
			if dryRun {
				return p.call(ctx, publisher.PublishPhotoBytes, req)
			}
			data, err := p.readMedia(payload.MediaPath)
			if err == nil {
				req.Photo = data
				return p.call(ctx, publisher.PublishPhotoBytes, req)
			}
			if payload.MediaURL == "" {
				return graph.Published{}, post.Permanent(fmt.Errorf("read media: %w", err))
			}
			p.logger.WithFields(logging.Fields{
				"job_id": job.ID,
				"error":  err.Error(),
			}).Warn("Local media unreadable, publishing by url")
		}
		if payload.MediaURL != "" {
			req.PhotoURL = payload.MediaURL
			return p.call(ctx, publisher.PublishPhotoURL, req)
		}
		return graph.Published{}, post.Permanent(errNoMedia)

	default:
		return graph.Published{}, post.Permanent(fmt.Errorf("unsupported post type: %s", payload.Kind))
	}
}

func (p *Pool) call(ctx context.Context, fn func(context.Context, graph.Post) (graph.Published, error), req graph.Post) (graph.Published, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return fn(ctx, req)
}

func (p *Pool) readMedia(path string) ([]byte, error) {
	if p.media == nil {
		return nil, errors.New("no media reader configured")
	}
	return p.media.Read(path)
}

// refreshCredential falls back to the job's own credential whenever the
// check cannot confirm a replacement.
func (p *Pool) refreshCredential(ctx context.Context, payload post.PublishJob) string {
	if p.credentials == nil || payload.PageAccessToken == "" {
		return payload.PageAccessToken
	}
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	cred, err := p.credentials.RefreshCredential(ctx, payload.PageID, payload.PageAccessToken)
	if err != nil || cred.Token == "" {
		fields := logging.Fields{"page_id": payload.PageID, "request_id": payload.RequestID}
		if err != nil {
			fields["error"] = audit.RedactString(err.Error())
		}
		p.logger.WithFields(fields).Warn("Credential refresh failed, using original credential")
		return payload.PageAccessToken
	}
	return cred.Token
}

// settleFailure audits the failure and then moves the job to its next
// state: delayed for a retry or failed for good.
func (p *Pool) settleFailure(ctx context.Context, job *queue.Job, err error) {
	kind := post.Classify(err)
	attempt := job.AttemptsMade + 1
	reason := audit.RedactString(err.Error())
	retry := kind != post.FailurePermanent && !job.LastAttempt()

	var delay time.Duration
	if retry {
		delay = p.retryDelay(err, kind, job.AttemptsMade)
	}

	p.audit.Record(ctx, p.entry(job, audit.EventError, "error", map[string]any{
		"jobId":       job.ID,
		"error":       reason,
		"failureKind": string(kind),
		"attempt":     attempt,
	}))
	p.audit.Record(ctx, p.entry(job, audit.EventPublishFailed, "failed", map[string]any{
		"jobId":        job.ID,
		"error":        reason,
		"failureKind":  string(kind),
		"attempt":      attempt,
		"maxAttempts":  job.MaxAttempts,
		"willRetry":    retry,
		"retryDelayMs": delay.Milliseconds(),
	}))

	log := p.logger.WithFields(logging.Fields{
		"job_id":       job.ID,
		"request_id":   job.Payload.RequestID,
		"failure_kind": string(kind),
		"attempt":      attempt,
		"max_attempts": job.MaxAttempts,
		"error":        reason,
	})

	if retry {
		if qerr := p.queue.Retry(ctx, job.ID, delay, reason); qerr != nil {
			log.WithError(qerr).Error("Failed to requeue job")
			return
		}
		metrics.PublishAttempts.WithLabelValues("retried").Inc()
		log.WithField("retry_delay", delay.String()).Warn("Publish attempt failed, retrying")
		return
	}

	if qerr := p.queue.Fail(ctx, job.ID, reason); qerr != nil {
		log.WithError(qerr).Error("Failed to mark job failed")
		return
	}
	metrics.PublishAttempts.WithLabelValues("failed").Inc()
	log.Error("Publish job failed")
}

func (p *Pool) retryDelay(err error, kind post.FailureKind, attemptsMade int) time.Duration {
	if kind == post.FailureRateLimited {
		var pe *post.PublishError
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			return pe.RetryAfter
		}
		return p.rateLimitDelay
	}
	return queue.NextDelay(p.retryBase, attemptsMade)
}
