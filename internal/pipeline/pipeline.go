// Package pipeline turns a post request into exactly one scheduled
// publish job, a pending approval, or a failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/janakkhadka100/fb-post-ai/internal/audit"
	"github.com/janakkhadka100/fb-post-ai/internal/generator"
	"github.com/janakkhadka100/fb-post-ai/internal/metrics"
	"github.com/janakkhadka100/fb-post-ai/internal/moderation"
	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/internal/queue"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

const DefaultMaxAttempts = 3

type ContentGenerator interface {
	Generate(ctx context.Context, b generator.Brief) (generator.Output, error)
}

type Moderator interface {
	CheckAll(ctx context.Context, variants []post.Variant) moderation.Summary
}

type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job post.PublishJob, delay time.Duration) (string, error)
}

type Recorder interface {
	Record(ctx context.Context, e audit.Entry)
}

type Config struct {
	Generator ContentGenerator
	Moderator Moderator
	Media     MediaFetcher
	Queue     Enqueuer
	Audit     Recorder
	Logger    logging.Logger
	// MaxAttempts is the attempt budget given to every job.
	MaxAttempts int
	DryRun      bool
	Now         func() time.Time
}

type Pipeline struct {
	generator   ContentGenerator
	moderator   Moderator
	media       MediaFetcher
	queue       Enqueuer
	audit       Recorder
	logger      logging.Logger
	maxAttempts int
	dryRun      bool
	now         func() time.Time
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Entry) {}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Generator == nil || cfg.Moderator == nil || cfg.Queue == nil {
		return nil, errors.New("pipeline: generator, moderator and queue are required")
	}
	p := &Pipeline{
		generator:   cfg.Generator,
		moderator:   cfg.Moderator,
		media:       cfg.Media,
		queue:       cfg.Queue,
		audit:       cfg.Audit,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		dryRun:      cfg.DryRun,
		now:         cfg.Now,
	}
	if p.audit == nil {
		p.audit = nopRecorder{}
	}
	if p.logger == nil {
		p.logger = logging.NewDiscardLogger()
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Process runs a request end to end. It never panics or returns an
// error: every failure becomes a failed Result with an audit entry.
func (p *Pipeline) Process(ctx context.Context, req post.Request) (res Result) {
	start := p.now()
	req = req.Normalize()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logging.Fields{
				"request_id": req.RequestID,
				"panic":      fmt.Sprint(r),
			}).Error("Recovered panic in pipeline")
			res = p.fail(ctx, req, post.ReasonInternal, fmt.Errorf("internal error: %v", r))
		}
		metrics.PipelineResults.WithLabelValues(string(res.Status)).Inc()
		metrics.PipelineDuration.Observe(p.now().Sub(start).Seconds())
	}()

	return p.process(ctx, req)
}

func (p *Pipeline) process(ctx context.Context, req post.Request) Result {
	log := p.logger.WithFields(logging.Fields{
		"request_id": req.RequestID,
		"page_id":    req.PageID,
		"post_type":  string(req.PostType),
	})
	log.Info("Processing post request")

	p.record(ctx, req, audit.EventRequestReceived, "pending", requestDetails(req))

	if err := req.Validate(); err != nil {
		return p.fail(ctx, req, post.ReasonValidation, err)
	}

	brief := generator.BriefFrom(req)
	gen, err := p.generator.Generate(ctx, brief)
	if err != nil {
		return p.fail(ctx, req, post.ReasonGenerationFailed, err)
	}
	if len(gen.Variants) == 0 {
		return p.fail(ctx, req, post.ReasonGenerationFailed, fmt.Errorf("%w: no variants", post.ErrGeneration))
	}
	p.record(ctx, req, audit.EventContentGenerated, "success", generationDetails(gen))

	verdict := p.moderator.CheckAll(ctx, gen.Variants)
	summary := moderationSummary(gen.Variants, verdict)
	status := "passed"
	if !verdict.AllSafe {
		status = "failed"
	}
	p.recordVariant(ctx, req, "all", audit.EventModerationChecked, status, map[string]any{
		"allSafe":         verdict.AllSafe,
		"safeVariantIds":  variantIDs(verdict.Safe),
		"results":         verdict.Results,
		"flaggedCount":    summary.Flagged,
		"flaggedCategory": summary.Categories,
	})
	if len(verdict.Safe) == 0 {
		res := p.fail(ctx, req, post.ReasonAllVariantsUnsafe, post.ErrAllVariantsUnsafe)
		res.Moderation = &summary
		return res
	}
	if !verdict.AllSafe {
		log.WithField("safe_count", len(verdict.Safe)).Warn("Some variants failed moderation")
	}

	media := p.resolveMedia(ctx, req)

	if req.ApprovalMode == post.ApprovalManual {
		log.Info("Post requires manual approval")
		views := make([]VariantView, 0, len(verdict.Safe))
		for _, v := range verdict.Safe {
			views = append(views, VariantView{ID: v.ID, Role: v.Role, Content: v.Content})
		}
		return Result{
			Status:        StatusPendingApproval,
			RequestID:     req.RequestID,
			PageID:        req.PageID,
			VariantIDs:    variantIDs(verdict.Safe),
			Variants:      views,
			AltText:       gen.AltText,
			Moderation:    &summary,
			MediaStrategy: media.Strategy,
			DryRun:        p.dryRun || req.DryRun,
			Errors:        []string{},
		}
	}

	selected := verdict.Safe[0]
	now := p.now()
	scheduledFor := now.UTC()
	if req.PublishTime != nil && !req.PublishTime.IsZero() {
		scheduledFor = req.PublishTime.UTC()
	}

	job := post.PublishJob{
		RequestID:       req.RequestID,
		VariantID:       selected.ID,
		PageID:          req.PageID,
		PageAccessToken: req.PageAccessToken,
		Content:         selected.Content,
		Kind:            req.PostType,
		MediaURL:        media.URL,
		MediaPath:       media.Path,
		AltText:         gen.AltText,
		CampaignID:      req.CampaignID,
		ScheduledFor:    scheduledFor,
		MaxAttempts:     p.maxAttempts,
		Options:         req.Options,
		DryRun:          req.DryRun,
	}
	jobID, err := p.queue.Enqueue(ctx, job, queue.DelayUntil(scheduledFor, now))
	if err != nil {
		if errors.Is(err, queue.ErrJobActive) {
			err = fmt.Errorf("%w: a job for %s is already being published", post.ErrScheduling, job.Key())
		} else {
			err = fmt.Errorf("%w: %w", post.ErrScheduling, err)
		}
		res := p.fail(ctx, req, post.ReasonScheduling, err)
		res.Moderation = &summary
		return res
	}

	log.WithFields(logging.Fields{
		"job_id":        jobID,
		"variant_id":    selected.ID,
		"scheduled_for": scheduledFor.Format(time.RFC3339),
	}).Info("Post request scheduled")

	return Result{
		Status:            StatusScheduled,
		RequestID:         req.RequestID,
		PageID:            req.PageID,
		JobID:             jobID,
		SelectedVariantID: selected.ID,
		VariantIDs:        variantIDs(verdict.Safe),
		AltText:           gen.AltText,
		Moderation:        &summary,
		ScheduledFor:      &scheduledFor,
		MediaStrategy:     media.Strategy,
		DryRun:            p.dryRun || req.DryRun,
		Errors:            []string{},
	}
}

func (p *Pipeline) fail(ctx context.Context, req post.Request, reason string, err error) Result {
	p.logger.WithFields(logging.Fields{
		"request_id": req.RequestID,
		"reason":     reason,
		"error":      audit.RedactString(err.Error()),
	}).Error("Post request processing failed")

	p.record(ctx, req, audit.EventError, "failed", map[string]any{
		"reason": reason,
		"error":  err.Error(),
	})
	return failed(req.RequestID, req.PageID, reason, err)
}

func (p *Pipeline) record(ctx context.Context, req post.Request, t audit.EventType, status string, details map[string]any) {
	p.recordVariant(ctx, req, "", t, status, details)
}

func (p *Pipeline) recordVariant(ctx context.Context, req post.Request, variantID string, t audit.EventType, status string, details map[string]any) {
	p.audit.Record(ctx, audit.Entry{
		Type:      t,
		RequestID: req.RequestID,
		VariantID: variantID,
		PageID:    req.PageID,
		Status:    status,
		Details:   details,
	})
}

func requestDetails(req post.Request) map[string]any {
	d := map[string]any{
		"postType":        string(req.PostType),
		"locale":          req.Locale,
		"tone":            req.Tone,
		"keyMessageCount": len(req.KeyMessages),
		"approvalMode":    string(req.ApprovalMode),
		"characterLimit":  req.CharacterLimit,
		"hasMedia":        req.MediaURL != "" || req.MediaPath != "",
		"dryRun":          req.DryRun,
	}
	if req.CampaignID != "" {
		d["campaignId"] = req.CampaignID
	}
	if req.PublishTime != nil {
		d["publishTime"] = req.PublishTime.UTC().Format(time.RFC3339)
	}
	return d
}

func generationDetails(gen generator.Output) map[string]any {
	d := map[string]any{
		"variantCount":  len(gen.Variants),
		"parseStrategy": gen.Strategy,
		"hasAltText":    gen.AltText != "",
	}
	if len(gen.Variants) > 0 {
		meta := gen.Variants[0].Metadata
		d["model"] = meta.Model
		d["completionId"] = meta.CompletionID
		d["usage"] = meta.Usage
	}
	return d
}

func moderationSummary(variants []post.Variant, verdict moderation.Summary) ModerationSummary {
	return ModerationSummary{
		Total:      len(variants),
		Safe:       len(verdict.Safe),
		Flagged:    len(variants) - len(verdict.Safe),
		Categories: verdict.FlaggedCategories(),
	}
}

func variantIDs(vs []post.Variant) []string {
	ids := make([]string, len(vs))
	for i, v := range vs {
		ids[i] = v.ID
	}
	return ids
}
