// Package api is the HTTP surface over the publication pipeline, the
// queue and the audit trail.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/janakkhadka100/fb-post-ai/internal/audit"
	"github.com/janakkhadka100/fb-post-ai/internal/pipeline"
	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/internal/queue"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

const pageLookupTimeout = 15 * time.Second

type Config struct {
	Pipeline Processor
	Pages    PageDirectory
	Jobs     JobStore
	Audit    AuditQuerier
	Logger   logging.Logger
	DryRun   bool
}

type Handler struct {
	pipeline Processor
	pages    PageDirectory
	jobs     JobStore
	audit    AuditQuerier
	logger   logging.Logger
	dryRun   bool
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Handler{
		pipeline: cfg.Pipeline,
		pages:    cfg.Pages,
		jobs:     cfg.Jobs,
		audit:    cfg.Audit,
		logger:   logger,
		dryRun:   cfg.DryRun,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/pages", h.ListPages)
	r.POST("/posts", h.CreatePost)
	r.POST("/posts/dry-run", h.DryRunPost)
	r.GET("/jobs/:id", h.GetJob)
	r.DELETE("/jobs/:id", h.CancelJob)
	r.GET("/queue/stats", h.QueueStats)
	r.GET("/audit", h.QueryAudit)
}

func (h *Handler) ListPages(c *gin.Context) {
	if h.pages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "page discovery is not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), pageLookupTimeout)
	defer cancel()

	pages, err := h.pages.DiscoverPages(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to discover pages")
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": audit.RedactString(err.Error())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pages": pages})
}

func (h *Handler) CreatePost(c *gin.Context) {
	var req post.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
		return
	}
	if req.PageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "pageId is required"})
		return
	}

	if req.PageAccessToken == "" && !h.dryRun {
		token, ok := h.lookupPageToken(c.Request.Context(), req.PageID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "pageId not found or pageAccessToken required"})
			return
		}
		req.PageAccessToken = token
	}

	h.respond(c, h.pipeline.Process(c.Request.Context(), req))
}

// DryRunPost runs the full pipeline but marks the job so the worker
// never calls the platform.
func (h *Handler) DryRunPost(c *gin.Context) {
	var req post.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format", "dryRun": true})
		return
	}
	if req.RequestID == "" {
		req.RequestID = "dry-run-" + uuid.NewString()
	}
	req.DryRun = true

	res := h.pipeline.Process(c.Request.Context(), req)
	res.DryRun = true
	h.respond(c, res)
}

func (h *Handler) respond(c *gin.Context, res pipeline.Result) {
	switch {
	case res.Status != pipeline.StatusFailed:
		c.JSON(http.StatusOK, res)
	case res.Reason == post.ReasonValidation:
		c.JSON(http.StatusUnprocessableEntity, res)
	default:
		c.JSON(http.StatusInternalServerError, res)
	}
}

func (h *Handler) lookupPageToken(ctx context.Context, pageID string) (string, bool) {
	if h.pages == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, pageLookupTimeout)
	defer cancel()

	pages, err := h.pages.DiscoverPages(ctx)
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"page_id": pageID,
			"error":   audit.RedactString(err.Error()),
		}).Warn("Page discovery failed while resolving credential")
		return "", false
	}
	for _, p := range pages {
		if p.ID == pageID && p.AccessToken != "" {
			return p.AccessToken, true
		}
	}
	return "", false
}

func (h *Handler) GetJob(c *gin.Context) {
	status, err := h.jobs.Status(c.Request.Context(), c.Param("id"))
	if errors.Is(err, queue.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get job status")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	cancelled, err := h.jobs.Cancel(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to cancel job")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"jobId":   id,
			"error":   "job is not pending; only waiting or delayed jobs can be cancelled",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobId": id})
}

func (h *Handler) QueueStats(c *gin.Context) {
	stats, err := h.jobs.Stats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get queue stats")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) QueryAudit(c *gin.Context) {
	f := audit.Filter{
		RequestID: c.Query("requestId"),
		PageID:    c.Query("pageId"),
		Type:      audit.EventType(c.Query("type")),
	}
	if f.Type != "" && !audit.ValidEventType(f.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown event type"})
		return
	}
	entries, err := h.audit.Query(c.Request.Context(), f)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query audit logs")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(entries), "logs": entries})
}
