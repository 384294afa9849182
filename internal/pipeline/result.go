package pipeline

import (
	"time"

	"github.com/janakkhadka100/fb-post-ai/internal/post"
)

type Status string

const (
	StatusScheduled       Status = "scheduled"
	StatusPendingApproval Status = "pending_approval"
	StatusFailed          Status = "failed"
)

// ModerationSummary aggregates the gate's verdicts for one request.
type ModerationSummary struct {
	Total      int      `json:"total"`
	Safe       int      `json:"safe"`
	Flagged    int      `json:"flagged"`
	Categories []string `json:"categories"`
}

// VariantView is a safe variant surfaced for human selection.
type VariantView struct {
	ID      string    `json:"id"`
	Role    post.Role `json:"role"`
	Content string    `json:"content"`
}

// Result is the single terminal outcome of processing one request.
type Result struct {
	Status            Status             `json:"status"`
	RequestID         string             `json:"requestId"`
	PageID            string             `json:"pageId,omitempty"`
	JobID             string             `json:"jobId,omitempty"`
	SelectedVariantID string             `json:"selectedVariantId,omitempty"`
	VariantIDs        []string           `json:"variantIds,omitempty"`
	Variants          []VariantView      `json:"variants,omitempty"`
	AltText           string             `json:"altText,omitempty"`
	Moderation        *ModerationSummary `json:"moderationSummary,omitempty"`
	ScheduledFor      *time.Time         `json:"scheduledFor,omitempty"`
	MediaStrategy     string             `json:"mediaStrategy,omitempty"`
	DryRun            bool               `json:"dryRun"`
	Reason            string             `json:"reason,omitempty"`
	Errors            []string           `json:"errors"`
}

func failed(requestID, pageID, reason string, err error) Result {
	return Result{
		Status:    StatusFailed,
		RequestID: requestID,
		PageID:    pageID,
		Reason:    reason,
		Errors:    []string{err.Error()},
	}
}
