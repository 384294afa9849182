package post

import (
	"strconv"
	"time"
)

// Kind is the shape of a post on the page.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
	KindLink  Kind = "link"
)

// IsMedia reports whether the kind carries an attachment.
func (k Kind) IsMedia() bool {
	return k != KindText
}

// IsImage reports whether the kind publishes through the photos edge.
func (k Kind) IsImage() bool {
	return k == KindImage || k == KindPhoto
}

func (k Kind) valid() bool {
	switch k {
	case KindText, KindImage, KindPhoto, KindVideo, KindLink:
		return true
	}
	return false
}

type ApprovalMode string

const (
	ApprovalAuto   ApprovalMode = "auto"
	ApprovalManual ApprovalMode = "manual"
)

// Role is the variant's position in the generated set. Order matters:
// primary is preferred over short, short over alternative.
type Role string

const (
	RolePrimary     Role = "primary"
	RoleShort       Role = "short"
	RoleAlternative Role = "alternative"
)

// Roles lists the generated roles in preference order.
var Roles = []Role{RolePrimary, RoleShort, RoleAlternative}

const (
	DefaultLocale         = "en"
	DefaultTone           = "professional"
	DefaultCharacterLimit = 2200
	MaxCharacterLimit     = 63206
)

// Request is a publication request as accepted on intake. It is not mutated
// after Normalize.
type Request struct {
	RequestID        string            `json:"requestId,omitempty"`
	PageID           string            `json:"pageId"`
	PageAccessToken  string            `json:"pageAccessToken,omitempty"`
	PostType         Kind              `json:"postType,omitempty"`
	Locale           string            `json:"locale,omitempty"`
	Tone             string            `json:"tone,omitempty"`
	TargetAudience   string            `json:"targetAudience,omitempty"`
	KeyMessages      []string          `json:"keyMessages,omitempty"`
	CTA              string            `json:"cta,omitempty"`
	Hashtags         *bool             `json:"hashtags,omitempty"`
	CharacterLimit   int               `json:"characterLimit,omitempty"`
	MediaURL         string            `json:"mediaUrl,omitempty"`
	MediaPath        string            `json:"mediaPath,omitempty"`
	MediaDescription string            `json:"mediaDescription,omitempty"`
	PublishTime      *time.Time        `json:"publishTime,omitempty"`
	ApprovalMode     ApprovalMode      `json:"approvalMode,omitempty"`
	CampaignID       string            `json:"campaignId,omitempty"`
	Options          map[string]string `json:"options,omitempty"`

	// DryRun forces a simulated publish for this request's job only.
	DryRun bool `json:"-"`
}

// WantsHashtags defaults to true when the caller did not say.
func (r Request) WantsHashtags() bool {
	return r.Hashtags == nil || *r.Hashtags
}

// Usage is the token accounting reported by the generation service.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

type GenerationMetadata struct {
	Model        string    `json:"model"`
	CompletionID string    `json:"completionId,omitempty"`
	Usage        Usage     `json:"usage"`
	Prompt       string    `json:"prompt,omitempty"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Variant is one candidate rendering of the requested content.
type Variant struct {
	ID       string             `json:"id"`
	Role     Role               `json:"role"`
	Content  string             `json:"content"`
	Metadata GenerationMetadata `json:"metadata"`
}

// VariantID derives a variant identifier from its request and zero-based position.
func VariantID(requestID string, ordinal int) string {
	return requestID + "-v" + strconv.Itoa(ordinal+1)
}

// ModerationResult is the gate's verdict on one piece of text.
type ModerationResult struct {
	VariantID   string             `json:"variantId,omitempty"`
	Success     bool               `json:"success"`
	Flagged     bool               `json:"flagged"`
	HasHighRisk bool               `json:"hasHighRisk"`
	Categories  []string           `json:"categories,omitempty"`
	Scores      map[string]float64 `json:"scores,omitempty"`
	Safe        bool               `json:"safe"`
	Error       string             `json:"error,omitempty"`
}

// PublishJob is the unit of work the queue holds until its scheduled time.
type PublishJob struct {
	RequestID       string            `json:"requestId"`
	VariantID       string            `json:"variantId"`
	PageID          string            `json:"pageId"`
	PageAccessToken string            `json:"pageAccessToken"`
	Content         string            `json:"content"`
	Kind            Kind              `json:"kind"`
	MediaURL        string            `json:"mediaUrl,omitempty"`
	MediaPath       string            `json:"mediaPath,omitempty"`
	AltText         string            `json:"altText,omitempty"`
	CampaignID      string            `json:"campaignId,omitempty"`
	ScheduledFor    time.Time         `json:"scheduledFor"`
	MaxAttempts     int               `json:"maxAttempts"`
	Options         map[string]string `json:"options,omitempty"`
	DryRun          bool              `json:"dryRun,omitempty"`
}

// Key is the queue identity of the job: one job per (request, variant).
func (j PublishJob) Key() string {
	return "post-" + j.RequestID + "-" + j.VariantID
}
