package post

import (
	"strings"

	"github.com/google/uuid"
)

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return "req-" + uuid.NewString()
}

// Normalize fills defaults. It returns a copy; the receiver is untouched.
func (r Request) Normalize() Request {
	out := r
	out.RequestID = strings.TrimSpace(out.RequestID)
	if out.RequestID == "" {
		out.RequestID = NewRequestID()
	}
	out.PageID = strings.TrimSpace(out.PageID)
	if out.PostType == "" {
		out.PostType = KindText
	}
	out.PostType = Kind(strings.ToLower(string(out.PostType)))
	if out.Locale == "" {
		out.Locale = DefaultLocale
	}
	if out.Tone == "" {
		out.Tone = DefaultTone
	}
	if out.CharacterLimit == 0 {
		out.CharacterLimit = DefaultCharacterLimit
	}
	if out.ApprovalMode == "" {
		out.ApprovalMode = ApprovalAuto
	}
	out.ApprovalMode = ApprovalMode(strings.ToLower(string(out.ApprovalMode)))

	if len(r.KeyMessages) > 0 {
		msgs := make([]string, 0, len(r.KeyMessages))
		for _, m := range r.KeyMessages {
			if m = strings.TrimSpace(m); m != "" {
				msgs = append(msgs, m)
			}
		}
		out.KeyMessages = msgs
	}
	return out
}

// Validate checks a normalized request.
func (r Request) Validate() error {
	if r.PageID == "" {
		return &ValidationError{Field: "pageId", Reason: "is required"}
	}
	if !r.PostType.valid() {
		return &ValidationError{Field: "postType", Reason: "must be one of text, image, photo, video, link"}
	}
	if r.ApprovalMode != ApprovalAuto && r.ApprovalMode != ApprovalManual {
		return &ValidationError{Field: "approvalMode", Reason: "must be auto or manual"}
	}
	if r.CharacterLimit < 1 || r.CharacterLimit > MaxCharacterLimit {
		return &ValidationError{Field: "characterLimit", Reason: "must be between 1 and 63206"}
	}
	if r.PostType.IsImage() && r.MediaURL == "" && r.MediaPath == "" {
		return &ValidationError{Field: "mediaUrl", Reason: "is required for image posts"}
	}
	if r.MediaURL != "" && !strings.HasPrefix(r.MediaURL, "http://") && !strings.HasPrefix(r.MediaURL, "https://") {
		return &ValidationError{Field: "mediaUrl", Reason: "must be an http(s) URL"}
	}
	return nil
}
