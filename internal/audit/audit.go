// Package audit is the append-only event trail. Every entry is redacted
// before it reaches any sink.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

type EventType string

const (
	EventRequestReceived   EventType = "request-received"
	EventContentGenerated  EventType = "content-generated"
	EventModerationChecked EventType = "moderation-checked"
	EventPublishAttempted  EventType = "publish-attempted"
	EventPublishSucceeded  EventType = "publish-succeeded"
	EventPublishFailed     EventType = "publish-failed"
	EventError             EventType = "error"
)

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventRequestReceived, EventContentGenerated, EventModerationChecked,
		EventPublishAttempted, EventPublishSucceeded, EventPublishFailed, EventError:
		return true
	}
	return false
}

type Entry struct {
	Type      EventType      `json:"type"`
	RequestID string         `json:"requestId"`
	VariantID string         `json:"variantId,omitempty"`
	PageID    string         `json:"pageId,omitempty"`
	Status    string         `json:"status,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Filter matches by exact equality; empty fields match everything.
type Filter struct {
	RequestID string
	PageID    string
	Type      EventType
	Limit     int
}

// MaxQueryResults caps every query.
const MaxQueryResults = 100

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > MaxQueryResults {
		return MaxQueryResults
	}
	return f.Limit
}

func (f Filter) Match(e Entry) bool {
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.PageID != "" && e.PageID != f.PageID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}

// Store persists redacted lines and answers queries.
type Store interface {
	Append(ctx context.Context, line []byte, at time.Time) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

// Mirror receives a copy of each redacted line.
type Mirror interface {
	Mirror(ctx context.Context, entry Entry, line []byte) error
}

type Config struct {
	Store   Store
	Mirrors []Mirror
	Logger  logging.Logger
	Now     func() time.Time
}

// Trail records and queries audit entries.
type Trail struct {
	store   Store
	mirrors []Mirror
	logger  logging.Logger
	now     func() time.Time
}

func New(cfg Config) *Trail {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Trail{store: cfg.Store, mirrors: cfg.Mirrors, logger: logger, now: now}
}

// Record redacts and appends e. Failures are logged, never returned.
func (t *Trail) Record(ctx context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now().UTC()
	}
	redacted, line, err := Sanitize(e)
	if err != nil {
		t.logger.WithFields(logging.Fields{
			"request_id": e.RequestID,
			"event_type": string(e.Type),
			"error":      err.Error(),
		}).Error("Failed to encode audit entry")
		return
	}

	if t.store != nil {
		if err := t.store.Append(ctx, line, redacted.Timestamp); err != nil {
			t.logger.WithFields(logging.Fields{
				"request_id": e.RequestID,
				"event_type": string(e.Type),
				"error":      err.Error(),
			}).Error("Failed to write audit entry")
		}
	}
	for _, m := range t.mirrors {
		if err := m.Mirror(ctx, redacted, line); err != nil {
			t.logger.WithFields(logging.Fields{
				"request_id": e.RequestID,
				"event_type": string(e.Type),
				"error":      err.Error(),
			}).Warn("Failed to mirror audit entry")
		}
	}
	t.logger.WithFields(logging.Fields{
		"request_id": e.RequestID,
		"event_type": string(e.Type),
	}).Debug("Audit entry recorded")
}

func (t *Trail) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if t.store == nil {
		return []Entry{}, nil
	}
	return t.store.Query(ctx, f)
}

// Sanitize returns the redacted entry and its JSON line. The whole entry is
// walked, not only Details, so a token pasted into Status is caught too.
func Sanitize(e Entry) (Entry, []byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("marshal audit entry: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Entry{}, nil, fmt.Errorf("normalize audit entry: %w", err)
	}
	line, err := json.Marshal(Redact(generic))
	if err != nil {
		return Entry{}, nil, fmt.Errorf("marshal redacted entry: %w", err)
	}
	var out Entry
	if err := json.Unmarshal(line, &out); err != nil {
		return Entry{}, nil, fmt.Errorf("decode redacted entry: %w", err)
	}
	return out, line, nil
}
