// Package generator produces the three content variants for a request.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/janakkhadka100/fb-post-ai/internal/audit"
	"github.com/janakkhadka100/fb-post-ai/internal/metrics"
	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/pkg/llm"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

const (
	altTextMaxChars  = 100
	altTextMaxTokens = 100
	maxGenTokens     = 2000
)

type Config struct {
	Provider llm.Provider
	Model    string
	Logger   logging.Logger
	// Timeout bounds each completion. Zero means no extra bound.
	Timeout time.Duration
	Now     func() time.Time
}

type Generator struct {
	provider llm.Provider
	model    string
	logger   logging.Logger
	timeout  time.Duration
	now      func() time.Time
}

// Output is a complete generation: always three variants in role order.
type Output struct {
	Variants []post.Variant
	AltText  string
	Strategy string
}

func New(cfg Config) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Generator{
		provider: cfg.Provider,
		model:    cfg.Model,
		logger:   logger,
		timeout:  cfg.Timeout,
		now:      now,
	}
}

// Generate asks for three variants and, for media posts with a
// description, an alt-text. Errors wrap post.ErrGeneration.
func (g *Generator) Generate(ctx context.Context, b Brief) (Output, error) {
	if g.provider == nil {
		return Output{}, fmt.Errorf("%w: no provider configured", post.ErrGeneration)
	}
	if b.CharacterLimit <= 0 {
		b.CharacterLimit = post.DefaultCharacterLimit
	}

	g.logger.WithFields(logging.Fields{
		"request_id":        b.RequestID,
		"locale":            b.Locale,
		"tone":              b.Tone,
		"key_message_count": len(b.KeyMessages),
		"post_type":         string(b.Kind),
	}).Info("Generating content variants")

	prompt := buildPrompt(b)
	temp := 0.8
	completion, err := g.complete(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}, llm.Options{Temperature: &temp, MaxTokens: min(b.CharacterLimit, maxGenTokens)})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("variants", "error").Inc()
		return Output{}, fmt.Errorf("%w: %w", post.ErrGeneration, err)
	}
	metrics.LLMCalls.WithLabelValues("variants", "success").Inc()
	if strings.TrimSpace(completion.Content) == "" {
		return Output{}, fmt.Errorf("%w: empty response", post.ErrGeneration)
	}

	segments, strategy := parseVariants(completion.Content, b.CharacterLimit)
	if len(segments) != len(post.Roles) {
		return Output{}, fmt.Errorf("%w: unparseable response", post.ErrGeneration)
	}

	meta := post.GenerationMetadata{
		Model:        g.model,
		CompletionID: completion.ID,
		Usage: post.Usage{
			Prompt:     completion.Usage.PromptTokens,
			Completion: completion.Usage.CompletionTokens,
			Total:      completion.Usage.TotalTokens,
		},
		Prompt:      audit.RedactString(prompt),
		GeneratedAt: g.now().UTC(),
	}
	variants := make([]post.Variant, len(segments))
	for i, text := range segments {
		variants[i] = post.Variant{
			ID:       post.VariantID(b.RequestID, i),
			Role:     post.Roles[i],
			Content:  truncateAtWord(text, b.CharacterLimit),
			Metadata: meta,
		}
	}

	out := Output{Variants: variants, Strategy: strategy}
	if b.Kind.IsMedia() && b.MediaDescription != "" {
		out.AltText = g.altText(ctx, b)
	}

	g.logger.WithFields(logging.Fields{
		"request_id":    b.RequestID,
		"variant_count": len(variants),
		"completion_id": completion.ID,
		"strategy":      strategy,
	}).Info("Content variants generated")
	return out, nil
}

// altText never fails the generation; an empty string means none.
func (g *Generator) altText(ctx context.Context, b Brief) string {
	temp := 0.3
	completion, err := g.complete(ctx, []llm.Message{
		{Role: "system", Content: altTextSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Generate alt-text (max %d characters) for this image: %s", altTextMaxChars, b.MediaDescription)},
	}, llm.Options{Temperature: &temp, MaxTokens: altTextMaxTokens})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("alt_text", "error").Inc()
		g.logger.WithFields(logging.Fields{
			"request_id": b.RequestID,
			"error":      err.Error(),
		}).Warn("Failed to generate alt-text")
		return ""
	}
	metrics.LLMCalls.WithLabelValues("alt_text", "success").Inc()
	return truncateAtWord(strings.Trim(completion.Content, "\"' \n"), altTextMaxChars)
}

func (g *Generator) complete(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Completion, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	completion, err := llm.Collect(ctx, g.provider, messages, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return llm.Completion{}, fmt.Errorf("completion timed out: %w", err)
		}
		return llm.Completion{}, err
	}
	return completion, nil
}
