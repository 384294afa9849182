// Package moderation decides whether generated text may be published.
// The gate fails closed: a classification error is never a pass.
package moderation

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/janakkhadka100/fb-post-ai/internal/metrics"
	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

// HighRiskCategories block publication on a substring match, so
// "harassment/threatening" is caught by "harassment" as well.
var HighRiskCategories = []string{
	"hate",
	"hate/threatening",
	"harassment",
	"harassment/threatening",
	"self-harm",
	"sexual",
	"sexual/minors",
	"violence",
	"violence/graphic",
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

type Config struct {
	Classifier Classifier
	Logger     logging.Logger
	// Timeout bounds each classification. Zero means no extra bound.
	Timeout time.Duration
	// Concurrency bounds CheckAll. Default 3.
	Concurrency int
}

type Gate struct {
	classifier  Classifier
	logger      logging.Logger
	timeout     time.Duration
	concurrency int
}

func NewGate(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Gate{
		classifier:  cfg.Classifier,
		logger:      logger,
		timeout:     cfg.Timeout,
		concurrency: concurrency,
	}
}

// Summary is the verdict over a set of variants. Safe keeps generation order.
type Summary struct {
	AllSafe bool
	Safe    []post.Variant
	Results []post.ModerationResult
}

// FlaggedCategories returns the sorted union of categories matched by
// variants that did not pass.
func (s Summary) FlaggedCategories() []string {
	seen := map[string]struct{}{}
	for _, r := range s.Results {
		if r.Safe {
			continue
		}
		for _, c := range r.Categories {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Check classifies text. It never returns Safe=true when the service failed.
func (g *Gate) Check(ctx context.Context, text string) post.ModerationResult {
	if g.classifier == nil {
		metrics.ModerationChecks.WithLabelValues("error").Inc()
		return post.ModerationResult{Error: "moderation classifier not configured"}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	c, err := g.classifier.Classify(ctx, text)
	if err != nil {
		metrics.ModerationChecks.WithLabelValues("error").Inc()
		g.logger.WithFields(logging.Fields{
			"error":          err.Error(),
			"content_length": len(text),
		}).Error("Moderation call failed")
		return post.ModerationResult{Success: false, Safe: false, Error: err.Error()}
	}

	res := Evaluate(c)
	if res.Safe {
		metrics.ModerationChecks.WithLabelValues("safe").Inc()
	} else {
		metrics.ModerationChecks.WithLabelValues("unsafe").Inc()
		g.logger.WithFields(logging.Fields{
			"flagged_categories": res.Categories,
			"has_high_risk":      res.HasHighRisk,
		}).Warn("Content failed moderation")
	}
	return res
}

// CheckAll checks each variant independently and concurrently.
func (g *Gate) CheckAll(ctx context.Context, variants []post.Variant) Summary {
	results := make([]post.ModerationResult, len(variants))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, v := range variants {
		eg.Go(func() error {
			r := g.Check(ctx, v.Content)
			r.VariantID = v.ID
			results[i] = r
			return nil
		})
	}
	_ = eg.Wait()

	summary := Summary{AllSafe: len(variants) > 0, Results: results}
	for i, v := range variants {
		if results[i].Safe {
			summary.Safe = append(summary.Safe, v)
		} else {
			summary.AllSafe = false
		}
	}
	return summary
}

// Evaluate turns a raw classification into a verdict.
func Evaluate(c Classification) post.ModerationResult {
	var matched []string
	for name, hit := range c.Categories {
		if hit {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)

	scores := make(map[string]float64, len(matched))
	highRisk := false
	for _, name := range matched {
		if score, ok := c.Scores[name]; ok {
			scores[name] = math.Round(score*100) / 100
		}
		for _, hr := range HighRiskCategories {
			if strings.Contains(name, hr) {
				highRisk = true
				break
			}
		}
	}

	return post.ModerationResult{
		Success:     true,
		Flagged:     c.Flagged,
		HasHighRisk: highRisk,
		Categories:  matched,
		Scores:      scores,
		Safe:        !c.Flagged && !highRisk,
	}
}
