package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/janakkhadka100/fb-post-ai/pkg/clients"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

// Classification is the moderation service's raw answer for one input.
type Classification struct {
	Flagged    bool               `json:"flagged"`
	Categories map[string]bool    `json:"categories"`
	Scores     map[string]float64 `json:"category_scores"`
}

type ClientConfig struct {
	APIURL     string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Retry      clients.RetryConfig
	Logger     logging.Logger
}

// Client calls an OpenAI-compatible /moderations endpoint.
type Client struct {
	apiURL   string
	apiKey   string
	model    string
	http     *http.Client
	executor *clients.Executor
	logger   logging.Logger
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("moderation: unexpected status %d: %s", e.code, e.body)
}

// retryable keeps 4xx answers (bad key, bad input) from being retried.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	return true
}

func NewClient(cfg ClientConfig) *Client {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = clients.NewHTTPClient(30 * time.Second)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.BaseDelay == 0 {
		retry = clients.DefaultRetryConfig()
	}
	retry.ShouldRetry = retryable
	if retry.CircuitBreaker == nil {
		retry.CircuitBreaker = clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			Name:      "moderation",
			Logger:    logger,
			IsFailure: retryable,
		})
	}
	return &Client{
		apiURL:   apiURL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		http:     httpClient,
		executor: clients.NewExecutor(retry),
		logger:   logger,
	}
}

type moderationRequest struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

type moderationResponse struct {
	ID      string           `json:"id"`
	Results []Classification `json:"results"`
}

func (c *Client) Classify(ctx context.Context, text string) (Classification, error) {
	payload, err := json.Marshal(moderationRequest{Input: text, Model: c.model})
	if err != nil {
		return Classification{}, fmt.Errorf("moderation: marshal request: %w", err)
	}

	var out Classification
	err = c.executor.Run(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/moderations", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("moderation: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("moderation: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
		}

		var decoded moderationResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("moderation: decode response: %w", err)
		}
		if len(decoded.Results) == 0 {
			return errors.New("moderation: empty results")
		}
		out = decoded.Results[0]
		return nil
	})
	if err != nil {
		return Classification{}, err
	}
	return out, nil
}
