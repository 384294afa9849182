// Package graph talks to the Facebook Graph API: page posts, photo
// uploads, credential checks and page discovery.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/janakkhadka100/fb-post-ai/internal/metrics"
	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/pkg/cache"
	"github.com/janakkhadka100/fb-post-ai/pkg/clients"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "21.0"

	maxResponseBytes = 1 << 20
)

type Config struct {
	BaseURL    string
	APIVersion string
	AppID      string
	AppSecret  string
	// UserToken lists the pages the operator manages.
	UserToken string

	HTTPClient *http.Client
	Timeout    time.Duration
	// CredentialTTL is how long a verified page credential is trusted.
	CredentialTTL time.Duration
	Breaker       *clients.CircuitBreaker
	Logger        logging.Logger
}

type Client struct {
	baseURL     string
	appID       string
	appSecret   string
	userToken   string
	http        *http.Client
	breaker     *clients.CircuitBreaker
	credentials *cache.Cache[Credential]
	logger      logging.Logger
}

// Post is one publish call. Exactly one of PhotoURL and Photo is used by
// the photo endpoints.
type Post struct {
	PageID      string
	AccessToken string
	Message     string
	PhotoURL    string
	Photo       []byte
	Options     map[string]string
}

// Published identifies what the platform created.
type Published struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
	DryRun bool   `json:"-"`
}

// PostIdentifier prefers the feed post id over the photo id.
func (p Published) PostIdentifier() string {
	if p.PostID != "" {
		return p.PostID
	}
	return p.ID
}

func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version := strings.TrimPrefix(cfg.APIVersion, "v")
	if version == "" {
		version = DefaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = clients.NewHTTPClient(timeout)
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			Name:      "graph",
			Logger:    logger,
			IsFailure: tripsBreaker,
		})
	}
	ttl := cfg.CredentialTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Client{
		baseURL:   baseURL + "/v" + version,
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		userToken: cfg.UserToken,
		http:      httpClient,
		breaker:   breaker,
		credentials: cache.New[Credential]("graph_credentials", cache.Options{
			TTL:        ttl,
			MaxEntries: 1024,
		}, cache.MetricsHooks{
			OnHit:   func(string) { metrics.CredentialCache.WithLabelValues("hit").Inc() },
			OnMiss:  func(string) { metrics.CredentialCache.WithLabelValues("miss").Inc() },
			OnStale: func(string) { metrics.CredentialCache.WithLabelValues("stale").Inc() },
		}),
		logger: logger,
	}
}

// PublishText posts a message to the page feed.
func (c *Client) PublishText(ctx context.Context, p Post) (Published, error) {
	form := url.Values{}
	form.Set("message", p.Message)
	setOptions(form, p.Options)
	form.Set("access_token", p.AccessToken)

	c.logger.WithFields(logging.Fields{
		"page_id":        p.PageID,
		"message_length": len(p.Message),
	}).Info("Posting text to page")
	return c.postForm(ctx, "/"+url.PathEscape(p.PageID)+"/feed", form)
}

// PublishPhotoURL asks the platform to fetch the photo itself.
func (c *Client) PublishPhotoURL(ctx context.Context, p Post) (Published, error) {
	form := url.Values{}
	form.Set("url", p.PhotoURL)
	form.Set("caption", p.Message)
	form.Set("published", "true")
	setOptions(form, p.Options)
	form.Set("access_token", p.AccessToken)

	c.logger.WithFields(logging.Fields{
		"page_id":   p.PageID,
		"photo_url": logging.Redacted,
	}).Info("Posting photo by url to page")
	return c.postForm(ctx, "/"+url.PathEscape(p.PageID)+"/photos", form)
}

// PublishPhotoBytes uploads the photo as a multipart source field.
func (c *Client) PublishPhotoBytes(ctx context.Context, p Post) (Published, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("source", "photo.jpg")
	if err != nil {
		return Published{}, post.Permanent(fmt.Errorf("graph: build multipart: %w", err))
	}
	if _, err := part.Write(p.Photo); err != nil {
		return Published{}, post.Permanent(fmt.Errorf("graph: build multipart: %w", err))
	}
	fields := map[string]string{"caption": p.Message, "published": "true"}
	maps.Copy(fields, p.Options)
	fields["access_token"] = p.AccessToken
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return Published{}, post.Permanent(fmt.Errorf("graph: build multipart: %w", err))
		}
	}
	if err := mw.Close(); err != nil {
		return Published{}, post.Permanent(fmt.Errorf("graph: build multipart: %w", err))
	}

	c.logger.WithFields(logging.Fields{
		"page_id":    p.PageID,
		"photo_size": len(p.Photo),
	}).Info("Uploading photo to page")

	var out Published
	err = c.do(ctx, http.MethodPost, "/"+url.PathEscape(p.PageID)+"/photos", nil, &body, mw.FormDataContentType(), &out)
	return out, err
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (Published, error) {
	var out Published
	err := c.do(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &out)
	return out, err
}

func setOptions(form url.Values, options map[string]string) {
	for k, v := range options {
		if k == "access_token" {
			continue
		}
		form.Set(k, v)
	}
}

// do runs one Graph call through the circuit breaker. All errors come
// back as *post.PublishError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	err := c.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return post.Permanent(fmt.Errorf("graph: create request: %w", err))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return classifyTransport(err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return classifyTransport(fmt.Errorf("read response: %w", err))
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			pe := classifyResponse(resp.StatusCode, resp.Header, data)
			c.logger.WithFields(logging.Fields{
				"endpoint":    path,
				"method":      method,
				"status":      resp.StatusCode,
				"error_code":  pe.Code,
				"error_kind":  string(pe.Kind),
				"error":       pe.Error(),
				"retry_after": pe.RetryAfter.String(),
			}).Error("Graph API request failed")
			return pe
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return post.Transient(fmt.Errorf("graph: decode response: %w", err))
		}
		return nil
	})
	if err != nil {
		return classifyTransport(err)
	}
	return nil
}
