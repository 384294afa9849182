// Package media downloads, validates and serves post attachments from
// local storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/janakkhadka100/fb-post-ai/internal/metrics"
	"github.com/janakkhadka100/fb-post-ai/pkg/clients"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

const (
	DefaultStorageDir = "./storage"
	DefaultMaxBytes   = 10 << 20

	maxErrorBodyBytes = 1 << 10
	filePrefix        = "media-"
)

var (
	ErrTooLarge    = errors.New("media exceeds size limit")
	ErrUnsupported = errors.New("unsupported media type")
	ErrInvalidURL  = errors.New("invalid media url")
)

var imageTypes = []string{"image/jpeg", "image/png", "image/gif"}

var videoTypes = []string{"video/mp4"}

type Config struct {
	// StorageConnection is a file://<dir> URL. Anything else uses ./storage.
	StorageConnection string
	MaxBytes          int64
	// Timeout bounds a single download attempt.
	Timeout    time.Duration
	HTTPClient *http.Client
	Retry      clients.RetryConfig
	Logger     logging.Logger
	Now        func() time.Time
}

type Resolver struct {
	dir      string
	maxBytes int64
	timeout  time.Duration
	http     *http.Client
	executor *clients.Executor
	logger   logging.Logger
	now      func() time.Time
}

type fetchStatusError struct {
	code int
	body string
}

func (e *fetchStatusError) Error() string {
	return fmt.Sprintf("media: unexpected status %d: %s", e.code, e.body)
}

func isRetryable(err error) bool {
	var se *fetchStatusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	return !errors.Is(err, ErrTooLarge) && !errors.Is(err, ErrUnsupported) && !errors.Is(err, ErrInvalidURL)
}

// StorageDir resolves a STORAGE_CONNECTION value to a directory.
func StorageDir(connection string) string {
	if dir, ok := strings.CutPrefix(connection, "file://"); ok && dir != "" {
		return dir
	}
	return DefaultStorageDir
}

func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = clients.NewHTTPClient(timeout)
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.BaseDelay == 0 {
		retry = clients.DefaultRetryConfig()
	}
	retry.ShouldRetry = isRetryable
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		dir:      filepath.Join(StorageDir(cfg.StorageConnection), "media"),
		maxBytes: maxBytes,
		timeout:  timeout,
		http:     httpClient,
		executor: clients.NewExecutor(retry),
		logger:   logger,
		now:      now,
	}
}

// Dir is where downloaded media lands.
func (r *Resolver) Dir() string { return r.dir }

// Fetch downloads rawURL into storage and returns the local path. The
// file is kept only when it sniffs as a supported image or video.
func (r *Resolver) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		metrics.MediaFetches.WithLabelValues("error").Inc()
		return "", fmt.Errorf("media: create storage dir: %w", err)
	}

	var tmpPath string
	err := r.executor.Run(ctx, func(ctx context.Context) error {
		path, err := r.download(ctx, rawURL)
		if err != nil {
			return err
		}
		tmpPath = path
		return nil
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrTooLarge) {
			result = "rejected"
		}
		metrics.MediaFetches.WithLabelValues(result).Inc()
		return "", err
	}

	mime, err := detect(tmpPath, append(imageTypes, videoTypes...))
	if err != nil {
		_ = os.Remove(tmpPath)
		metrics.MediaFetches.WithLabelValues("rejected").Inc()
		return "", err
	}

	final := filepath.Join(r.dir, filePrefix+strconv.FormatInt(r.now().UnixNano(), 10)+mime.Extension())
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		metrics.MediaFetches.WithLabelValues("error").Inc()
		return "", fmt.Errorf("media: store download: %w", err)
	}
	metrics.MediaFetches.WithLabelValues("stored").Inc()

	r.logger.WithFields(logging.Fields{
		"path":      final,
		"mime_type": mime.String(),
	}).Info("Media downloaded")
	return final, nil
}

func (r *Resolver) download(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("media: %w: %v", ErrInvalidURL, err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", &fetchStatusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	if resp.ContentLength > r.maxBytes {
		return "", fmt.Errorf("media: %d bytes: %w", resp.ContentLength, ErrTooLarge)
	}

	f, err := os.CreateTemp(r.dir, filePrefix+"*.part")
	if err != nil {
		return "", fmt.Errorf("media: create temp file: %w", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, r.maxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("media: read body: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("media: write file: %w", closeErr)
	case n > r.maxBytes:
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("media: over %d bytes: %w", r.maxBytes, ErrTooLarge)
	}
	return f.Name(), nil
}

// Validate sniffs the file at path and reports its MIME type. Images
// are always accepted; mp4 only when video is true.
func (r *Resolver) Validate(path string, video bool) (string, error) {
	allowed := imageTypes
	if video {
		allowed = append(append([]string{}, imageTypes...), videoTypes...)
	}
	mime, err := detect(path, allowed)
	if err != nil {
		return "", err
	}
	return mime.String(), nil
}

// Read returns the bytes of a validated image for multipart upload.
func (r *Resolver) Read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("media: stat: %w", err)
	}
	if info.Size() > r.maxBytes {
		return nil, fmt.Errorf("media: %s: %w", path, ErrTooLarge)
	}
	if _, err := detect(path, imageTypes); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("media: read: %w", err)
	}
	return data, nil
}

// Cleanup removes downloaded files older than maxAge and reports how
// many were deleted.
func (r *Resolver) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("media: list storage: %w", err)
	}
	cutoff := r.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, entry.Name())); err != nil {
			r.logger.WithFields(logging.Fields{
				"file":  entry.Name(),
				"error": err.Error(),
			}).Warn("Failed to remove old media")
			continue
		}
		removed++
	}
	if removed > 0 {
		r.logger.WithField("removed", removed).Info("Cleaned up old media files")
	}
	return removed, nil
}

func detect(path string, allowed []string) (*mimetype.MIME, error) {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("media: sniff %s: %w", filepath.Base(path), err)
	}
	for _, t := range allowed {
		if mime.Is(t) {
			return mime, nil
		}
	}
	return nil, fmt.Errorf("media: %s: %w", mime.String(), ErrUnsupported)
}
