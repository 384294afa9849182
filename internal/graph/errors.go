package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/pkg/clients"
)

// Graph error codes worth distinguishing.
const (
	codeAPIUnknown       = 1
	codeAPIService       = 2
	codeAPITooManyCalls  = 4
	codePermissionDenied = 10
	codeUserTooManyCalls = 17
	codePageRequestLimit = 32
	codePermission       = 200
	codeInvalidToken     = 190
	codeRateLimited      = 613
)

// APIError is the error object the Graph API returns in its envelope.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("graph: %s (%s, code %d)", e.Message, e.Type, e.Code)
	}
	return fmt.Sprintf("graph: %s (code %d)", e.Message, e.Code)
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// classifyResponse maps a non-2xx Graph response onto the publish
// failure taxonomy.
func classifyResponse(status int, header http.Header, body []byte) *post.PublishError {
	apiErr := &APIError{Message: strings.TrimSpace(string(body))}
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		apiErr = env.Error
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	var pe *post.PublishError
	switch {
	case status == http.StatusTooManyRequests || isRateLimitCode(apiErr.Code):
		pe = post.RateLimited(apiErr, retryAfter(header))
	case apiErr.Code == codeInvalidToken || apiErr.Code == codePermission || apiErr.Code == codePermissionDenied:
		pe = post.Permanent(apiErr)
	case status >= http.StatusInternalServerError || apiErr.Code == codeAPIUnknown || apiErr.Code == codeAPIService:
		pe = post.Transient(apiErr)
	case status >= http.StatusBadRequest:
		pe = post.Permanent(apiErr)
	default:
		pe = post.Transient(apiErr)
	}
	pe.StatusCode = status
	pe.Code = apiErr.Code
	return pe
}

func isRateLimitCode(code int) bool {
	switch code {
	case codeAPITooManyCalls, codeUserTooManyCalls, codePageRequestLimit, codeRateLimited:
		return true
	}
	return false
}

// retryAfter reads Retry-After as seconds or an HTTP date. Zero means the
// caller picks the delay.
func retryAfter(header http.Header) time.Duration {
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// classifyTransport wraps errors that never produced a response.
func classifyTransport(err error) *post.PublishError {
	var pe *post.PublishError
	if errors.As(err, &pe) {
		return pe
	}
	stripQuery(err)
	if errors.Is(err, context.Canceled) {
		return post.Transient(fmt.Errorf("graph: request canceled: %w", err))
	}
	if errors.Is(err, clients.ErrCircuitOpen) {
		return post.Transient(fmt.Errorf("graph: circuit open: %w", err))
	}
	return post.Transient(fmt.Errorf("graph: %w", err))
}

// stripQuery drops the query string from a *url.Error in err. Graph calls
// carry app and page credentials there.
func stripQuery(err error) {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return
	}
	u, perr := url.Parse(ue.URL)
	if perr != nil {
		ue.URL = "[unparseable url]"
		return
	}
	u.RawQuery = ""
	ue.URL = u.String()
}

// tripsBreaker counts only failures that say the platform is unhealthy.
func tripsBreaker(err error) bool {
	return post.Classify(err) != post.FailurePermanent
}
