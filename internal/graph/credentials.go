package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

var ErrInvalidCredential = errors.New("page credential is not valid")

// Credential is a verified page access token.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

type debugTokenResponse struct {
	Data struct {
		IsValid   bool     `json:"is_valid"`
		ExpiresAt int64    `json:"expires_at"`
		AppID     string   `json:"app_id"`
		Scopes    []string `json:"scopes"`
	} `json:"data"`
}

// RefreshCredential verifies token for pageID against /debug_token.
// Verified credentials are cached per page and token; concurrent callers
// share one lookup.
func (c *Client) RefreshCredential(ctx context.Context, pageID, token string) (Credential, error) {
	if token == "" {
		return Credential{}, fmt.Errorf("graph: empty credential for page %s: %w", pageID, ErrInvalidCredential)
	}
	return c.credentials.Get(ctx, credentialKey(pageID, token), func(ctx context.Context, _ string) (Credential, error) {
		return c.debugToken(ctx, pageID, token)
	})
}

func (c *Client) debugToken(ctx context.Context, pageID, token string) (Credential, error) {
	c.logger.WithFields(logging.Fields{"page_id": pageID}).Info("Verifying page credential")

	query := url.Values{}
	query.Set("input_token", token)
	query.Set("access_token", c.appID+"|"+c.appSecret)

	var resp debugTokenResponse
	if err := c.do(ctx, http.MethodGet, "/debug_token", query, nil, "", &resp); err != nil {
		return Credential{}, err
	}
	if !resp.Data.IsValid {
		c.logger.WithFields(logging.Fields{"page_id": pageID}).Warn("Page credential appears invalid, re-authentication may be required")
		return Credential{}, fmt.Errorf("graph: page %s: %w", pageID, ErrInvalidCredential)
	}
	cred := Credential{Token: token}
	if resp.Data.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(resp.Data.ExpiresAt, 0).UTC()
	}
	return cred, nil
}

// credentialKey keeps raw tokens out of cache keys.
func credentialKey(pageID, token string) string {
	sum := sha256.Sum256([]byte(token))
	return pageID + ":" + hex.EncodeToString(sum[:8])
}
