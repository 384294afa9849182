package graph

import (
	"context"
	"net/http"
	"net/url"

	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

// Page is a page the operator's user token can manage. AccessToken is
// held in memory only and never serialized.
type Page struct {
	ID          string   `json:"pageId"`
	Name        string   `json:"pageName"`
	Permissions []string `json:"permissions"`
	Tasks       []string `json:"tasks"`
	AccessToken string   `json:"-"`
}

type accountsResponse struct {
	Data []struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		AccessToken string   `json:"access_token"`
		Perms       []string `json:"perms"`
		Tasks       []string `json:"tasks"`
	} `json:"data"`
}

// DiscoverPages lists the pages behind the configured user token.
func (c *Client) DiscoverPages(ctx context.Context) ([]Page, error) {
	query := url.Values{}
	query.Set("fields", "id,name,access_token,perms,tasks")
	query.Set("access_token", c.userToken)

	var resp accountsResponse
	if err := c.do(ctx, http.MethodGet, "/me/accounts", query, nil, "", &resp); err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(resp.Data))
	names := make([]string, 0, len(resp.Data))
	for _, p := range resp.Data {
		perms, tasks := p.Perms, p.Tasks
		if perms == nil {
			perms = []string{}
		}
		if tasks == nil {
			tasks = []string{}
		}
		pages = append(pages, Page{
			ID:          p.ID,
			Name:        p.Name,
			Permissions: perms,
			Tasks:       tasks,
			AccessToken: p.AccessToken,
		})
		names = append(names, p.Name)
	}
	c.logger.WithFields(logging.Fields{
		"page_count": len(pages),
		"page_names": names,
	}).Info("Discovered pages")
	return pages, nil
}

// PageToken finds the access token for pageID among the discovered pages.
func (c *Client) PageToken(ctx context.Context, pageID string) (string, bool, error) {
	pages, err := c.DiscoverPages(ctx)
	if err != nil {
		return "", false, err
	}
	for _, p := range pages {
		if p.ID == pageID {
			return p.AccessToken, p.AccessToken != "", nil
		}
	}
	return "", false, nil
}
