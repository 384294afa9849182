package pipeline

import (
	"context"

	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

// mediaPlan is where the worker will find the attachment.
type mediaPlan struct {
	Path     string
	URL      string
	Strategy string
}

// mediaStrategy resolves an attachment or reports that it does not apply.
type mediaStrategy struct {
	name    string
	resolve func(ctx context.Context, p *Pipeline, req post.Request) (mediaPlan, bool)
}

// mediaStrategies are tried in order. A failed download falls through to
// publishing by remote reference.
var mediaStrategies = []mediaStrategy{
	{name: "local-path", resolve: resolveLocalPath},
	{name: "download", resolve: resolveDownload},
	{name: "remote-url", resolve: resolveRemoteURL},
}

func resolveLocalPath(_ context.Context, _ *Pipeline, req post.Request) (mediaPlan, bool) {
	if req.MediaPath == "" {
		return mediaPlan{}, false
	}
	return mediaPlan{Path: req.MediaPath, URL: req.MediaURL}, true
}

func resolveDownload(ctx context.Context, p *Pipeline, req post.Request) (mediaPlan, bool) {
	if p.media == nil || req.MediaURL == "" {
		return mediaPlan{}, false
	}
	path, err := p.media.Fetch(ctx, req.MediaURL)
	if err != nil {
		p.logger.WithFields(logging.Fields{
			"request_id": req.RequestID,
			"error":      err.Error(),
		}).Warn("Failed to download media, using URL directly")
		return mediaPlan{}, false
	}
	return mediaPlan{Path: path, URL: req.MediaURL}, true
}

func resolveRemoteURL(_ context.Context, _ *Pipeline, req post.Request) (mediaPlan, bool) {
	if req.MediaURL == "" {
		return mediaPlan{}, false
	}
	return mediaPlan{URL: req.MediaURL}, true
}

func (p *Pipeline) resolveMedia(ctx context.Context, req post.Request) mediaPlan {
	if !req.PostType.IsMedia() {
		return mediaPlan{}
	}
	for _, s := range mediaStrategies {
		if plan, ok := s.resolve(ctx, p, req); ok {
			plan.Strategy = s.name
			return plan
		}
	}
	return mediaPlan{}
}
