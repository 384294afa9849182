package api

import (
	"context"

	"github.com/janakkhadka100/fb-post-ai/internal/audit"
	"github.com/janakkhadka100/fb-post-ai/internal/graph"
	"github.com/janakkhadka100/fb-post-ai/internal/pipeline"
	"github.com/janakkhadka100/fb-post-ai/internal/post"
	"github.com/janakkhadka100/fb-post-ai/internal/queue"
)

type Processor interface {
	Process(ctx context.Context, req post.Request) pipeline.Result
}

type PageDirectory interface {
	DiscoverPages(ctx context.Context) ([]graph.Page, error)
}

type JobStore interface {
	Status(ctx context.Context, id string) (queue.Status, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

type AuditQuerier interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}
