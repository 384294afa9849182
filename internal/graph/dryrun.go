package graph

import (
	"context"

	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

const (
	DryRunPostID  = "dry-run-post-id"
	DryRunPhotoID = "dry-run-photo-id"
)

// DryRunPublisher answers every publish with a fixed synthetic id and
// never touches the network.
type DryRunPublisher struct {
	Logger logging.Logger
}

func (d DryRunPublisher) log(kind string, p Post) {
	if d.Logger == nil {
		return
	}
	d.Logger.WithFields(logging.Fields{
		"page_id":         p.PageID,
		"kind":            kind,
		"message_preview": preview(p.Message),
	}).Info("DRY RUN: skipping publish")
}

func (d DryRunPublisher) PublishText(_ context.Context, p Post) (Published, error) {
	d.log("text", p)
	return Published{ID: DryRunPostID, DryRun: true}, nil
}

func (d DryRunPublisher) PublishPhotoURL(_ context.Context, p Post) (Published, error) {
	d.log("photo_url", p)
	return Published{ID: DryRunPhotoID, PostID: DryRunPhotoID, DryRun: true}, nil
}

func (d DryRunPublisher) PublishPhotoBytes(_ context.Context, p Post) (Published, error) {
	d.log("photo_upload", p)
	return Published{ID: DryRunPhotoID, PostID: DryRunPhotoID, DryRun: true}, nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 100 {
		return string(r[:100])
	}
	return s
}
