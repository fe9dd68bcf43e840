package pipeline

import (
	"context"
	"log/slog"
)

// Event classifies a progress notice.
type Event string

const (
	EventMetadataResolved Event = "metadata_resolved"
	EventDownloadStarted  Event = "download_started"
	EventDelivered        Event = "delivered"
	EventFailed           Event = "failed"
)

// Notifier delivers advisory progress notices to the requester. Notices are
// best effort: a notifier error never aborts the pipeline.
type Notifier interface {
	Notify(ctx context.Context, req Request, event Event, message string) error
}

// LogNotifier emits progress notices to the structured log. It is the default
// notifier and the one used in headless deployments.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, req Request, event Event, message string) error {
	slog.Info("progress notice",
		slog.String("component", "notify"),
		slog.String("request_id", req.ID),
		slog.String("event", string(event)),
		slog.String("message", message),
	)
	return nil
}
