// Package relay hands a bounded, validated payload plus its label to the
// downstream sink exactly once per successful fetch and releases the payload's
// temp resource immediately after the attempt, whatever the sink reported.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/trackrelay/trackrelay/fetch"
	"github.com/trackrelay/trackrelay/metadata"
)

// Upload is the sink-facing view of one delivery.
type Upload struct {
	FilenameHint string
	Title        string
	Performer    string
	MimeType     string
	Size         int64
	Body         io.Reader
}

// SendResult reports the sink's verdict on one upload.
type SendResult struct {
	Accepted bool
	Reason   string
}

// Sink is the downstream messaging endpoint that receives delivered audio.
// A practical binding enforces its own maximum accepted payload size, which
// must be at or below the fetcher's ceiling.
type Sink interface {
	Send(ctx context.Context, up Upload) (SendResult, error)
}

// DeliveryResult is the terminal record of one relay attempt.
type DeliveryResult struct {
	Delivered     bool
	FailureReason string
}

// Deliver streams the payload into the sink. The payload's spool is released
// before returning on every path; whether a sink rejection is terminal is the
// orchestrator's call, not ours.
func Deliver(ctx context.Context, sink Sink, payload *fetch.AudioPayload, label metadata.TrackLabel) DeliveryResult {
	defer payload.Release()

	body, err := payload.Open()
	if err != nil {
		return DeliveryResult{Delivered: false, FailureReason: fmt.Sprintf("open payload: %v", err)}
	}
	defer body.Close()

	res, err := sink.Send(ctx, Upload{
		FilenameHint: label.FilenameHint(),
		Title:        label.Title,
		Performer:    label.Performer,
		MimeType:     payload.MimeType,
		Size:         payload.Size,
		Body:         body,
	})
	if err != nil {
		slog.Warn("sink send failed", slog.Any("err", err))
		return DeliveryResult{Delivered: false, FailureReason: err.Error()}
	}
	if !res.Accepted {
		return DeliveryResult{Delivered: false, FailureReason: res.Reason}
	}
	return DeliveryResult{Delivered: true}
}
