package relay

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/trackrelay/trackrelay/fetch"
	"github.com/trackrelay/trackrelay/metadata"
)

// fakeSink records uploads and returns a scripted result.
type fakeSink struct {
	result   SendResult
	err      error
	uploads  []Upload
	received []byte
}

func (s *fakeSink) Send(_ context.Context, up Upload) (SendResult, error) {
	s.uploads = append(s.uploads, up)
	if up.Body != nil {
		s.received, _ = io.ReadAll(up.Body)
	}
	return s.result, s.err
}

func newTestPayload(t *testing.T, content string) *fetch.AudioPayload {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.mp3")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return &fetch.AudioPayload{Path: path, Size: int64(len(content)), MimeType: "audio/mpeg", SourceProviderID: "direct"}
}

func TestDeliverSuccess(t *testing.T) {
	payload := newTestPayload(t, "audio-bytes")
	sink := &fakeSink{result: SendResult{Accepted: true}}
	label := metadata.TrackLabel{Title: "Song", Performer: "Artist"}

	res := Deliver(context.Background(), sink, payload, label)
	if !res.Delivered {
		t.Fatalf("result = %+v", res)
	}
	if len(sink.uploads) != 1 {
		t.Fatalf("sink called %d times, want exactly once", len(sink.uploads))
	}
	up := sink.uploads[0]
	if up.Title != "Song" || up.Performer != "Artist" {
		t.Errorf("upload label = %q/%q", up.Title, up.Performer)
	}
	if string(sink.received) != "audio-bytes" {
		t.Errorf("sink received %q", sink.received)
	}
	// The spool is released right after the attempt.
	if _, err := os.Stat(payload.Path); !os.IsNotExist(err) {
		t.Error("payload file still exists after delivery")
	}
}

func TestDeliverSinkRejection(t *testing.T) {
	payload := newTestPayload(t, "audio-bytes")
	sink := &fakeSink{result: SendResult{Accepted: false, Reason: "too large"}}

	res := Deliver(context.Background(), sink, payload, metadata.Placeholder())
	if res.Delivered {
		t.Fatal("delivered despite rejection")
	}
	if res.FailureReason != "too large" {
		t.Errorf("reason = %q", res.FailureReason)
	}
	if _, err := os.Stat(payload.Path); !os.IsNotExist(err) {
		t.Error("payload file still exists after rejected delivery")
	}
}

func TestDeliverSinkTransportError(t *testing.T) {
	payload := newTestPayload(t, "audio-bytes")
	sink := &fakeSink{err: errors.New("connection reset")}

	res := Deliver(context.Background(), sink, payload, metadata.Placeholder())
	if res.Delivered {
		t.Fatal("delivered despite sink error")
	}
	if _, err := os.Stat(payload.Path); !os.IsNotExist(err) {
		t.Error("payload file still exists after sink error")
	}
}

func TestDeliverMissingPayloadFile(t *testing.T) {
	payload := &fetch.AudioPayload{Path: filepath.Join(t.TempDir(), "gone.mp3"), Size: 10}
	sink := &fakeSink{result: SendResult{Accepted: true}}

	res := Deliver(context.Background(), sink, payload, metadata.Placeholder())
	if res.Delivered {
		t.Fatal("delivered with missing payload file")
	}
	if len(sink.uploads) != 0 {
		t.Error("sink called despite unreadable payload")
	}
}
